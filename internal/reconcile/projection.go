package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polarsync/internal/catalog"
	"polarsync/internal/types"
)

// UserStore is the subset of the user repository the projection needs.
type UserStore interface {
	// GetOrCreate returns the user for the given email, creating a
	// free-tier record when none exists. Creation must be idempotent on
	// the case-normalized email.
	GetOrCreate(ctx context.Context, u *types.User) (*types.User, error)

	// Update persists the projected fields of a user row.
	Update(ctx context.Context, u *types.User) error
}

// Projector derives user records from ledger transitions: identity linkage,
// the owned-payments list, and the subscription tier. Tier values come only
// from the product catalog; events naming unknown products leave the tier
// untouched.
type Projector struct {
	users   UserStore
	catalog catalog.ProductCatalog
	logger  *slog.Logger
}

// NewProjector creates a Projector with the provided dependencies.
func NewProjector(users UserStore, cat catalog.ProductCatalog, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{users: users, catalog: cat, logger: logger}
}

// Attach finds or lazily creates the user for the resolved identity, links
// any newly known identity fields, and appends the payment reference at most
// once. A nil payment attaches identity only (customer events carry no
// payment).
func (pr *Projector) Attach(ctx context.Context, id Identity, payment *types.Payment) (*types.User, error) {
	user, err := pr.users.GetOrCreate(ctx, &types.User{
		ID:    uuid.NewString(),
		Email: id.Email,
		Name:  id.Name,
		Tier:  types.TierFree,
	})
	if err != nil {
		return nil, err
	}

	changed := false
	if user.CustomerID == "" && id.CustomerID != "" {
		user.CustomerID = id.CustomerID
		changed = true
	}
	if user.Name == "" && id.Name != "" {
		user.Name = id.Name
		changed = true
	}
	if payment != nil && !user.PaymentIDs.Contains(payment.ID) {
		user.PaymentIDs = user.PaymentIDs.Append(payment.ID)
		changed = true
	}

	if changed {
		if err := pr.users.Update(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Grant sets the user's tier to the one the product catalog assigns to the
// given product id, and records the active subscription linkage. An unknown
// product id leaves the tier unchanged; the subscription linkage still
// applies since it comes from the event, not the catalog.
func (pr *Projector) Grant(ctx context.Context, user *types.User, productID, subscriptionID string, periodEnd *time.Time) error {
	changed := false

	if product, ok := pr.catalog.Lookup(productID); ok {
		if user.Tier != product.Tier {
			user.Tier = product.Tier
			changed = true
		}
	} else if productID != "" {
		pr.logger.WarnContext(ctx, "unknown product id, leaving tier unchanged",
			"product_id", productID,
			"user_email", user.Email,
		)
	}

	if subscriptionID != "" && user.SubscriptionID != subscriptionID {
		user.SubscriptionID = subscriptionID
		changed = true
	}
	if periodEnd != nil {
		user.SubscriptionEndsAt = periodEnd
		changed = true
	}

	if !changed {
		return nil
	}
	return pr.users.Update(ctx, user)
}

// Revoke forces the user back to the free tier and clears the subscription
// linkage. Applied unconditionally on cancellation and on benefit-revoking
// refunds.
func (pr *Projector) Revoke(ctx context.Context, user *types.User) error {
	if user.Tier == types.TierFree && user.SubscriptionID == "" && user.SubscriptionEndsAt == nil {
		return nil
	}
	user.Tier = types.TierFree
	user.SubscriptionID = ""
	user.SubscriptionEndsAt = nil
	return pr.users.Update(ctx, user)
}
