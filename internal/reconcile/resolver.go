package reconcile

import (
	"strings"

	"polarsync/internal/types"
)

// Identity is the outcome of identifier resolution: the canonical email key
// a user record is looked up or created under, plus whatever linking fields
// the event happened to carry.
type Identity struct {
	// Email is the lower-cased lookup key.
	Email      string
	Name       string
	CustomerID string
}

// ResolveIdentity produces the canonical user lookup key for an event,
// trying in order: the event's external customer-linking identifier, the
// event's customer email, the nested customer object's external id then
// email, and finally the email already stored on the payment being
// reconciled. The external identifier is the caller's own user key and is
// an email address by convention of the checkout-creation call.
//
// Resolution fails softly: ok is false when no identifier is present, and
// the caller proceeds without a user-side update. A payment is never
// dropped because its user cannot be resolved.
func ResolveIdentity(e *Event, existing *types.Payment) (Identity, bool) {
	var (
		id       Identity
		customer *CustomerRef
	)

	switch {
	case e.Checkout != nil:
		id.Email = firstNonEmpty(e.Checkout.CustomerExternalID, e.Checkout.CustomerEmail)
		id.CustomerID = e.Checkout.CustomerID
		customer = e.Checkout.Customer
	case e.Order != nil:
		id.Email = firstNonEmpty(e.Order.CustomerExternalID, e.Order.CustomerEmail)
		id.CustomerID = e.Order.CustomerID
		customer = e.Order.Customer
	case e.Subscription != nil:
		id.Email = e.Subscription.CustomerExternalID
		id.CustomerID = e.Subscription.CustomerID
		customer = e.Subscription.Customer
	case e.Customer != nil:
		id.Email = firstNonEmpty(e.Customer.ExternalID, e.Customer.Email)
		id.CustomerID = e.Customer.ID
		id.Name = e.Customer.Name
	}

	if customer != nil {
		if id.Email == "" {
			id.Email = firstNonEmpty(customer.ExternalID, customer.Email)
		}
		if id.CustomerID == "" {
			id.CustomerID = customer.ID
		}
		if id.Name == "" {
			id.Name = customer.Name
		}
	}

	if id.Email == "" && existing != nil {
		id.Email = existing.CustomerEmail
		if id.CustomerID == "" {
			id.CustomerID = existing.CustomerID
		}
	}

	if id.Email == "" {
		return Identity{}, false
	}
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	return id, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
