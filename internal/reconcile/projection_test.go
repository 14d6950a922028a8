package reconcile

import (
	"context"
	"testing"
	"time"

	"polarsync/internal/catalog"
	"polarsync/internal/types"
)

func newTestProjector() (*Projector, *fakeUserStore) {
	users := newFakeUserStore()
	return NewProjector(users, catalog.NewStaticProductCatalog(), nil), users
}

func TestAttach_IdempotentOnEmail(t *testing.T) {
	pr, users := newTestProjector()
	ctx := context.Background()
	id := Identity{Email: "a@x.com"}

	first, err := pr.Attach(ctx, id, &types.Payment{ID: "pay_1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := pr.Attach(ctx, id, &types.Payment{ID: "pay_1"})
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Error("second attach must reuse the existing user record")
	}
	if len(users.users) != 1 {
		t.Fatalf("users = %d, want 1", len(users.users))
	}
	if got := len(users.users["a@x.com"].PaymentIDs); got != 1 {
		t.Errorf("payment references = %d, want at most one per payment", got)
	}
}

func TestAttach_LinksNewIdentityFields(t *testing.T) {
	pr, users := newTestProjector()
	ctx := context.Background()

	if _, err := pr.Attach(ctx, Identity{Email: "a@x.com"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := pr.Attach(ctx, Identity{Email: "a@x.com", CustomerID: "cus_1", Name: "Ada"}, nil); err != nil {
		t.Fatal(err)
	}

	user := users.users["a@x.com"]
	if user.CustomerID != "cus_1" || user.Name != "Ada" {
		t.Errorf("identity fields not linked: %+v", user)
	}
}

func TestGrant_TierOnlyFromCatalog(t *testing.T) {
	pr, users := newTestProjector()
	ctx := context.Background()

	user, _ := pr.Attach(ctx, Identity{Email: "a@x.com"}, nil)

	if err := pr.Grant(ctx, user, "prod_pro_monthly", "sub_1", nil); err != nil {
		t.Fatal(err)
	}
	if users.users["a@x.com"].Tier != types.TierPro {
		t.Errorf("tier = %q, want pro", users.users["a@x.com"].Tier)
	}

	// Unknown products keep the tier and still record the subscription.
	if err := pr.Grant(ctx, user, "prod_mystery", "sub_2", nil); err != nil {
		t.Fatal(err)
	}
	got := users.users["a@x.com"]
	if got.Tier != types.TierPro {
		t.Errorf("tier = %q, unknown product must not change it", got.Tier)
	}
	if got.SubscriptionID != "sub_2" {
		t.Errorf("subscriptionId = %q", got.SubscriptionID)
	}
}

func TestRevoke_Unconditional(t *testing.T) {
	pr, users := newTestProjector()
	ctx := context.Background()
	ends := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	user, _ := pr.Attach(ctx, Identity{Email: "a@x.com"}, nil)
	if err := pr.Grant(ctx, user, "prod_enterprise", "sub_1", &ends); err != nil {
		t.Fatal(err)
	}

	if err := pr.Revoke(ctx, user); err != nil {
		t.Fatal(err)
	}

	got := users.users["a@x.com"]
	if got.Tier != types.TierFree {
		t.Errorf("tier = %q, want free", got.Tier)
	}
	if got.SubscriptionID != "" || got.SubscriptionEndsAt != nil {
		t.Errorf("subscription linkage not cleared: %+v", got)
	}
}
