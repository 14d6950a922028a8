// Package catalog provides product reference data for mapping provider
// product identifiers to subscription tiers.
package catalog

import "polarsync/internal/types"

// ProductCatalog is the authoritative mapping from provider product ids to
// the entitlement they grant. Tier changes flow only through this lookup;
// an event naming an unknown product never changes a user's tier.
type ProductCatalog interface {
	// Lookup returns the product for the given provider product id.
	// The second return is false for unknown ids.
	Lookup(productID string) (types.Product, bool)
}

// staticProductCatalog is a compile-time catalog backed by an in-memory map.
// It implements ProductCatalog and is the standard implementation for
// production use.
type staticProductCatalog struct {
	products map[string]types.Product
}

// productDefaults lists the sellable products as configured in the provider
// dashboard. The ids are stable across sandbox and production because both
// environments are seeded from the same catalog export.
var productDefaults = map[string]types.Product{
	"prod_pro_monthly": {
		ID:   "prod_pro_monthly",
		Name: "Pro (Monthly)",
		Tier: types.TierPro,
	},
	"prod_pro_yearly": {
		ID:   "prod_pro_yearly",
		Name: "Pro (Yearly)",
		Tier: types.TierPro,
	},
	"prod_pro_lifetime": {
		ID:   "prod_pro_lifetime",
		Name: "Pro (Lifetime)",
		Tier: types.TierPro,
	},
	"prod_enterprise": {
		ID:   "prod_enterprise",
		Name: "Enterprise",
		Tier: types.TierEnterprise,
	},
}

// NewStaticProductCatalog returns a ProductCatalog backed by the built-in
// product table, optionally extended by extra entries (used by tests and
// for region-specific products). Extra entries override built-ins on id
// collision.
func NewStaticProductCatalog(extra ...types.Product) ProductCatalog {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[string]types.Product, len(productDefaults)+len(extra))
	for k, v := range productDefaults {
		m[k] = v
	}
	for _, p := range extra {
		m[p.ID] = p
	}
	return &staticProductCatalog{products: m}
}

// Lookup returns the product for the given provider product id.
func (c *staticProductCatalog) Lookup(productID string) (types.Product, bool) {
	p, ok := c.products[productID]
	return p, ok
}
