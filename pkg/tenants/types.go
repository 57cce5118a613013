// Package tenants defines tenant identity and subscription tiers.
// Retention windows are derived from the tier; see pkg/retention.
package tenants

import "time"

// TierID identifies a subscription tier.
type TierID string

const (
	TierStarter    TierID = "starter"
	TierPro        TierID = "pro"
	TierEnterprise TierID = "enterprise"
)

// NormalizeTier maps unknown or missing tier input to the pro baseline.
func NormalizeTier(t TierID) TierID {
	switch t {
	case TierStarter, TierPro, TierEnterprise:
		return t
	default:
		return TierPro
	}
}

// Status represents the current status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// Tenant is a platform tenant subject to governance.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Tier      TierID    `json:"tier"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// IsActive reports whether the tenant participates in purge sweeps.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive
}
