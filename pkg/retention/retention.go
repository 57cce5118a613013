// Package retention resolves per-entity retention windows for a tenant.
//
// A built-in matrix keyed by subscription tier supplies defaults; explicit
// policy rows stored per (tenant, tier, entity) override them.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/custodian-labs/custodian/pkg/tenants"
)

// Entity is a governed entity type subject to retention policy and hold checks.
type Entity string

const (
	EntityOrders    Entity = "orders"
	EntityLogs      Entity = "logs"
	EntityEvents    Entity = "events"
	EntityMarketing Entity = "marketing"
)

// Entities lists all governed entity types in purge-run order.
var Entities = []Entity{EntityOrders, EntityLogs, EntityEvents, EntityMarketing}

// Valid reports whether e is a governed entity type.
func (e Entity) Valid() bool {
	switch e {
	case EntityOrders, EntityLogs, EntityEvents, EntityMarketing:
		return true
	}
	return false
}

// defaultMatrix holds the built-in retention-days defaults (tier × entity).
var defaultMatrix = map[tenants.TierID]map[Entity]int{
	tenants.TierStarter: {
		EntityOrders:    365,
		EntityLogs:      90,
		EntityEvents:    180,
		EntityMarketing: 30,
	},
	tenants.TierPro: {
		EntityOrders:    730,
		EntityLogs:      180,
		EntityEvents:    365,
		EntityMarketing: 90,
	},
	tenants.TierEnterprise: {
		EntityOrders:    1825,
		EntityLogs:      365,
		EntityEvents:    730,
		EntityMarketing: 180,
	},
}

// DefaultDays returns the built-in retention window for (tier, entity).
// Unknown tiers normalize to pro.
func DefaultDays(tier tenants.TierID, entity Entity) int {
	return defaultMatrix[tenants.NormalizeTier(tier)][entity]
}

// Policy is a retention policy row.
// Invariant: one row per (tenant, tier, entity); the store deduplicates,
// and the resolver tolerates benign duplicates by taking the first match.
// IsDefault marks rows created by the seeding bootstrap; only rows written
// through SetOverride count as operator overrides.
type Policy struct {
	TenantID      string         `json:"tenant_id"`
	Tier          tenants.TierID `json:"tier"`
	Entity        Entity         `json:"entity"`
	RetentionDays int            `json:"retention_days"`
	IsDefault     bool           `json:"is_default"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Source tags where an effective retention value came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceOverride Source = "override"
)

// Effective is the resolved retention window for one entity.
type Effective struct {
	RetentionDays int    `json:"retention_days"`
	Source        Source `json:"source"`
}

// Store persists policy rows.
type Store interface {
	CountPolicies(ctx context.Context, tenantID string) (int, error)
	InsertPolicy(ctx context.Context, p Policy) error
	UpsertPolicy(ctx context.Context, p Policy) error
	ListPolicies(ctx context.Context, tenantID string, tier tenants.TierID) ([]Policy, error)
}

// TenantGetter supplies the tenant's current tier.
type TenantGetter interface {
	GetTenant(ctx context.Context, id string) (tenants.Tenant, error)
}

// Resolver derives effective retention windows.
type Resolver struct {
	store   Store
	tenants TenantGetter
	clock   func() time.Time
}

// NewResolver creates a Resolver over the given stores.
func NewResolver(store Store, tg TenantGetter) *Resolver {
	return &Resolver{store: store, tenants: tg, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// EnsureDefaultsSeeded bulk-creates one row per (tier × entity) from the
// default matrix if the tenant has no policy rows yet. The row-count guard is
// not transactional; the store must deduplicate concurrent first seeds (unique
// key + ignore conflict) and the resolver tolerates duplicates regardless.
func (r *Resolver) EnsureDefaultsSeeded(ctx context.Context, tenantID string) error {
	n, err := r.store.CountPolicies(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("retention: count policies: %w", err)
	}
	if n > 0 {
		return nil
	}
	now := r.clock().UTC()
	for tier, byEntity := range defaultMatrix {
		for entity, days := range byEntity {
			p := Policy{TenantID: tenantID, Tier: tier, Entity: entity, RetentionDays: days, IsDefault: true, CreatedAt: now}
			if err := r.store.InsertPolicy(ctx, p); err != nil {
				return fmt.Errorf("retention: seed %s/%s: %w", tier, entity, err)
			}
		}
	}
	return nil
}

// ResolveEffective returns, per governed entity, the retention window for the
// tenant's current tier: an explicit row when one exists, the built-in default
// otherwise.
func (r *Resolver) ResolveEffective(ctx context.Context, tenantID string) (map[Entity]Effective, error) {
	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("retention: load tenant %s: %w", tenantID, err)
	}
	tier := tenants.NormalizeTier(tenant.Tier)

	rows, err := r.store.ListPolicies(ctx, tenantID, tier)
	if err != nil {
		return nil, fmt.Errorf("retention: list policies: %w", err)
	}
	explicit := make(map[Entity]Policy, len(rows))
	for _, p := range rows {
		if _, seen := explicit[p.Entity]; !seen {
			explicit[p.Entity] = p
		}
	}

	out := make(map[Entity]Effective, len(Entities))
	for _, entity := range Entities {
		if p, ok := explicit[entity]; ok && !p.IsDefault {
			out[entity] = Effective{RetentionDays: p.RetentionDays, Source: SourceOverride}
			continue
		}
		out[entity] = Effective{RetentionDays: defaultMatrix[tier][entity], Source: SourceDefault}
	}
	return out, nil
}

// SetOverride validates and upserts an explicit policy row.
func (r *Resolver) SetOverride(ctx context.Context, p Policy) error {
	if !p.Entity.Valid() {
		return fmt.Errorf("retention: unknown entity %q", p.Entity)
	}
	if p.RetentionDays < 1 {
		return fmt.Errorf("retention: retention days must be >= 1, got %d", p.RetentionDays)
	}
	p.Tier = tenants.NormalizeTier(p.Tier)
	p.IsDefault = false
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.clock().UTC()
	}
	return r.store.UpsertPolicy(ctx, p)
}
