// Package store defines the persisted row models shared by the governance
// engines and provides two interchangeable backends: an in-memory store for
// tests and development, and a database/sql store for sqlite and postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Record is a governed business record: an order, a log line, an event, or a
// marketing send. Records are subjects of purge, not owned by this subsystem.
type Record struct {
	ID         string           `json:"id"`
	TenantID   string           `json:"tenant_id"`
	Entity     retention.Entity `json:"entity"`
	CustomerID string           `json:"customer_id,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	Email      string           `json:"email,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    map[string]any   `json:"payload,omitempty"`
	Anonymized bool             `json:"anonymized,omitempty"`
}

// PurgeMarker is the reversible tombstone stamped on anonymized orders.
type PurgeMarker struct {
	RunID        string    `json:"run_id"`
	AnonymizedAt time.Time `json:"anonymized_at"`
}

// Invoice is a tenant's billing invoice row. Invoices are not governed by
// retention; they are exported as their own e-discovery section.
type Invoice struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	CustomerID  string    `json:"customer_id,omitempty"`
	Number      string    `json:"number"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Customer is a tenant's customer row, consulted for hold subject validation.
type Customer struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// User is a tenant's platform user row.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// Trigger identifies what started a governance run.
type Trigger string

const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// RunStatus is the lifecycle state of a governance run. RUNNING transitions
// exactly once, to DONE or FAILED.
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunDone    RunStatus = "DONE"
	RunFailed  RunStatus = "FAILED"
)

// EntitySummary counts per-record outcomes for one governed entity.
type EntitySummary struct {
	Scanned            int `json:"scanned"`
	Purged             int `json:"purged"`
	Anonymized         int `json:"anonymized"`
	SkippedByHold      int `json:"skipped_by_hold"`
	UnresolvedIdentity int `json:"unresolved_identity"`
	Errors             int `json:"errors"`
}

// RunSummary is the run-level summary, including the policy snapshot used so
// the run remains auditable after policies change.
type RunSummary struct {
	Entities       map[retention.Entity]*EntitySummary `json:"entities"`
	PolicySnapshot map[retention.Entity]int            `json:"policy_snapshot"`
}

// NewRunSummary initializes a summary with zeroed counters for every entity.
func NewRunSummary() RunSummary {
	s := RunSummary{
		Entities:       make(map[retention.Entity]*EntitySummary, len(retention.Entities)),
		PolicySnapshot: make(map[retention.Entity]int, len(retention.Entities)),
	}
	for _, e := range retention.Entities {
		s.Entities[e] = &EntitySummary{}
	}
	return s
}

// GovernanceRun is one purge run row. Created RUNNING at start, finished
// exactly once; never partially persisted mid-run.
type GovernanceRun struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Trigger    Trigger    `json:"trigger"`
	Actor      string     `json:"actor,omitempty"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    RunSummary `json:"summary"`
	Error      string     `json:"error,omitempty"`
}

// RecordStore is the governed-record interface the purge engine and the
// discovery exporter walk.
type RecordStore interface {
	// ListOlderThan returns non-anonymized records with OccurredAt strictly
	// before cutoff, oldest first, capped at limit.
	ListOlderThan(ctx context.Context, tenantID string, entity retention.Entity, cutoff time.Time, limit int) ([]Record, error)
	// AnonymizeRecord clears PII fields in place and stamps the purge marker.
	AnonymizeRecord(ctx context.Context, tenantID, recordID string, marker PurgeMarker) error
	// DeleteRecord hard-deletes a record.
	DeleteRecord(ctx context.Context, tenantID string, entity retention.Entity, recordID string) error
	// ListRecords returns records for export sections, newest first.
	ListRecords(ctx context.Context, tenantID string, entity retention.Entity, limit int) ([]Record, error)
}

// InvoiceStore lists billing invoices for e-discovery export.
type InvoiceStore interface {
	PutInvoice(ctx context.Context, inv Invoice) error
	ListInvoices(ctx context.Context, tenantID string, limit int) ([]Invoice, error)
}

// RunStore persists governance runs.
type RunStore interface {
	CreateRun(ctx context.Context, run GovernanceRun) error
	FinishRun(ctx context.Context, run GovernanceRun) error
	GetRun(ctx context.Context, id string) (GovernanceRun, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]GovernanceRun, error)
	// MarkAbandoned flips RUNNING rows started before the deadline to FAILED
	// and returns how many were flipped. External watchdog for aborted runs.
	MarkAbandoned(ctx context.Context, startedBefore time.Time) (int, error)
}

// TenantStore lists and resolves tenants for sweeps and tier lookups.
type TenantStore interface {
	PutTenant(ctx context.Context, t tenants.Tenant) error
	GetTenant(ctx context.Context, id string) (tenants.Tenant, error)
	ListTenants(ctx context.Context) ([]tenants.Tenant, error)
}

// piiKeys are the payload fields cleared on anonymization, at the top level
// and one level down under "customer".
var piiKeys = []string{"name", "email", "phone", "address"}

// anonymizePayload clears PII keys and stamps the marker. Shared by both
// backends so anonymization semantics cannot drift.
func anonymizePayload(payload map[string]any, marker PurgeMarker) map[string]any {
	if payload == nil {
		payload = make(map[string]any)
	}
	for _, k := range piiKeys {
		delete(payload, k)
	}
	if customer, ok := payload["customer"].(map[string]any); ok {
		for _, k := range piiKeys {
			delete(customer, k)
		}
	}
	payload["purge_marker"] = map[string]any{
		"run_id":        marker.RunID,
		"anonymized_at": marker.AnonymizedAt.UTC().Format(time.RFC3339Nano),
	}
	return payload
}
