// Package purge runs governed data disposal: expired records are hard-deleted
// or anonymized per the tenant's effective retention policy, with every record
// under an active legal hold left untouched.
package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"
)

// DefaultPageSize bounds one ListOlderThan page.
const DefaultPageSize = 2000

// Outcome labels per-record dispositions for metrics and logs.
const (
	OutcomePurged     = "purged"
	OutcomeAnonymized = "anonymized"
	OutcomeHeld       = "skipped_by_hold"
	OutcomeError      = "error"
)

// Observer is notified of run-level and record-level outcomes (metrics hook).
type Observer interface {
	RecordPurgeOutcome(ctx context.Context, tenantID string, entity string, outcome string)
	RecordRunDuration(ctx context.Context, tenantID string, status string, seconds float64)
}

// Engine executes purge runs for one tenant at a time.
type Engine struct {
	resolver *retention.Resolver
	holds    *hold.Registry
	records  store.RecordStore
	runs     store.RunStore
	logger   *slog.Logger
	clock    func() time.Time
	observer Observer
	pageSize int
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(resolver *retention.Resolver, holds *hold.Registry, records store.RecordStore, runs store.RunStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		resolver: resolver,
		holds:    holds,
		records:  records,
		runs:     runs,
		logger:   logger,
		clock:    time.Now,
		pageSize: DefaultPageSize,
	}
}

// WithClock overrides the clock for testing.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// WithObserver attaches a metrics observer.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// WithPageSize overrides the scan page size.
func (e *Engine) WithPageSize(n int) *Engine {
	if n > 0 {
		e.pageSize = n
	}
	return e
}

// Run executes one purge run. The run row is created RUNNING before any
// record is touched and finished exactly once; per-record failures are
// counted and skipped (best effort), while infrastructure failures, such as a
// page listing that cannot be read, abort the run as FAILED.
//
// Orders are anonymized rather than deleted: PII fields are cleared and a
// purge marker stamped, preserving the financial skeleton. Anonymized orders
// are excluded from future scans and never hard-deleted later. All other
// entities are hard-deleted.
func (e *Engine) Run(ctx context.Context, tenantID, actor string, trigger store.Trigger) (store.GovernanceRun, error) {
	if err := e.resolver.EnsureDefaultsSeeded(ctx, tenantID); err != nil {
		return store.GovernanceRun{}, fmt.Errorf("purge: seed defaults: %w", err)
	}
	effective, err := e.resolver.ResolveEffective(ctx, tenantID)
	if err != nil {
		return store.GovernanceRun{}, fmt.Errorf("purge: resolve retention: %w", err)
	}

	// Active holds are loaded once per run. A hold created mid-run applies
	// from the next run onward.
	activeHolds, err := e.holds.Active(ctx, tenantID)
	if err != nil {
		return store.GovernanceRun{}, fmt.Errorf("purge: load active holds: %w", err)
	}

	now := e.clock().UTC()
	run := store.GovernanceRun{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Trigger:   trigger,
		Actor:     actor,
		Status:    store.RunRunning,
		StartedAt: now,
		Summary:   store.NewRunSummary(),
	}
	for entity, eff := range effective {
		run.Summary.PolicySnapshot[entity] = eff.RetentionDays
	}
	if err := e.runs.CreateRun(ctx, run); err != nil {
		return store.GovernanceRun{}, fmt.Errorf("purge: create run: %w", err)
	}

	e.logger.Info("purge run started",
		"run_id", run.ID, "tenant_id", tenantID, "trigger", string(trigger), "actor", actor)

	var runErr error
	for _, entity := range retention.Entities {
		cutoff := now.AddDate(0, 0, -effective[entity].RetentionDays)
		if err := e.purgeEntity(ctx, &run, entity, cutoff, activeHolds); err != nil {
			runErr = fmt.Errorf("purge: %s: %w", entity, err)
			break
		}
	}

	finished := e.clock().UTC()
	run.FinishedAt = &finished
	if runErr != nil {
		run.Status = store.RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = store.RunDone
	}
	if err := e.runs.FinishRun(ctx, run); err != nil {
		if runErr != nil {
			return run, fmt.Errorf("purge: finish run after failure (%v): %w", runErr, err)
		}
		return run, fmt.Errorf("purge: finish run: %w", err)
	}

	if e.observer != nil {
		e.observer.RecordRunDuration(ctx, tenantID, string(run.Status), finished.Sub(now).Seconds())
	}
	e.logger.Info("purge run finished",
		"run_id", run.ID, "tenant_id", tenantID, "status", string(run.Status),
		"duration", finished.Sub(now).String())
	return run, runErr
}

// purgeEntity pages through expired records for one entity. Records that stay
// behind (held or failed) are remembered so paging terminates.
func (e *Engine) purgeEntity(ctx context.Context, run *store.GovernanceRun, entity retention.Entity, cutoff time.Time, activeHolds []hold.Hold) error {
	summary := run.Summary.Entities[entity]
	skipped := make(map[string]struct{})

	for {
		// Held and failed records stay in place, so the window widens by the
		// number already skipped to keep reaching fresh rows.
		limit := e.pageSize + len(skipped)
		page, err := e.records.ListOlderThan(ctx, run.TenantID, entity, cutoff, limit)
		if err != nil {
			return fmt.Errorf("list expired records: %w", err)
		}
		progressed := false
		for _, r := range page {
			if _, seen := skipped[r.ID]; seen {
				continue
			}
			progressed = true
			summary.Scanned++

			subject := subjectOf(r)
			if subject.Empty() {
				// Conservative: an unidentifiable record is counted but not
				// exempted; the hold check below can still match nothing.
				summary.UnresolvedIdentity++
				e.logger.Warn("record identity unresolved",
					"run_id", run.ID, "tenant_id", run.TenantID, "entity", string(entity), "record_id", r.ID)
			}
			if h, held := hold.Matches(activeHolds, subject, r.OccurredAt, entity); held {
				summary.SkippedByHold++
				skipped[r.ID] = struct{}{}
				e.observe(ctx, run.TenantID, entity, OutcomeHeld)
				e.logger.Info("record skipped by legal hold",
					"run_id", run.ID, "tenant_id", run.TenantID, "entity", string(entity),
					"record_id", r.ID, "hold_id", h.ID)
				continue
			}

			if entity == retention.EntityOrders {
				marker := store.PurgeMarker{RunID: run.ID, AnonymizedAt: e.clock().UTC()}
				if err := e.records.AnonymizeRecord(ctx, run.TenantID, r.ID, marker); err != nil {
					summary.Errors++
					skipped[r.ID] = struct{}{}
					e.observe(ctx, run.TenantID, entity, OutcomeError)
					e.logger.Error("anonymize failed",
						"run_id", run.ID, "tenant_id", run.TenantID, "record_id", r.ID, "error", err)
					continue
				}
				summary.Anonymized++
				e.observe(ctx, run.TenantID, entity, OutcomeAnonymized)
				continue
			}

			if err := e.records.DeleteRecord(ctx, run.TenantID, entity, r.ID); err != nil {
				summary.Errors++
				skipped[r.ID] = struct{}{}
				e.observe(ctx, run.TenantID, entity, OutcomeError)
				e.logger.Error("delete failed",
					"run_id", run.ID, "tenant_id", run.TenantID, "entity", string(entity),
					"record_id", r.ID, "error", err)
				continue
			}
			summary.Purged++
			e.observe(ctx, run.TenantID, entity, OutcomePurged)
		}
		if !progressed || len(page) < limit {
			return nil
		}
	}
}

func (e *Engine) observe(ctx context.Context, tenantID string, entity retention.Entity, outcome string) {
	if e.observer != nil {
		e.observer.RecordPurgeOutcome(ctx, tenantID, string(entity), outcome)
	}
}
