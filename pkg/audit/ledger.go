package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/canonicalize"
)

// Store persists ledger entries. Entries are append-only: no update or delete
// operations exist.
type Store interface {
	InsertEntry(ctx context.Context, e Entry) error
	// TailHash returns the chain hash of the tenant's most recent entry, or
	// empty when the tenant has no entries yet.
	TailHash(ctx context.Context, tenantID string) (string, error)
	// LatestAggregateVersion returns the highest version for
	// (tenant, aggregate type, aggregate id), or 0 when none exists.
	LatestAggregateVersion(ctx context.Context, tenantID, aggregateType, aggregateID string) (int64, error)
	// QueryEntries returns matching entries in creation order.
	QueryEntries(ctx context.Context, tenantID string, filter QueryFilter) ([]Entry, error)
}

// AppendObserver is notified of successful appends (metrics hook).
type AppendObserver interface {
	RecordAppend(ctx context.Context, tenantID string, category string)
}

// VerifyObserver is notified when a chain verification finds a break.
// Observers that also implement it get verification failures reported.
type VerifyObserver interface {
	RecordVerifyFailure(ctx context.Context, tenantID string, reason string)
}

// Ledger maintains one hash chain per tenant.
//
// Append is a read-tail-then-write sequence; two concurrent appends for the
// same tenant that read the same tail would fork the chain into two
// internally valid but diverging branches. Appends are therefore serialized
// per tenant; cross-tenant appends proceed in parallel.
type Ledger struct {
	store    Store
	clock    func() time.Time
	observer AppendObserver

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:       store,
		clock:       time.Now,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// WithObserver attaches a metrics observer.
func (l *Ledger) WithObserver(o AppendObserver) *Ledger {
	l.observer = o
	return l
}

func (l *Ledger) tenantLock(tenantID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.tenantLocks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		l.tenantLocks[tenantID] = lock
	}
	return lock
}

// Append creates a new immutable entry chained onto the tenant's tail.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (Entry, error) {
	if req.TenantID == "" {
		return Entry{}, fmt.Errorf("audit: tenant id is required")
	}
	if !req.Category.Valid() {
		return Entry{}, fmt.Errorf("audit: unknown category %q", req.Category)
	}

	lock := l.tenantLock(req.TenantID)
	lock.Lock()
	defer lock.Unlock()

	tail, err := l.store.TailHash(ctx, req.TenantID)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: read chain tail: %w", err)
	}

	var aggregateVersion *int64
	if req.AggregateType != "" && req.AggregateID != "" {
		latest, err := l.store.LatestAggregateVersion(ctx, req.TenantID, req.AggregateType, req.AggregateID)
		if err != nil {
			return Entry{}, fmt.Errorf("audit: read aggregate version: %w", err)
		}
		next := latest + 1
		aggregateVersion = &next
	}

	payloadHash, err := canonicalize.CanonicalHash(req.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: hash payload: %w", err)
	}

	entry := Entry{
		ID:               uuid.New().String(),
		TenantID:         req.TenantID,
		Category:         req.Category,
		Action:           req.Action,
		Method:           req.Method,
		Route:            req.Route,
		StatusCode:       req.StatusCode,
		ActorUserID:      req.ActorUserID,
		ActorRole:        req.ActorRole,
		AggregateType:    req.AggregateType,
		AggregateID:      req.AggregateID,
		AggregateVersion: aggregateVersion,
		Payload:          req.Payload,
		PayloadHash:      payloadHash,
		PreviousHash:     tail,
		CreatedAt:        l.clock().UTC(),
	}

	meta, err := metadataCanonical(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: canonicalize metadata: %w", err)
	}
	entry.ChainHash = canonicalize.ChainHash(tail, payloadHash, meta)

	if err := l.store.InsertEntry(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("audit: persist entry: %w", err)
	}
	if l.observer != nil {
		l.observer.RecordAppend(ctx, entry.TenantID, string(entry.Category))
	}
	return entry, nil
}

// metadataCanonical renders the chain-hash metadata block: every entry field
// except the payload and the hashes themselves.
func metadataCanonical(e Entry) (string, error) {
	var aggregateVersion any
	if e.AggregateVersion != nil {
		aggregateVersion = *e.AggregateVersion
	}
	meta := map[string]any{
		"id":                e.ID,
		"tenant_id":         e.TenantID,
		"category":          string(e.Category),
		"action":            e.Action,
		"method":            e.Method,
		"route":             e.Route,
		"status_code":       e.StatusCode,
		"actor_user_id":     e.ActorUserID,
		"actor_role":        e.ActorRole,
		"aggregate_type":    e.AggregateType,
		"aggregate_id":      e.AggregateID,
		"aggregate_version": aggregateVersion,
		"created_at":        e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	return canonicalize.JCSString(meta)
}

// VerifyChain walks the entries in creation order, recomputing every link.
// It short-circuits at the first break.
func VerifyChain(entries []Entry) ChainResult {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	expectedPrevious := ""
	for _, e := range sorted {
		if e.PreviousHash != expectedPrevious {
			return ChainResult{Reason: ReasonPreviousHashMismatch, EntryID: e.ID}
		}
		payloadHash, err := canonicalize.CanonicalHash(e.Payload)
		if err != nil || payloadHash != e.PayloadHash {
			return ChainResult{Reason: ReasonPayloadHashMismatch, EntryID: e.ID}
		}
		meta, err := metadataCanonical(e)
		if err != nil {
			return ChainResult{Reason: ReasonChainHashMismatch, EntryID: e.ID}
		}
		if canonicalize.ChainHash(e.PreviousHash, payloadHash, meta) != e.ChainHash {
			return ChainResult{Reason: ReasonChainHashMismatch, EntryID: e.ID}
		}
		expectedPrevious = e.ChainHash
	}
	return ChainResult{OK: true, Count: len(sorted), TailHash: expectedPrevious}
}

// Query returns matching entries, capped at MaxQueryLimit.
func (l *Ledger) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > MaxQueryLimit {
		filter.Limit = MaxQueryLimit
	}
	return l.store.QueryEntries(ctx, tenantID, filter)
}

// QueryForExport returns matching entries under the larger export bound.
func (l *Ledger) QueryForExport(ctx context.Context, tenantID string, filter QueryFilter) ([]Entry, error) {
	if filter.Limit <= 0 || filter.Limit > MaxExportLimit {
		filter.Limit = MaxExportLimit
	}
	return l.store.QueryEntries(ctx, tenantID, filter)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
