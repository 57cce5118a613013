package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

// Memory is the in-memory backend. It satisfies every store interface the
// engines consume, and is the backend of choice for tests and local
// development.
type Memory struct {
	mu sync.RWMutex

	entries   map[string][]audit.Entry // tenant → entries in append order
	holds     map[string]hold.Hold
	holdOrder []string
	policies  []retention.Policy
	runs      map[string]GovernanceRun
	runOrder  []string
	records   map[string][]Record // tenant → records
	invoices  map[string][]Invoice
	customers map[string]Customer // tenant/id key
	users     map[string]User
	tenants   map[string]tenants.Tenant
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[string][]audit.Entry),
		holds:     make(map[string]hold.Hold),
		runs:      make(map[string]GovernanceRun),
		records:   make(map[string][]Record),
		invoices:  make(map[string][]Invoice),
		customers: make(map[string]Customer),
		users:     make(map[string]User),
		tenants:   make(map[string]tenants.Tenant),
	}
}

func scopedKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// ── audit.Store ───────────────────────────────────────────────

func (m *Memory) InsertEntry(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.TenantID] = append(m.entries[e.TenantID], e)
	return nil
}

func (m *Memory) TailHash(_ context.Context, tenantID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.entries[tenantID]
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].ChainHash, nil
}

func (m *Memory) LatestAggregateVersion(_ context.Context, tenantID, aggregateType, aggregateID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest int64
	for _, e := range m.entries[tenantID] {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID && e.AggregateVersion != nil && *e.AggregateVersion > latest {
			latest = *e.AggregateVersion
		}
	}
	return latest, nil
}

func (m *Memory) QueryEntries(_ context.Context, tenantID string, filter audit.QueryFilter) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]audit.Entry, 0)
	for _, e := range m.entries[tenantID] {
		if filter.Matches(e) {
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// MutateEntry alters a stored entry in place. Test hook for tamper scenarios;
// the public interfaces expose no mutation path.
func (m *Memory) MutateEntry(tenantID string, index int, mutate func(*audit.Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.entries[tenantID][index])
}

// ── hold.Store + hold.SubjectDirectory ────────────────────────

func (m *Memory) InsertHold(_ context.Context, h hold.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds[h.ID] = h
	m.holdOrder = append(m.holdOrder, h.ID)
	return nil
}

func (m *Memory) GetHold(_ context.Context, id string) (hold.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.holds[id]
	if !ok {
		return hold.Hold{}, hold.ErrNotFound
	}
	return h, nil
}

func (m *Memory) UpdateHold(_ context.Context, h hold.Hold) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.holds[h.ID]; !ok {
		return hold.ErrNotFound
	}
	m.holds[h.ID] = h
	return nil
}

func (m *Memory) ListHolds(_ context.Context, tenantID string) ([]hold.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]hold.Hold, 0)
	for _, id := range m.holdOrder {
		if h := m.holds[id]; h.TenantID == tenantID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListActiveHolds(_ context.Context, tenantID string) ([]hold.Hold, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]hold.Hold, 0)
	for _, id := range m.holdOrder {
		if h := m.holds[id]; h.TenantID == tenantID && h.Status == hold.StatusActive {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) CustomerEmail(_ context.Context, tenantID, customerID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[scopedKey(tenantID, customerID)]
	if !ok {
		return "", false, nil
	}
	return c.Email, true, nil
}

func (m *Memory) UserEmail(_ context.Context, tenantID, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[scopedKey(tenantID, userID)]
	if !ok {
		return "", false, nil
	}
	return u.Email, true, nil
}

// PutCustomer seeds a customer row.
func (m *Memory) PutCustomer(c Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[scopedKey(c.TenantID, c.ID)] = c
}

// PutUser seeds a user row.
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[scopedKey(u.TenantID, u.ID)] = u
}

// ── retention.Store + retention.TenantGetter ──────────────────

func policyKey(p retention.Policy) string {
	return p.TenantID + "/" + string(p.Tier) + "/" + string(p.Entity)
}

func (m *Memory) CountPolicies(_ context.Context, tenantID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.policies {
		if p.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InsertPolicy(_ context.Context, p retention.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Unique (tenant, tier, entity): concurrent double-seed is benign.
	for _, existing := range m.policies {
		if policyKey(existing) == policyKey(p) {
			return nil
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func (m *Memory) UpsertPolicy(_ context.Context, p retention.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.policies {
		if policyKey(existing) == policyKey(p) {
			m.policies[i] = p
			return nil
		}
	}
	m.policies = append(m.policies, p)
	return nil
}

func (m *Memory) ListPolicies(_ context.Context, tenantID string, tier tenants.TierID) ([]retention.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]retention.Policy, 0)
	for _, p := range m.policies {
		if p.TenantID == tenantID && p.Tier == tier {
			out = append(out, p)
		}
	}
	return out, nil
}

// ── RecordStore ───────────────────────────────────────────────

func (m *Memory) ListOlderThan(_ context.Context, tenantID string, entity retention.Entity, cutoff time.Time, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records[tenantID] {
		if r.Entity == entity && !r.Anonymized && r.OccurredAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AnonymizeRecord(_ context.Context, tenantID, recordID string, marker PurgeMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.records[tenantID]
	for i := range records {
		if records[i].ID == recordID {
			records[i].Payload = anonymizePayload(records[i].Payload, marker)
			records[i].Email = ""
			records[i].Anonymized = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) DeleteRecord(_ context.Context, tenantID string, entity retention.Entity, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.records[tenantID]
	for i := range records {
		if records[i].ID == recordID && records[i].Entity == entity {
			m.records[tenantID] = append(records[:i], records[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListRecords(_ context.Context, tenantID string, entity retention.Entity, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, r := range m.records[tenantID] {
		if r.Entity == entity {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PutRecord seeds a governed record.
func (m *Memory) PutRecord(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.TenantID] = append(m.records[r.TenantID], r)
}

// GetRecord returns a record by id, for assertions.
func (m *Memory) GetRecord(tenantID, recordID string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records[tenantID] {
		if r.ID == recordID {
			return r, true
		}
	}
	return Record{}, false
}

// ── InvoiceStore ──────────────────────────────────────────────

func (m *Memory) PutInvoice(_ context.Context, inv Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.TenantID] = append(m.invoices[inv.TenantID], inv)
	return nil
}

func (m *Memory) ListInvoices(_ context.Context, tenantID string, limit int) ([]Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Invoice, 0, len(m.invoices[tenantID]))
	out = append(out, m.invoices[tenantID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ── RunStore ──────────────────────────────────────────────────

func (m *Memory) CreateRun(_ context.Context, run GovernanceRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

func (m *Memory) FinishRun(_ context.Context, run GovernanceRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; !ok {
		return ErrNotFound
	}
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (GovernanceRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return GovernanceRun{}, ErrNotFound
	}
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, tenantID string, limit int) ([]GovernanceRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]GovernanceRun, 0)
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		if run := m.runs[m.runOrder[i]]; run.TenantID == tenantID {
			out = append(out, run)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkAbandoned(_ context.Context, startedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, run := range m.runs {
		if run.Status == RunRunning && run.StartedAt.Before(startedBefore) {
			now := time.Now().UTC()
			run.Status = RunFailed
			run.FinishedAt = &now
			run.Error = "abandoned: exceeded run deadline"
			m.runs[id] = run
			n++
		}
	}
	return n, nil
}

// ── TenantStore ───────────────────────────────────────────────

func (m *Memory) PutTenant(_ context.Context, t tenants.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[t.ID] = t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id string) (tenants.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[id]
	if !ok {
		return tenants.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListTenants(_ context.Context) ([]tenants.Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]tenants.Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].ID, out[j].ID) < 0 })
	return out, nil
}
