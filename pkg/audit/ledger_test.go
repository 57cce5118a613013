package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/store"
)

// tickingClock returns strictly increasing timestamps so creation order is
// unambiguous in verification.
func tickingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newLedger(t *testing.T) (*audit.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ledger := audit.NewLedger(mem).WithClock(tickingClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	return ledger, mem
}

func appendN(t *testing.T, ledger *audit.Ledger, tenantID string, n int) []audit.Entry {
	t.Helper()
	out := make([]audit.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := ledger.Append(context.Background(), audit.AppendRequest{
			TenantID:   tenantID,
			Category:   audit.CategoryPricing,
			Action:     "price.update",
			Method:     "PUT",
			Route:      "/api/prices/42",
			StatusCode: 200,
			Payload:    map[string]any{"seq": i, "price": 100 + i},
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppendChainsEntries(t *testing.T) {
	ledger, _ := newLedger(t)
	entries := appendN(t, ledger, "t1", 3)

	assert.Empty(t, entries[0].PreviousHash, "first entry starts the chain")
	assert.Equal(t, entries[0].ChainHash, entries[1].PreviousHash)
	assert.Equal(t, entries[1].ChainHash, entries[2].PreviousHash)

	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.NotEmpty(t, e.PayloadHash)
		assert.NotEmpty(t, e.ChainHash)
		assert.Equal(t, "t1", e.TenantID)
	}
}

func TestAppendValidation(t *testing.T) {
	ledger, _ := newLedger(t)

	_, err := ledger.Append(context.Background(), audit.AppendRequest{
		Category: audit.CategoryPricing,
	})
	assert.Error(t, err, "tenant id required")

	_, err = ledger.Append(context.Background(), audit.AppendRequest{
		TenantID: "t1",
		Category: "bogus",
	})
	assert.Error(t, err, "unknown category rejected")
}

func TestChainsAreIndependentPerTenant(t *testing.T) {
	ledger, _ := newLedger(t)
	a := appendN(t, ledger, "tenant-a", 2)
	b := appendN(t, ledger, "tenant-b", 1)

	assert.Empty(t, b[0].PreviousHash, "tenant-b starts its own chain")
	assert.NotEqual(t, a[1].ChainHash, b[0].PreviousHash)
}

func TestVerifyChainOK(t *testing.T) {
	ledger, mem := newLedger(t)
	appendN(t, ledger, "t1", 5)

	entries, err := mem.QueryEntries(context.Background(), "t1", audit.QueryFilter{})
	require.NoError(t, err)

	res := audit.VerifyChain(entries)
	assert.True(t, res.OK)
	assert.Equal(t, 5, res.Count)
	assert.Equal(t, entries[len(entries)-1].ChainHash, res.TailHash)
}

func TestVerifyChainEmpty(t *testing.T) {
	res := audit.VerifyChain(nil)
	assert.True(t, res.OK)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.TailHash)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*audit.Entry)
		reason string
	}{
		{
			name:   "payload edited",
			mutate: func(e *audit.Entry) { e.Payload = map[string]any{"seq": 99, "price": 1} },
			reason: audit.ReasonPayloadHashMismatch,
		},
		{
			name:   "metadata edited",
			mutate: func(e *audit.Entry) { e.Action = "price.delete" },
			reason: audit.ReasonChainHashMismatch,
		},
		{
			name:   "link replaced",
			mutate: func(e *audit.Entry) { e.PreviousHash = "deadbeef" },
			reason: audit.ReasonPreviousHashMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mem := newLedger(t)
			appendN(t, ledger, "t1", 4)
			mem.MutateEntry("t1", 2, tt.mutate)

			entries, err := mem.QueryEntries(context.Background(), "t1", audit.QueryFilter{})
			require.NoError(t, err)

			res := audit.VerifyChain(entries)
			require.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, entries[2].ID, res.EntryID, "break reported at the tampered entry")
		})
	}
}

func TestVerifyChainDetectsDeletion(t *testing.T) {
	ledger, mem := newLedger(t)
	entries := appendN(t, ledger, "t1", 4)

	remaining, err := mem.QueryEntries(context.Background(), "t1", audit.QueryFilter{})
	require.NoError(t, err)
	// Drop the second entry: the third's previous link now dangles.
	pruned := append([]audit.Entry{remaining[0]}, remaining[2:]...)

	res := audit.VerifyChain(pruned)
	require.False(t, res.OK)
	assert.Equal(t, audit.ReasonPreviousHashMismatch, res.Reason)
	assert.Equal(t, entries[2].ID, res.EntryID)
}

func TestAggregateVersioning(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	req := audit.AppendRequest{
		TenantID:      "t1",
		Category:      audit.CategoryStock,
		Action:        "stock.adjust",
		AggregateType: "product",
		AggregateID:   "p-1",
		Payload:       map[string]any{"delta": 1},
	}
	first, err := ledger.Append(ctx, req)
	require.NoError(t, err)
	second, err := ledger.Append(ctx, req)
	require.NoError(t, err)

	other := req
	other.AggregateID = "p-2"
	otherFirst, err := ledger.Append(ctx, other)
	require.NoError(t, err)

	plain := req
	plain.AggregateType = ""
	plain.AggregateID = ""
	unversioned, err := ledger.Append(ctx, plain)
	require.NoError(t, err)

	require.NotNil(t, first.AggregateVersion)
	require.NotNil(t, second.AggregateVersion)
	require.NotNil(t, otherFirst.AggregateVersion)
	assert.EqualValues(t, 1, *first.AggregateVersion)
	assert.EqualValues(t, 2, *second.AggregateVersion)
	assert.EqualValues(t, 1, *otherFirst.AggregateVersion, "versions scoped per aggregate")
	assert.Nil(t, unversioned.AggregateVersion)
}

func TestConcurrentAppendsKeepOneChain(t *testing.T) {
	ledger, mem := newLedger(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := ledger.Append(ctx, audit.AppendRequest{
					TenantID: "t1",
					Category: audit.CategoryBilling,
					Action:   "invoice.issue",
					Payload:  map[string]any{"worker": w, "i": i},
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	entries, err := mem.QueryEntries(ctx, "t1", audit.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, workers*perWorker)

	res := audit.VerifyChain(entries)
	assert.True(t, res.OK, "no fork under concurrent appends: %s", res.Reason)
}

func TestQueryFiltersAndCaps(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	appendN(t, ledger, "t1", 3)
	_, err := ledger.Append(ctx, audit.AppendRequest{
		TenantID:    "t1",
		Category:    audit.CategoryConfiguration,
		Action:      "flag.toggle",
		Route:       "/api/Settings/flags",
		ActorUserID: "u-9",
		Payload:     map[string]any{"flag": "beta"},
	})
	require.NoError(t, err)

	byCategory, err := ledger.Query(ctx, "t1", audit.QueryFilter{Category: audit.CategoryConfiguration})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)
	assert.Equal(t, "flag.toggle", byCategory[0].Action)

	byRoute, err := ledger.Query(ctx, "t1", audit.QueryFilter{RouteContains: "settings"})
	require.NoError(t, err)
	assert.Len(t, byRoute, 1, "route match is case-insensitive")

	requests, err := ledger.Query(ctx, "t1", audit.QueryFilter{RequestsOnly: true})
	require.NoError(t, err)
	assert.Len(t, requests, 3, "only entries carrying an HTTP method")

	limited, err := ledger.Query(ctx, "t1", audit.QueryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := ledger.Query(ctx, "t1", audit.QueryFilter{ActorUserID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

type captureStore struct {
	*store.Memory
	lastFilter audit.QueryFilter
}

func (c *captureStore) QueryEntries(ctx context.Context, tenantID string, f audit.QueryFilter) ([]audit.Entry, error) {
	c.lastFilter = f
	return c.Memory.QueryEntries(ctx, tenantID, f)
}

func TestQueryBounds(t *testing.T) {
	cs := &captureStore{Memory: store.NewMemory()}
	ledger := audit.NewLedger(cs)
	ctx := context.Background()

	_, err := ledger.Query(ctx, "t1", audit.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, audit.MaxQueryLimit, cs.lastFilter.Limit)

	_, err = ledger.QueryForExport(ctx, "t1", audit.QueryFilter{})
	require.NoError(t, err)
	assert.Equal(t, audit.MaxExportLimit, cs.lastFilter.Limit)

	_, err = ledger.QueryForExport(ctx, "t1", audit.QueryFilter{Limit: audit.MaxQueryLimit + 1})
	require.NoError(t, err)
	assert.Equal(t, audit.MaxQueryLimit+1, cs.lastFilter.Limit,
		"export queries keep limits above the interactive cap")
}
