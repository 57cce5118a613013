package purge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/purge"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

// recordingLocker refuses configured keys and records acquisitions.
type recordingLocker struct {
	refused  map[string]bool
	acquired []string
	released []string
}

func (l *recordingLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if l.refused[key] {
		return false, nil
	}
	l.acquired = append(l.acquired, key)
	return true, nil
}

func (l *recordingLocker) Release(_ context.Context, key string) error {
	l.released = append(l.released, key)
	return nil
}

func newSweepFixture(t *testing.T) (*purge.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	clock := func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, mem.PutTenant(ctx, tenants.Tenant{ID: "t-active", Tier: tenants.TierPro, Status: tenants.StatusActive}))
	require.NoError(t, mem.PutTenant(ctx, tenants.Tenant{ID: "t-locked", Tier: tenants.TierPro, Status: tenants.StatusActive}))
	require.NoError(t, mem.PutTenant(ctx, tenants.Tenant{ID: "t-suspended", Tier: tenants.TierPro, Status: tenants.StatusSuspended}))

	registry := hold.NewRegistry(mem, mem).WithClock(clock)
	resolver := retention.NewResolver(mem, mem).WithClock(clock)
	engine := purge.NewEngine(resolver, registry, mem, mem, nil).WithClock(clock)
	return engine, mem
}

func TestSweepAllRunsActiveTenantsUnderLock(t *testing.T) {
	engine, mem := newSweepFixture(t)
	locker := &recordingLocker{refused: map[string]bool{"custodian:purge:t-locked": true}}

	sweeper := purge.NewSweeper(engine, mem, mem, locker, nil).
		WithLimiter(rate.NewLimiter(rate.Inf, 1)).
		WithClock(func() time.Time { return now })

	require.NoError(t, sweeper.SweepAll(context.Background()))

	assert.Equal(t, []string{"custodian:purge:t-active"}, locker.acquired)
	assert.Equal(t, locker.acquired, locker.released, "every acquired lock released")

	ctx := context.Background()
	runs, err := mem.ListRuns(ctx, "t-active", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.TriggerCron, runs[0].Trigger)
	assert.Equal(t, store.RunDone, runs[0].Status)

	lockedRuns, err := mem.ListRuns(ctx, "t-locked", 10)
	require.NoError(t, err)
	assert.Empty(t, lockedRuns, "contended tenant skipped")

	suspendedRuns, err := mem.ListRuns(ctx, "t-suspended", 10)
	require.NoError(t, err)
	assert.Empty(t, suspendedRuns, "suspended tenant skipped")
}

func TestSweepDisabled(t *testing.T) {
	engine, mem := newSweepFixture(t)
	sweeper := purge.NewSweeper(engine, mem, mem, nil, nil).
		WithLimiter(rate.NewLimiter(rate.Inf, 1)).
		Disable()

	require.NoError(t, sweeper.SweepAll(context.Background()))

	runs, err := mem.ListRuns(context.Background(), "t-active", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSweepMarksAbandonedRuns(t *testing.T) {
	engine, mem := newSweepFixture(t)
	ctx := context.Background()

	stale := store.GovernanceRun{
		ID: "run-stale", TenantID: "t-active", Trigger: store.TriggerCron,
		Status: store.RunRunning, StartedAt: now.Add(-8 * time.Hour),
		Summary: store.NewRunSummary(),
	}
	recent := store.GovernanceRun{
		ID: "run-recent", TenantID: "t-active", Trigger: store.TriggerCron,
		Status: store.RunRunning, StartedAt: now.Add(-time.Hour),
		Summary: store.NewRunSummary(),
	}
	require.NoError(t, mem.CreateRun(ctx, stale))
	require.NoError(t, mem.CreateRun(ctx, recent))

	sweeper := purge.NewSweeper(engine, mem, mem, nil, nil).
		WithLimiter(rate.NewLimiter(rate.Inf, 1)).
		WithClock(func() time.Time { return now })
	require.NoError(t, sweeper.SweepAll(ctx))

	got, err := mem.GetRun(ctx, "run-stale")
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, got.Status)
	assert.Contains(t, got.Error, "abandoned")

	got, err = mem.GetRun(ctx, "run-recent")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, got.Status, "runs inside the deadline untouched")
}
