package purge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/custodian-labs/custodian/pkg/store"
)

// RunDeadline is how long a run may stay RUNNING before the watchdog marks it
// abandoned.
const RunDeadline = 6 * time.Hour

// Locker serializes purge runs per tenant across sweeper instances.
type Locker interface {
	// Acquire returns true when the lock was taken; false when another holder
	// has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisLocker implements Locker with SET NX. The TTL bounds lock lifetime if
// a sweeper dies mid-run; Release is best effort.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("purge: acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	return l.client.Del(ctx, key).Err()
}

// NoopLocker always acquires. Single-instance deployments and tests.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NoopLocker) Release(context.Context, string) error                        { return nil }

// Sweeper runs the scheduled sweep: the abandoned-run watchdog followed by
// one purge run per active tenant, paced and locked.
type Sweeper struct {
	engine   *Engine
	tenants  store.TenantStore
	runs     store.RunStore
	locker   Locker
	limiter  *rate.Limiter
	logger   *slog.Logger
	clock    func() time.Time
	disabled bool
}

// NewSweeper creates a Sweeper. A nil locker falls back to NoopLocker; a nil
// limiter paces at one tenant per second.
func NewSweeper(engine *Engine, tenants store.TenantStore, runs store.RunStore, locker Locker, logger *slog.Logger) *Sweeper {
	if locker == nil {
		locker = NoopLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:  engine,
		tenants: tenants,
		runs:    runs,
		locker:  locker,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
		clock:   time.Now,
	}
}

// WithLimiter overrides the pacing limiter.
func (s *Sweeper) WithLimiter(l *rate.Limiter) *Sweeper {
	s.limiter = l
	return s
}

// WithClock overrides the clock for testing.
func (s *Sweeper) WithClock(clock func() time.Time) *Sweeper {
	s.clock = clock
	return s
}

// Disable turns the sweep into a no-op (kill switch).
func (s *Sweeper) Disable() *Sweeper {
	s.disabled = true
	return s
}

func lockKey(tenantID string) string {
	return "custodian:purge:" + tenantID
}

// SweepAll marks abandoned runs, then runs the purge for every active tenant.
// Per-tenant failures are logged and do not stop the sweep; the first error
// is reported after all tenants were attempted.
func (s *Sweeper) SweepAll(ctx context.Context) error {
	if s.disabled {
		s.logger.Info("purge sweep disabled, skipping")
		return nil
	}

	deadline := s.clock().UTC().Add(-RunDeadline)
	if n, err := s.runs.MarkAbandoned(ctx, deadline); err != nil {
		s.logger.Error("abandoned-run watchdog failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("marked abandoned runs as failed", "count", n)
	}

	all, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("purge: list tenants: %w", err)
	}

	var firstErr error
	for _, t := range all {
		if !t.IsActive() {
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("purge: sweep cancelled: %w", err)
		}
		if err := s.sweepTenant(ctx, t.ID); err != nil {
			s.logger.Error("tenant sweep failed", "tenant_id", t.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Sweeper) sweepTenant(ctx context.Context, tenantID string) error {
	key := lockKey(tenantID)
	acquired, err := s.locker.Acquire(ctx, key, RunDeadline)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Info("tenant locked by another sweeper, skipping", "tenant_id", tenantID)
		return nil
	}
	defer func() {
		if err := s.locker.Release(ctx, key); err != nil {
			s.logger.Warn("lock release failed", "tenant_id", tenantID, "error", err)
		}
	}()

	_, err = s.engine.Run(ctx, tenantID, "scheduler", store.TriggerCron)
	return err
}
