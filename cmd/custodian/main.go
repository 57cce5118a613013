package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/auth"
	"github.com/custodian-labs/custodian/pkg/config"
	"github.com/custodian-labs/custodian/pkg/discovery"
	"github.com/custodian-labs/custodian/pkg/evidence"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/observability"
	"github.com/custodian-labs/custodian/pkg/purge"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "purge":
		return runPurgeCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "ediscovery":
		return runDiscoveryCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "hold":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: custodian hold <create|list|release>")
			return 2
		}
		return runHoldCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: custodian <command> [flags]

Commands:
  purge       Run the retention purge for one tenant
  sweep       Run the scheduled purge sweep over all active tenants
  export      Export a signed audit evidence pack
  ediscovery  Export a full e-discovery pack for one tenant
  verify      Verify an evidence pack file
  hold        Manage legal holds (create|list|release)`)
}

// app bundles the wired subsystems shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *store.SQL
	ledger    *audit.Ledger
	resolver  *retention.Resolver
	holds     *hold.Registry
	builder   *evidence.Builder
	discovery *discovery.Service
	engine    *purge.Engine
	telemetry *observability.Provider
}

func newApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg := config.Load()
	logger := newLogger(cfg, stderr)

	driver := cfg.DatabaseDriver
	if driver == "postgresql" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.NewSQL(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	builder, err := evidence.NewBuilder(cfg.EvidenceSecret, !cfg.IsProduction())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("evidence builder: %w", err)
	}

	ledger := audit.NewLedger(st)
	resolver := retention.NewResolver(st, st)
	holds := hold.NewRegistry(st, st)
	engine := purge.NewEngine(resolver, holds, st, st, logger)

	var telemetry *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		obsCfg.Environment = cfg.Env
		obsCfg.Insecure = !cfg.IsProduction()
		telemetry, err = observability.New(ctx, obsCfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("observability: %w", err)
		}
		ledger = ledger.WithObserver(telemetry)
		engine = engine.WithObserver(telemetry)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     st,
		ledger:    ledger,
		resolver:  resolver,
		holds:     holds,
		builder:   builder,
		discovery: discovery.New(builder, ledger, holds, st),
		engine:    engine,
		telemetry: telemetry,
	}, nil
}

func (a *app) close() {
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(context.Background())
	}
	_ = a.db.Close()
}

// resolveActor determines the acting operator. With a bearer token the
// token's subject is used and the action is bound to the token's tenant;
// otherwise the explicit actor value is required.
func (a *app) resolveActor(token, actor, tenantID string) (string, error) {
	if token == "" {
		if actor == "" {
			return "", errors.New("an actor is required when no token is given")
		}
		return actor, nil
	}
	p, err := auth.NewVerifier(a.cfg.AuthSecret).Parse(token)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if p.TenantID != tenantID {
		return "", fmt.Errorf("token is bound to tenant %s, not %s", p.TenantID, tenantID)
	}
	return p.UserID, nil
}

// applyRetentionProfiles persists YAML-declared retention overrides, when a
// profiles directory is configured, before any purge work starts.
func (a *app) applyRetentionProfiles(ctx context.Context) error {
	if a.cfg.ProfilesDir == "" {
		return nil
	}
	profiles, err := config.LoadAllProfiles(a.cfg.ProfilesDir)
	if err != nil {
		return fmt.Errorf("load retention profiles: %w", err)
	}
	for _, profile := range profiles {
		policies, err := profile.Policies()
		if err != nil {
			return err
		}
		for _, p := range policies {
			if err := a.resolver.SetOverride(ctx, p); err != nil {
				return err
			}
		}
		a.logger.Info("applied retention profile",
			"tenant_id", profile.TenantID, "overrides", len(policies))
	}
	return nil
}

// locker returns the distributed sweep lock, or nil when redis is not
// configured (single-instance deployments).
func (a *app) locker() purge.Locker {
	if a.cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	return purge.NewRedisLocker(client)
}

func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: level}))
}
