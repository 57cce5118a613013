package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/custodian-labs/custodian/pkg/purge"
)

// runSweepCmd implements `custodian sweep`: the scheduled purge over all
// active tenants, with the abandoned-run watchdog and the distributed lock.
//
// Exit codes:
//
//	0 = sweep completed (or disabled)
//	1 = at least one tenant run failed
//	2 = runtime error
func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenantsPerSecond float64
	cmd.Float64Var(&tenantsPerSecond, "rate", 1, "Max tenant runs started per second")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	if err := a.applyRetentionProfiles(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	sweeper := purge.NewSweeper(a.engine, a.store, a.store, a.locker(), a.logger)
	if tenantsPerSecond > 0 {
		sweeper = sweeper.WithLimiter(rate.NewLimiter(rate.Limit(tenantsPerSecond), 1))
	}
	if a.cfg.SweepDisabled {
		sweeper = sweeper.Disable()
	}

	if err := sweeper.SweepAll(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Sweep finished with failures: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "Sweep completed")
	return 0
}
