package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/custodian-labs/custodian/pkg/store"
)

// runPurgeCmd implements `custodian purge`: one manual retention purge run
// for a single tenant.
//
// Exit codes:
//
//	0 = run finished DONE
//	1 = run finished FAILED
//	2 = usage or runtime error
func runPurgeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("purge", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID   string
		actor      string
		token      string
		jsonOutput bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&actor, "actor", "", "Acting operator recorded on the run")
	cmd.StringVar(&token, "token", "", "Bearer token identifying the operator")
	cmd.BoolVar(&jsonOutput, "json", false, "Output run summary as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant is required")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	actor, err = a.resolveActor(token, actor, tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := a.applyRetentionProfiles(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	run, runErr := a.engine.Run(ctx, tenantID, actor, store.TriggerManual)
	if runErr != nil && run.ID == "" {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", runErr)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(run, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		_, _ = fmt.Fprintf(stdout, "Run %s finished %s\n", run.ID, run.Status)
		for entity, s := range run.Summary.Entities {
			_, _ = fmt.Fprintf(stdout, "  %-10s scanned=%d purged=%d anonymized=%d held=%d unresolved=%d errors=%d\n",
				entity, s.Scanned, s.Purged, s.Anonymized, s.SkippedByHold, s.UnresolvedIdentity, s.Errors)
		}
	}

	if run.Status == store.RunFailed {
		return 1
	}
	return 0
}
