package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/custodian-labs/custodian/pkg/audit"
)

// runExportCmd implements `custodian export`: fetch matching audit entries,
// verify the chain, and write the signed evidence pack.
//
// Exit codes:
//
//	0 = export completed
//	2 = usage or runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID string
		outPath  string
		category string
		action   string
		fromStr  string
		toStr    string
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output file, - for stdout (REQUIRED)")
	cmd.StringVar(&category, "category", "", "Filter: entry category")
	cmd.StringVar(&action, "action", "", "Filter: action")
	cmd.StringVar(&fromStr, "from", "", "Filter: RFC3339 lower bound")
	cmd.StringVar(&toStr, "to", "", "Filter: RFC3339 upper bound")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant and --out are required")
		return 2
	}

	filter := audit.QueryFilter{Category: audit.Category(category), Action: action}
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --from: %v\n", err)
			return 2
		}
		filter.From = &t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --to: %v\n", err)
			return 2
		}
		filter.To = &t
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	pack, err := a.ledger.ExportEvidencePack(ctx, a.builder, tenantID, filter)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if outPath == "-" {
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	if err := os.WriteFile(outPath, data, 0600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write pack: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Exported evidence pack to %s (%d sections)\n", outPath, len(pack.Manifest.Sections))
	return 0
}
