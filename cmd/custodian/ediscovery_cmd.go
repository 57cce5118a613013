package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

// runDiscoveryCmd implements `custodian ediscovery`: the full multi-section
// discovery export for one tenant.
//
// Exit codes:
//
//	0 = export completed
//	2 = usage or runtime error
func runDiscoveryCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ediscovery", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID    string
		outPath     string
		requestedBy string
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&outPath, "out", "", "Output file, - for stdout (REQUIRED)")
	cmd.StringVar(&requestedBy, "requested-by", "", "Requesting operator recorded in the pack criteria")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant and --out are required")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	pack, err := a.discovery.Export(ctx, tenantID, requestedBy)
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
	_, _ = fmt.Fprintf(stdout, "Exported e-discovery pack to %s (%d sections)\n", outPath, len(pack.Manifest.Sections))
	return 0
}
