package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
)

// runVerifyCmd implements `custodian verify`: structural, hash, and signature
// verification of an exported evidence pack file.
//
// Exit codes:
//
//	0 = pack verified
//	1 = pack failed verification
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		packPath   string
		jsonOutput bool
	)
	cmd.StringVar(&packPath, "pack", "", "Path to the pack file (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output verification result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --pack is required")
		return 2
	}

	raw, err := os.ReadFile(packPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: read pack: %v\n", err)
		return 2
	}

	a, err := newApp(context.Background(), stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	result := a.builder.VerifyDocument(raw)

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if result.OK {
		_, _ = fmt.Fprintln(stdout, "Pack verified")
	} else {
		_, _ = fmt.Fprintf(stdout, "Pack verification FAILED: %s\n", result.Reason)
	}

	if !result.OK {
		return 1
	}
	return 0
}
