package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
)

// runHoldCmd implements `custodian hold <create|list|release>`.
//
// Exit codes:
//
//	0 = command completed
//	2 = usage or runtime error
func runHoldCmd(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "create":
		return runHoldCreate(args[1:], stdout, stderr)
	case "list":
		return runHoldList(args[1:], stdout, stderr)
	case "release":
		return runHoldRelease(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown hold command: %s\n", args[0])
		return 2
	}
}

func runHoldCreate(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hold create", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID   string
		customerID string
		userID     string
		scopes     string
		fromStr    string
		toStr      string
		reason     string
		createdBy  string
		token      string
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&customerID, "customer", "", "Subject customer ID")
	cmd.StringVar(&userID, "user", "", "Subject user ID")
	cmd.StringVar(&scopes, "scopes", "", "Comma-separated entity scopes (empty = all)")
	cmd.StringVar(&fromStr, "from", "", "Inclusive RFC3339 period start")
	cmd.StringVar(&toStr, "to", "", "Inclusive RFC3339 period end")
	cmd.StringVar(&reason, "reason", "", "Hold reason")
	cmd.StringVar(&createdBy, "created-by", "", "Creating operator")
	cmd.StringVar(&token, "token", "", "Bearer token identifying the operator")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --tenant is required")
		return 2
	}

	req := hold.CreateRequest{
		TenantID:   tenantID,
		CustomerID: customerID,
		UserID:     userID,
		Reason:     reason,
	}
	if scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			req.EntityScopes = append(req.EntityScopes, retention.Entity(strings.TrimSpace(s)))
		}
	}
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --from: %v\n", err)
			return 2
		}
		req.PeriodFrom = &t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: bad --to: %v\n", err)
			return 2
		}
		req.PeriodTo = &t
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	createdBy, err = a.resolveActor(token, createdBy, tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	req.CreatedBy = createdBy
	req.Justification = map[string]any{
		"reason":     reason,
		"created_by": createdBy,
	}

	h, err := a.holds.Create(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Created hold %s (status %s)\n", h.ID, h.Status)
	return 0
}

func runHoldList(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hold list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID   string
		jsonOutput bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output holds as JSON")

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

	holds, err := a.holds.List(ctx, tenantID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(holds, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, h := range holds {
		subject := h.Subject.CustomerID
		if subject == "" {
			subject = h.Subject.UserID
		}
		_, _ = fmt.Fprintf(stdout, "%s  %-8s  subject=%s  created=%s\n",
			h.ID, h.Status, subject, h.CreatedAt.Format(time.RFC3339))
	}
	return 0
}

func runHoldRelease(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hold release", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		holdID     string
		releasedBy string
		reason     string
	)
	cmd.StringVar(&holdID, "id", "", "Hold ID (REQUIRED)")
	cmd.StringVar(&releasedBy, "released-by", "", "Releasing operator (REQUIRED)")
	cmd.StringVar(&reason, "reason", "", "Release reason")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if holdID == "" || releasedBy == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id and --released-by are required")
		return 2
	}

	ctx := context.Background()
	a, err := newApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer a.close()

	h, err := a.holds.Release(ctx, holdID, releasedBy, reason)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "Released hold %s at %s\n", h.ID, h.ReleasedAt.Format(time.RFC3339))
	return 0
}
