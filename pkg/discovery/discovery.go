// Package discovery assembles full e-discovery packs: every governed data
// class for one tenant, bundled and signed as a single evidence pack.
package discovery

import (
	"context"
	"time"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/evidence"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"
)

// DataStore combines the governed records and the billing invoices a
// discovery pack exports.
type DataStore interface {
	store.RecordStore
	store.InvoiceStore
}

// Service wires the ledger, the hold registry, and the record store into the
// section-based exporter.
type Service struct {
	exporter *evidence.Exporter
	clock    func() time.Time
}

// New creates a discovery Service. Section names are fixed; an auditor
// receiving two packs from different deployments sees the same layout.
func New(builder *evidence.Builder, ledger *audit.Ledger, holds *hold.Registry, data DataStore) *Service {
	ex := evidence.NewExporter(builder)

	for _, entity := range retention.Entities {
		entity := entity
		ex.AddSection(string(entity), func(ctx context.Context, tenantID string) (any, error) {
			return data.ListRecords(ctx, tenantID, entity, audit.MaxExportLimit)
		})
	}

	ex.AddSection("invoices", func(ctx context.Context, tenantID string) (any, error) {
		return data.ListInvoices(ctx, tenantID, audit.MaxExportLimit)
	})

	ex.AddSection("audit_entries", func(ctx context.Context, tenantID string) (any, error) {
		return ledger.QueryForExport(ctx, tenantID, audit.QueryFilter{Limit: audit.MaxExportLimit})
	})
	ex.AddSection("configuration_changes", func(ctx context.Context, tenantID string) (any, error) {
		return ledger.QueryForExport(ctx, tenantID, audit.QueryFilter{
			Category: audit.CategoryConfiguration,
			Limit:    audit.MaxExportLimit,
		})
	})
	ex.AddSection("accesses", func(ctx context.Context, tenantID string) (any, error) {
		return ledger.QueryForExport(ctx, tenantID, audit.QueryFilter{
			RequestsOnly: true,
			Limit:        audit.MaxExportLimit,
		})
	})
	ex.AddSection("legal_holds", func(ctx context.Context, tenantID string) (any, error) {
		return holds.List(ctx, tenantID)
	})

	return &Service{exporter: ex, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Export builds the signed e-discovery pack for one tenant.
func (s *Service) Export(ctx context.Context, tenantID, requestedBy string) (evidence.Pack, error) {
	criteria := map[string]any{
		"kind":         "ediscovery",
		"requested_by": requestedBy,
		"requested_at": s.clock().UTC().Format(time.RFC3339Nano),
	}
	return s.exporter.Export(ctx, tenantID, criteria)
}
