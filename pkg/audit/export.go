package audit

import (
	"context"
	"fmt"

	"github.com/custodian-labs/custodian/pkg/evidence"
)

// ExportEvidencePack fetches matching entries (bounded at MaxExportLimit),
// verifies the chain, and wraps entries plus the verification result into a
// signed evidence pack. A broken chain does not abort the export — the
// verification result travels inside the pack so auditors see the break.
func (l *Ledger) ExportEvidencePack(ctx context.Context, builder *evidence.Builder, tenantID string, filter QueryFilter) (evidence.Pack, error) {
	if filter.Limit <= 0 || filter.Limit > MaxExportLimit {
		filter.Limit = MaxExportLimit
	}
	entries, err := l.store.QueryEntries(ctx, tenantID, filter)
	if err != nil {
		return evidence.Pack{}, fmt.Errorf("audit: fetch entries for export: %w", err)
	}

	verification := VerifyChain(entries)
	if !verification.OK {
		if o, ok := l.observer.(VerifyObserver); ok {
			o.RecordVerifyFailure(ctx, tenantID, verification.Reason)
		}
	}

	criteria := map[string]any{"filter": filter, "tenant_id": tenantID}
	sections := map[string]any{
		"entries":      entries,
		"verification": verification,
	}
	pack, err := builder.Build(tenantID, criteria, sections)
	if err != nil {
		return evidence.Pack{}, fmt.Errorf("audit: build evidence pack: %w", err)
	}
	return pack, nil
}
