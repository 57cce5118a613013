package evidence

import (
	"context"
	"fmt"
	"sort"
)

// SectionFunc produces one named export section for a tenant.
type SectionFunc func(ctx context.Context, tenantID string) (any, error)

// Exporter assembles multi-section discovery packs (orders, invoices, audit
// entries, events, configuration changes, accesses, legal holds) from
// registered section providers and signs the result.
type Exporter struct {
	builder  *Builder
	sections map[string]SectionFunc
}

// NewExporter creates an Exporter over the given builder.
func NewExporter(builder *Builder) *Exporter {
	return &Exporter{builder: builder, sections: make(map[string]SectionFunc)}
}

// AddSection registers a named section provider. Re-registering a name
// replaces the provider.
func (e *Exporter) AddSection(name string, fn SectionFunc) {
	e.sections[name] = fn
}

// Export collects every registered section for the tenant and builds a
// signed pack. Section collection is all-or-nothing: a failing provider
// aborts the export rather than shipping a partial bundle.
func (e *Exporter) Export(ctx context.Context, tenantID string, criteria map[string]any) (Pack, error) {
	names := make([]string, 0, len(e.sections))
	for name := range e.sections {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make(map[string]any, len(names))
	for _, name := range names {
		payload, err := e.sections[name](ctx, tenantID)
		if err != nil {
			return Pack{}, fmt.Errorf("evidence: collect section %s: %w", name, err)
		}
		data[name] = payload
	}
	return e.builder.Build(tenantID, criteria, data)
}
