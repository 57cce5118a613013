package discovery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/discovery"
	"github.com/custodian-labs/custodian/pkg/evidence"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/store"
)

func TestExportBundlesAllSections(t *testing.T) {
	mem := store.NewMemory()
	mem.PutCustomer(store.Customer{ID: "c-1", TenantID: "t1", Email: "ada@example.com"})
	mem.PutRecord(store.Record{
		ID: "ord-1", TenantID: "t1", Entity: retention.EntityOrders,
		CustomerID: "c-1", OccurredAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, mem.PutInvoice(context.Background(), store.Invoice{
		ID: "inv-1", TenantID: "t1", CustomerID: "c-1", Number: "2025-0001",
		AmountCents: 12900, Currency: "EUR",
		IssuedAt: time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC),
	}))

	builder, err := evidence.NewBuilder("master", false)
	require.NoError(t, err)
	ledger := audit.NewLedger(mem)
	registry := hold.NewRegistry(mem, mem)

	_, err = ledger.Append(context.Background(), audit.AppendRequest{
		TenantID: "t1", Category: audit.CategoryConfiguration, Action: "flag.toggle",
		Payload: map[string]any{"flag": "beta"},
	})
	require.NoError(t, err)
	_, err = ledger.Append(context.Background(), audit.AppendRequest{
		TenantID: "t1", Category: audit.CategoryBilling, Action: "invoice.read",
		Method: "GET", Route: "/api/invoices/inv-1", StatusCode: 200,
		ActorUserID: "u-1",
	})
	require.NoError(t, err)
	_, err = registry.Create(context.Background(), hold.CreateRequest{
		TenantID: "t1", CustomerID: "c-1", CreatedBy: "legal-1",
	})
	require.NoError(t, err)

	svc := discovery.New(builder, ledger, registry, mem)
	pack, err := svc.Export(context.Background(), "t1", "legal-1")
	require.NoError(t, err)

	for _, name := range []string{
		"orders", "logs", "events", "marketing", "invoices",
		"audit_entries", "configuration_changes", "accesses", "legal_holds",
	} {
		assert.Contains(t, pack.Data, name)
	}
	assert.Equal(t, "ediscovery", pack.Criteria["kind"])
	assert.Equal(t, "legal-1", pack.Criteria["requested_by"])
	assert.True(t, builder.Verify(pack).OK, "discovery pack verifies")

	holds, ok := pack.Data["legal_holds"].([]hold.Hold)
	require.True(t, ok)
	assert.Len(t, holds, 1)

	invoices, ok := pack.Data["invoices"].([]store.Invoice)
	require.True(t, ok)
	assert.Len(t, invoices, 1)

	accesses, ok := pack.Data["accesses"].([]audit.Entry)
	require.True(t, ok)
	require.Len(t, accesses, 1, "only the request-scoped entry is an access")
	assert.Equal(t, "GET", accesses[0].Method)
}
