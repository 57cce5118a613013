package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
)

func newMockSQL(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQL{db: db}, mock
}

func TestTailHashEmptyChain(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT chain_hash FROM audit_entries`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))

	tail, err := s.TailHash(context.Background(), "t1")
	require.NoError(t, err)
	assert.Empty(t, tail, "no rows maps to empty tail, not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTailHashReturnsLatest(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT chain_hash FROM audit_entries`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}).AddRow("abc123"))

	tail, err := s.TailHash(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tail)
}

func TestInsertEntryNullableAggregateVersion(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectExec(`INSERT INTO audit_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertEntry(context.Background(), audit.Entry{
		ID: "e-1", TenantID: "t1", Category: audit.CategoryPricing,
		Action: "price.update", PayloadHash: "ph", ChainHash: "ch",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEntriesScansRows(t *testing.T) {
	s, mock := newMockSQL(t)
	cols := []string{
		"id", "tenant_id", "category", "action", "method", "route", "status_code",
		"actor_user_id", "actor_role", "aggregate_type", "aggregate_id", "aggregate_version",
		"payload", "payload_hash", "previous_hash", "chain_hash", "created_at",
	}
	mock.ExpectQuery(`SELECT .+ FROM audit_entries`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e-1", "t1", "pricing", "price.update", "PUT", "/api/prices", 200,
				"u-1", "admin", "product", "p-1", int64(3),
				`{"price":10}`, "ph", "", "ch", "2025-06-01T00:00:00Z").
			AddRow("e-2", "t1", "billing", "invoice.issue", "POST", "/api/invoices", 201,
				"", "", "", "", nil,
				`null`, "ph2", "ch", "ch2", "2025-06-01T00:00:01Z"))

	entries, err := s.QueryEntries(context.Background(), "t1", audit.QueryFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].AggregateVersion)
	assert.EqualValues(t, 3, *entries[0].AggregateVersion)
	assert.Equal(t, map[string]any{"price": float64(10)}, entries[0].Payload)
	assert.Nil(t, entries[1].AggregateVersion)
	assert.Nil(t, entries[1].Payload)
	assert.Equal(t, 2025, entries[0].CreatedAt.Year())
}

func TestQueryEntriesRequestsOnlyClause(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`FROM audit_entries\s+WHERE tenant_id = \$1 AND method <> ''`).
		WithArgs("t1", 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "category", "action", "method", "route", "status_code",
			"actor_user_id", "actor_role", "aggregate_type", "aggregate_id", "aggregate_version",
			"payload", "payload_hash", "previous_hash", "chain_hash", "created_at",
		}))

	_, err := s.QueryEntries(context.Background(), "t1", audit.QueryFilter{RequestsOnly: true, Limit: 10})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryEntriesPropagatesError(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT .+ FROM audit_entries`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.QueryEntries(context.Background(), "t1", audit.QueryFilter{})
	assert.Error(t, err)
}

func TestUpdateHoldNotFound(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectExec(`UPDATE legal_holds`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateHold(context.Background(), hold.Hold{ID: "missing", Status: hold.StatusReleased})
	assert.ErrorIs(t, err, hold.ErrNotFound)
}

func TestDeleteRecordNotFound(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectExec(`DELETE FROM records`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteRecord(context.Background(), "t1", retention.EntityLogs, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkAbandonedCountsFlippedRows(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectExec(`UPDATE governance_runs`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.MarkAbandoned(context.Background(), time.Now().Add(-6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAnonymizeRecordMissingRow(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT payload FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	err := s.AnonymizeRecord(context.Background(), "t1", "missing", PurgeMarker{RunID: "r-1"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnonymizeRecordClearsPII(t *testing.T) {
	s, mock := newMockSQL(t)
	mock.ExpectQuery(`SELECT payload FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).
			AddRow(`{"name":"Ada","email":"ada@example.com","total":42,"customer":{"phone":"555"}}`))
	mock.ExpectExec(`UPDATE records SET payload`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	marker := PurgeMarker{RunID: "r-1", AnonymizedAt: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)}
	err := s.AnonymizeRecord(context.Background(), "t1", "ord-1", marker)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
