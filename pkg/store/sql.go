package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodian-labs/custodian/pkg/audit"
	"github.com/custodian-labs/custodian/pkg/hold"
	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

// SQL is the database/sql backend. It uses $1 placeholders and a portable
// schema so the same statements run on both sqlite and postgres; drivers are
// registered by the caller (blank imports in cmd).
type SQL struct {
	db *sql.DB
}

// NewSQL creates the SQL store and runs schema migration.
func NewSQL(ctx context.Context, db *sql.DB) (*SQL, error) {
	s := &SQL{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	category TEXT NOT NULL,
	action TEXT NOT NULL,
	method TEXT NOT NULL DEFAULT '',
	route TEXT NOT NULL DEFAULT '',
	status_code INTEGER NOT NULL DEFAULT 0,
	actor_user_id TEXT NOT NULL DEFAULT '',
	actor_role TEXT NOT NULL DEFAULT '',
	aggregate_type TEXT NOT NULL DEFAULT '',
	aggregate_id TEXT NOT NULL DEFAULT '',
	aggregate_version INTEGER,
	payload TEXT NOT NULL DEFAULT 'null',
	payload_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL DEFAULT '',
	chain_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_entries_tenant_seq ON audit_entries (tenant_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_entries_tenant_created ON audit_entries (tenant_id, created_at);

CREATE TABLE IF NOT EXISTS legal_holds (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	customer_email TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	user_email TEXT NOT NULL DEFAULT '',
	entity_scopes TEXT NOT NULL DEFAULT '[]',
	period_from TEXT,
	period_to TEXT,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	evidence_hash TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	released_by TEXT NOT NULL DEFAULT '',
	released_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_legal_holds_tenant_status ON legal_holds (tenant_id, status);

CREATE TABLE IF NOT EXISTS retention_policies (
	tenant_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	entity TEXT NOT NULL,
	retention_days INTEGER NOT NULL,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, tier, entity)
);

CREATE TABLE IF NOT EXISTS governance_runs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	trigger_type TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	summary TEXT NOT NULL DEFAULT '{}',
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_governance_runs_tenant ON governance_runs (tenant_id, started_at);

CREATE TABLE IF NOT EXISTS records (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	entity TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	occurred_at TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	anonymized BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_records_tenant_entity_occurred ON records (tenant_id, entity, occurred_at);

CREATE TABLE IF NOT EXISTS invoices (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	customer_id TEXT NOT NULL DEFAULT '',
	number TEXT NOT NULL DEFAULT '',
	amount_cents INTEGER NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	issued_at TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_invoices_tenant_issued ON invoices (tenant_id, issued_at);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// timeLayout keeps the fractional seconds fixed-width. RFC3339Nano trims
// trailing zeros, and trimmed TEXT timestamps do not sort chronologically
// ("..00.1Z" sorts after "..00.1005Z"), which would corrupt every ORDER BY
// and range predicate on a time column.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ── audit.Store ───────────────────────────────────────────────

func (s *SQL) InsertEntry(ctx context.Context, e audit.Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal payload: %w", err)
	}
	var aggregateVersion any
	if e.AggregateVersion != nil {
		aggregateVersion = *e.AggregateVersion
	}
	// seq is the tenant's creation order; the ledger serializes appends per
	// tenant, so MAX+1 inside the insert cannot race in-process.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, tenant_id, seq, category, action, method, route, status_code,
			actor_user_id, actor_role, aggregate_type, aggregate_id, aggregate_version,
			payload, payload_hash, previous_hash, chain_hash, created_at
		) VALUES ($1, $2,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries WHERE tenant_id = $2),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.TenantID, string(e.Category), e.Action, e.Method, e.Route, e.StatusCode,
		e.ActorUserID, e.ActorRole, e.AggregateType, e.AggregateID, aggregateVersion,
		string(payload), e.PayloadHash, e.PreviousHash, e.ChainHash, formatTime(e.CreatedAt),
	)
	return err
}

func (s *SQL) TailHash(ctx context.Context, tenantID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_hash FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY seq DESC
		LIMIT 1`, tenantID)
	var tail string
	err := row.Scan(&tail)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tail, err
}

func (s *SQL) LatestAggregateVersion(ctx context.Context, tenantID, aggregateType, aggregateID string) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0) FROM audit_entries
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		tenantID, aggregateType, aggregateID)
	var latest int64
	err := row.Scan(&latest)
	return latest, err
}

func (s *SQL) QueryEntries(ctx context.Context, tenantID string, filter audit.QueryFilter) ([]audit.Entry, error) {
	where := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Category != "" {
		add("category = $%d", string(filter.Category))
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.RouteContains != "" {
		add("LOWER(route) LIKE $%d", "%"+strings.ToLower(filter.RouteContains)+"%")
	}
	if filter.ActorUserID != "" {
		add("actor_user_id = $%d", filter.ActorUserID)
	}
	if filter.AggregateType != "" {
		add("aggregate_type = $%d", filter.AggregateType)
	}
	if filter.AggregateID != "" {
		add("aggregate_id = $%d", filter.AggregateID)
	}
	if filter.From != nil {
		add("created_at >= $%d", formatTime(*filter.From))
	}
	if filter.To != nil {
		add("created_at <= $%d", formatTime(*filter.To))
	}
	if filter.RequestsOnly {
		where = append(where, "method <> ''")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = audit.MaxQueryLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, tenant_id, category, action, method, route, status_code,
			actor_user_id, actor_role, aggregate_type, aggregate_id, aggregate_version,
			payload, payload_hash, previous_hash, chain_hash, created_at
		FROM audit_entries
		WHERE %s
		ORDER BY seq ASC
		LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e                audit.Entry
			category         string
			aggregateVersion sql.NullInt64
			payload          string
			createdAt        string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &category, &e.Action, &e.Method, &e.Route, &e.StatusCode,
			&e.ActorUserID, &e.ActorRole, &e.AggregateType, &e.AggregateID, &aggregateVersion,
			&payload, &e.PayloadHash, &e.PreviousHash, &e.ChainHash, &createdAt); err != nil {
			return nil, err
		}
		e.Category = audit.Category(category)
		if aggregateVersion.Valid {
			v := aggregateVersion.Int64
			e.AggregateVersion = &v
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal payload for %s: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("store: parse created_at for %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── hold.Store + hold.SubjectDirectory ────────────────────────

func (s *SQL) InsertHold(ctx context.Context, h hold.Hold) error {
	scopes, err := json.Marshal(h.EntityScopes)
	if err != nil {
		return fmt.Errorf("store: marshal scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO legal_holds (
			id, tenant_id, customer_id, customer_email, user_id, user_email,
			entity_scopes, period_from, period_to, status, reason, evidence_hash,
			created_by, created_at, released_by, released_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		h.ID, h.TenantID, h.Subject.CustomerID, h.Subject.CustomerEmail, h.Subject.UserID, h.Subject.UserEmail,
		string(scopes), nullableTime(h.PeriodFrom), nullableTime(h.PeriodTo), string(h.Status), h.Reason, h.EvidenceHash,
		h.CreatedBy, formatTime(h.CreatedAt), h.ReleasedBy, nullableTime(h.ReleasedAt),
	)
	return err
}

func (s *SQL) UpdateHold(ctx context.Context, h hold.Hold) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE legal_holds
		SET status = $1, reason = $2, released_by = $3, released_at = $4
		WHERE id = $5`,
		string(h.Status), h.Reason, h.ReleasedBy, nullableTime(h.ReleasedAt), h.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return hold.ErrNotFound
	}
	return nil
}

const holdColumns = `id, tenant_id, customer_id, customer_email, user_id, user_email,
	entity_scopes, period_from, period_to, status, reason, evidence_hash,
	created_by, created_at, released_by, released_at`

func (s *SQL) GetHold(ctx context.Context, id string) (hold.Hold, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+holdColumns+` FROM legal_holds WHERE id = $1`, id)
	h, err := scanHold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hold.Hold{}, hold.ErrNotFound
	}
	return h, err
}

func (s *SQL) ListHolds(ctx context.Context, tenantID string) ([]hold.Hold, error) {
	return s.listHolds(ctx,
		`SELECT `+holdColumns+` FROM legal_holds WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
}

func (s *SQL) ListActiveHolds(ctx context.Context, tenantID string) ([]hold.Hold, error) {
	return s.listHolds(ctx,
		`SELECT `+holdColumns+` FROM legal_holds WHERE tenant_id = $1 AND status = $2 ORDER BY created_at ASC`,
		tenantID, string(hold.StatusActive))
}

func (s *SQL) listHolds(ctx context.Context, query string, args ...any) ([]hold.Hold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]hold.Hold, 0)
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHold(row rowScanner) (hold.Hold, error) {
	var (
		h                    hold.Hold
		scopes               string
		periodFrom, periodTo sql.NullString
		status               string
		createdAt            string
		releasedAt           sql.NullString
	)
	if err := row.Scan(&h.ID, &h.TenantID, &h.Subject.CustomerID, &h.Subject.CustomerEmail,
		&h.Subject.UserID, &h.Subject.UserEmail, &scopes, &periodFrom, &periodTo,
		&status, &h.Reason, &h.EvidenceHash, &h.CreatedBy, &createdAt, &h.ReleasedBy, &releasedAt); err != nil {
		return hold.Hold{}, err
	}
	h.Status = hold.Status(status)
	if err := json.Unmarshal([]byte(scopes), &h.EntityScopes); err != nil {
		return hold.Hold{}, fmt.Errorf("store: unmarshal scopes for %s: %w", h.ID, err)
	}
	var err error
	if h.PeriodFrom, err = scanNullableTime(periodFrom); err != nil {
		return hold.Hold{}, err
	}
	if h.PeriodTo, err = scanNullableTime(periodTo); err != nil {
		return hold.Hold{}, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return hold.Hold{}, err
	}
	if h.ReleasedAt, err = scanNullableTime(releasedAt); err != nil {
		return hold.Hold{}, err
	}
	return h, nil
}

func (s *SQL) CustomerEmail(ctx context.Context, tenantID, customerID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email FROM customers WHERE tenant_id = $1 AND id = $2`, tenantID, customerID)
	var email string
	err := row.Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return email, err == nil, err
}

func (s *SQL) UserEmail(ctx context.Context, tenantID, userID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE tenant_id = $1 AND id = $2`, tenantID, userID)
	var email string
	err := row.Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	return email, err == nil, err
}

// ── retention.Store + retention.TenantGetter ──────────────────

func (s *SQL) CountPolicies(ctx context.Context, tenantID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retention_policies WHERE tenant_id = $1`, tenantID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *SQL) InsertPolicy(ctx context.Context, p retention.Policy) error {
	// Unique key + ignore-conflict makes concurrent first seeds benign.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (tenant_id, tier, entity, retention_days, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, tier, entity) DO NOTHING`,
		p.TenantID, string(p.Tier), string(p.Entity), p.RetentionDays, p.IsDefault, formatTime(p.CreatedAt))
	return err
}

func (s *SQL) UpsertPolicy(ctx context.Context, p retention.Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (tenant_id, tier, entity, retention_days, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, tier, entity) DO UPDATE
		SET retention_days = $4, is_default = $5`,
		p.TenantID, string(p.Tier), string(p.Entity), p.RetentionDays, p.IsDefault, formatTime(p.CreatedAt))
	return err
}

func (s *SQL) ListPolicies(ctx context.Context, tenantID string, tier tenants.TierID) ([]retention.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, tier, entity, retention_days, is_default, created_at
		FROM retention_policies
		WHERE tenant_id = $1 AND tier = $2`, tenantID, string(tier))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]retention.Policy, 0)
	for rows.Next() {
		var (
			p         retention.Policy
			tierStr   string
			entity    string
			createdAt string
		)
		if err := rows.Scan(&p.TenantID, &tierStr, &entity, &p.RetentionDays, &p.IsDefault, &createdAt); err != nil {
			return nil, err
		}
		p.Tier = tenants.TierID(tierStr)
		p.Entity = retention.Entity(entity)
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ── RecordStore ───────────────────────────────────────────────

const recordColumns = `id, tenant_id, entity, customer_id, user_id, email, occurred_at, payload, anonymized`

func (s *SQL) ListOlderThan(ctx context.Context, tenantID string, entity retention.Entity, cutoff time.Time, limit int) ([]Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE tenant_id = $1 AND entity = $2 AND occurred_at < $3 AND anonymized = FALSE
		ORDER BY occurred_at ASC
		LIMIT $4`, tenantID, string(entity), formatTime(cutoff), limit)
}

func (s *SQL) ListRecords(ctx context.Context, tenantID string, entity retention.Entity, limit int) ([]Record, error) {
	return s.listRecords(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE tenant_id = $1 AND entity = $2
		ORDER BY occurred_at DESC
		LIMIT $3`, tenantID, string(entity), limit)
}

func (s *SQL) listRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r          Record
			entity     string
			occurredAt string
			payload    string
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &entity, &r.CustomerID, &r.UserID, &r.Email,
			&occurredAt, &payload, &r.Anonymized); err != nil {
			return nil, err
		}
		r.Entity = retention.Entity(entity)
		if r.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
			return nil, fmt.Errorf("store: unmarshal record payload for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) AnonymizeRecord(ctx context.Context, tenantID, recordID string, marker PurgeMarker) error {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE tenant_id = $1 AND id = $2`, tenantID, recordID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("store: unmarshal record payload for %s: %w", recordID, err)
	}
	cleaned, err := json.Marshal(anonymizePayload(payload, marker))
	if err != nil {
		return fmt.Errorf("store: marshal anonymized payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE records SET payload = $1, email = '', anonymized = TRUE
		WHERE tenant_id = $2 AND id = $3`, string(cleaned), tenantID, recordID)
	return err
}

func (s *SQL) DeleteRecord(ctx context.Context, tenantID string, entity retention.Entity, recordID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE tenant_id = $1 AND entity = $2 AND id = $3`,
		tenantID, string(entity), recordID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PutRecord inserts or replaces a governed record (seed/import path).
func (s *SQL) PutRecord(ctx context.Context, r Record) error {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal record payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, tenant_id, entity, customer_id, user_id, email, occurred_at, payload, anonymized)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET payload = $8, anonymized = $9`,
		r.ID, r.TenantID, string(r.Entity), r.CustomerID, r.UserID, r.Email,
		formatTime(r.OccurredAt), string(payload), r.Anonymized)
	return err
}

// ── InvoiceStore ──────────────────────────────────────────────

func (s *SQL) PutInvoice(ctx context.Context, inv Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, tenant_id, customer_id, number, amount_cents, currency, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE
		SET customer_id = $3, number = $4, amount_cents = $5, currency = $6, issued_at = $7`,
		inv.ID, inv.TenantID, inv.CustomerID, inv.Number, inv.AmountCents, inv.Currency,
		formatTime(inv.IssuedAt))
	return err
}

func (s *SQL) ListInvoices(ctx context.Context, tenantID string, limit int) ([]Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, customer_id, number, amount_cents, currency, issued_at
		FROM invoices
		WHERE tenant_id = $1
		ORDER BY issued_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Invoice, 0)
	for rows.Next() {
		var (
			inv      Invoice
			issuedAt string
		)
		if err := rows.Scan(&inv.ID, &inv.TenantID, &inv.CustomerID, &inv.Number,
			&inv.AmountCents, &inv.Currency, &issuedAt); err != nil {
			return nil, err
		}
		if inv.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// ── RunStore ──────────────────────────────────────────────────

func (s *SQL) CreateRun(ctx context.Context, run GovernanceRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal run summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO governance_runs (id, tenant_id, trigger_type, actor, status, started_at, finished_at, summary, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.TenantID, string(run.Trigger), run.Actor, string(run.Status),
		formatTime(run.StartedAt), nullableTime(run.FinishedAt), string(summary), run.Error)
	return err
}

func (s *SQL) FinishRun(ctx context.Context, run GovernanceRun) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("store: marshal run summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE governance_runs
		SET status = $1, finished_at = $2, summary = $3, error_message = $4
		WHERE id = $5`,
		string(run.Status), nullableTime(run.FinishedAt), string(summary), run.Error, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, tenant_id, trigger_type, actor, status, started_at, finished_at, summary, error_message`

func (s *SQL) GetRun(ctx context.Context, id string) (GovernanceRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM governance_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return GovernanceRun{}, ErrNotFound
	}
	return run, err
}

func (s *SQL) ListRuns(ctx context.Context, tenantID string, limit int) ([]GovernanceRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM governance_runs
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]GovernanceRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func scanRun(row rowScanner) (GovernanceRun, error) {
	var (
		run        GovernanceRun
		trigger    string
		status     string
		startedAt  string
		finishedAt sql.NullString
		summary    string
	)
	if err := row.Scan(&run.ID, &run.TenantID, &trigger, &run.Actor, &status,
		&startedAt, &finishedAt, &summary, &run.Error); err != nil {
		return GovernanceRun{}, err
	}
	run.Trigger = Trigger(trigger)
	run.Status = RunStatus(status)
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return GovernanceRun{}, err
	}
	if run.FinishedAt, err = scanNullableTime(finishedAt); err != nil {
		return GovernanceRun{}, err
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return GovernanceRun{}, fmt.Errorf("store: unmarshal run summary for %s: %w", run.ID, err)
	}
	return run, nil
}

func (s *SQL) MarkAbandoned(ctx context.Context, startedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE governance_runs
		SET status = $1, finished_at = $2, error_message = $3
		WHERE status = $4 AND started_at < $5`,
		string(RunFailed), formatTime(time.Now()), "abandoned: exceeded run deadline",
		string(RunRunning), formatTime(startedBefore))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ── TenantStore ───────────────────────────────────────────────

func (s *SQL) PutTenant(ctx context.Context, t tenants.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, tier, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, tier = $3, status = $4`,
		t.ID, t.Name, string(t.Tier), string(t.Status), formatTime(t.CreatedAt))
	return err
}

func (s *SQL) GetTenant(ctx context.Context, id string) (tenants.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, tier, status, created_at FROM tenants WHERE id = $1`, id)
	var (
		t         tenants.Tenant
		tier      string
		status    string
		createdAt string
	)
	err := row.Scan(&t.ID, &t.Name, &tier, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenants.Tenant{}, ErrNotFound
	}
	if err != nil {
		return tenants.Tenant{}, err
	}
	t.Tier = tenants.TierID(tier)
	t.Status = tenants.Status(status)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return tenants.Tenant{}, err
	}
	return t, nil
}

func (s *SQL) ListTenants(ctx context.Context) ([]tenants.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, tier, status, created_at FROM tenants ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]tenants.Tenant, 0)
	for rows.Next() {
		var (
			t         tenants.Tenant
			tier      string
			status    string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.Name, &tier, &status, &createdAt); err != nil {
			return nil, err
		}
		t.Tier = tenants.TierID(tier)
		t.Status = tenants.Status(status)
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PutCustomer inserts or replaces a customer row.
func (s *SQL) PutCustomer(ctx context.Context, c Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, tenant_id, name, email)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET name = $3, email = $4`,
		c.ID, c.TenantID, c.Name, c.Email)
	return err
}

// PutUser inserts or replaces a user row.
func (s *SQL) PutUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, id) DO UPDATE SET email = $3, role = $4`,
		u.ID, u.TenantID, u.Email, u.Role)
	return err
}
