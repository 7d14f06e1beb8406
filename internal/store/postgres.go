package store

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sightline-legal/spendscope/internal/model"
)

// PgxPool abstracts the pgxpool methods the store uses, so tests can inject
// pgxmock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgres connects a pgx pool to the given URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (or mock).
func NewPostgresWithPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	practice   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	vendor_id      TEXT NOT NULL REFERENCES vendors(id),
	client         TEXT NOT NULL DEFAULT '',
	matter         TEXT NOT NULL DEFAULT '',
	date           TIMESTAMPTZ NOT NULL,
	total_amount   DOUBLE PRECISION NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	overspend_risk DOUBLE PRECISION,
	risk_score     DOUBLE PRECISION,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS line_items (
	id               TEXT PRIMARY KEY,
	invoice_id       TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	description      TEXT NOT NULL,
	hours            DOUBLE PRECISION NOT NULL,
	rate             DOUBLE PRECISION NOT NULL,
	amount           DOUBLE PRECISION NOT NULL,
	timekeeper       TEXT NOT NULL DEFAULT '',
	timekeeper_title TEXT NOT NULL DEFAULT '',
	is_flagged       BOOLEAN NOT NULL DEFAULT false,
	anomaly_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	flag_reason      TEXT
);

CREATE TABLE IF NOT EXISTS vendor_metrics (
	vendor_id       TEXT PRIMARY KEY REFERENCES vendors(id),
	average_rate    DOUBLE PRECISION NOT NULL DEFAULT 0,
	flag_rate       DOUBLE PRECISION NOT NULL DEFAULT 0,
	success_rate    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	diversity_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	total_spend     DOUBLE PRECISION NOT NULL DEFAULT 0,
	invoice_count   INTEGER NOT NULL DEFAULT 0,
	cluster         INTEGER,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scoring_runs (
	id          TEXT PRIMARY KEY,
	invoice_id  TEXT,
	vendor      TEXT NOT NULL,
	method      TEXT NOT NULL,
	risk_score  DOUBLE PRECISION NOT NULL,
	risk_level  TEXT NOT NULL,
	anomalies   INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor_id);
CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_line_items_invoice ON line_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_scoring_runs_invoice ON scoring_runs(invoice_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertVendor(ctx context.Context, v model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vendors (id, name, practice)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, practice = EXCLUDED.practice
	`, v.ID, v.Name, v.Practice)
	return eris.Wrapf(err, "postgres: upsert vendor %s", v.ID)
}

func (s *PostgresStore) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	var v model.Vendor
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, practice, created_at FROM vendors WHERE id = $1
	`, id).Scan(&v.ID, &v.Name, &v.Practice, &v.CreatedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: vendor %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get vendor %s", id)
	}
	return &v, nil
}

func (s *PostgresStore) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, practice, created_at FROM vendors ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var vendors []model.Vendor
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Practice, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		vendors = append(vendors, v)
	}
	return vendors, eris.Wrap(rows.Err(), "postgres: iterate vendors")
}

func (s *PostgresStore) CreateInvoice(ctx context.Context, inv model.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (id, vendor_id, client, matter, date, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.VendorID, inv.Client, inv.Matter, inv.Date, inv.TotalAmount, string(inv.Status))
	if err != nil {
		return eris.Wrapf(err, "postgres: insert invoice %s", inv.ID)
	}

	for _, item := range inv.LineItems {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO line_items (id, invoice_id, description, hours, rate, amount, timekeeper, timekeeper_title, is_flagged, anomaly_score, flag_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, item.ID, inv.ID, item.Description, item.Hours, item.Rate, item.Amount,
			item.Timekeeper, item.TimekeeperTitle, item.IsFlagged, item.AnomalyScore, nullString(item.FlagReason))
		if err != nil {
			return eris.Wrapf(err, "postgres: insert line item for invoice %s", inv.ID)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit invoice")
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	var inv model.Invoice
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, vendor_id, client, matter, date, total_amount, status, overspend_risk, risk_score, created_at, updated_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.VendorID, &inv.Client, &inv.Matter, &inv.Date, &inv.TotalAmount,
		&status, &inv.OverspendRisk, &inv.RiskScore, &inv.CreatedAt, &inv.UpdatedAt)
	if eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: invoice %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get invoice %s", id)
	}
	inv.Status = model.InvoiceStatus(status)

	items, err := s.LineItemsByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &inv, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `
		SELECT id, vendor_id, client, matter, date, total_amount, status, overspend_risk, risk_score, created_at, updated_at
		FROM invoices WHERE 1=1`
	var args []any
	arg := 1
	if filter.VendorID != "" {
		query += " AND vendor_id = $" + strconv.Itoa(arg)
		args = append(args, filter.VendorID)
		arg++
	}
	if filter.Status != "" {
		query += " AND status = $" + strconv.Itoa(arg)
		args = append(args, string(filter.Status))
		arg++
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT $" + strconv.Itoa(arg)
		args = append(args, filter.Limit)
		arg++
	}
	if filter.Offset > 0 {
		query += " OFFSET $" + strconv.Itoa(arg)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var status string
		if err := rows.Scan(&inv.ID, &inv.VendorID, &inv.Client, &inv.Matter, &inv.Date, &inv.TotalAmount,
			&status, &inv.OverspendRisk, &inv.RiskScore, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan invoice")
		}
		inv.Status = model.InvoiceStatus(status)
		invoices = append(invoices, inv)
	}
	return invoices, eris.Wrap(rows.Err(), "postgres: iterate invoices")
}

func (s *PostgresStore) UpdateInvoiceScores(ctx context.Context, id string, riskScore, overspend float64, status model.InvoiceStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET risk_score = $1, overspend_risk = $2, status = $3, updated_at = now()
		WHERE id = $4
	`, riskScore, overspend, string(status), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update invoice scores %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: invoice %s not found", id)
	}
	return nil
}

func (s *PostgresStore) DeleteInvoice(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete invoice %s", id)
}

const pgLineItemColumns = `id, invoice_id, description, hours, rate, amount, timekeeper, timekeeper_title, is_flagged, anomaly_score, COALESCE(flag_reason, '')`

func (s *PostgresStore) LineItemsByInvoice(ctx context.Context, invoiceID string) ([]model.LineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLineItemColumns+` FROM line_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: line items for invoice %s", invoiceID)
	}
	defer rows.Close()
	return scanPgLineItems(rows)
}

func (s *PostgresStore) AllLineItems(ctx context.Context) ([]model.LineItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgLineItemColumns+` FROM line_items ORDER BY invoice_id, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: all line items")
	}
	defer rows.Close()
	return scanPgLineItems(rows)
}

func (s *PostgresStore) UpdateLineItemFlags(ctx context.Context, items []model.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, item := range items {
		_, err := tx.Exec(ctx, `
			UPDATE line_items SET is_flagged = $1, anomaly_score = $2, flag_reason = $3 WHERE id = $4
		`, item.IsFlagged, item.AnomalyScore, nullString(item.FlagReason), item.ID)
		if err != nil {
			return eris.Wrapf(err, "postgres: update line item %s", item.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit line item flags")
}

func (s *PostgresStore) UpsertVendorMetrics(ctx context.Context, m model.VendorMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vendor_metrics (vendor_id, average_rate, flag_rate, success_rate, diversity_score, total_spend, invoice_count, cluster, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (vendor_id) DO UPDATE SET
			average_rate = EXCLUDED.average_rate,
			flag_rate = EXCLUDED.flag_rate,
			success_rate = EXCLUDED.success_rate,
			diversity_score = EXCLUDED.diversity_score,
			total_spend = EXCLUDED.total_spend,
			invoice_count = EXCLUDED.invoice_count,
			cluster = EXCLUDED.cluster,
			updated_at = now()
	`, m.VendorID, m.AverageRate, m.FlagRate, m.SuccessRate, m.DiversityScore,
		m.TotalSpend, m.InvoiceCount, m.Cluster)
	return eris.Wrapf(err, "postgres: upsert vendor metrics %s", m.VendorID)
}

func (s *PostgresStore) ListVendorMetrics(ctx context.Context) ([]model.VendorMetrics, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vendor_id, average_rate, flag_rate, success_rate, diversity_score, total_spend, invoice_count, cluster, updated_at
		FROM vendor_metrics ORDER BY vendor_id
	`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendor metrics")
	}
	defer rows.Close()

	var out []model.VendorMetrics
	for rows.Next() {
		var m model.VendorMetrics
		if err := rows.Scan(&m.VendorID, &m.AverageRate, &m.FlagRate, &m.SuccessRate, &m.DiversityScore,
			&m.TotalSpend, &m.InvoiceCount, &m.Cluster, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate vendor metrics")
}

func (s *PostgresStore) RecordScoringRun(ctx context.Context, run model.ScoringRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scoring_runs (id, invoice_id, vendor, method, risk_score, risk_level, anomalies, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, nullString(run.InvoiceID), run.Vendor, string(run.Method), run.RiskScore, string(run.RiskLevel),
		run.Anomalies, run.DurationMS)
	return eris.Wrap(err, "postgres: record scoring run")
}

func (s *PostgresStore) ListScoringRuns(ctx context.Context, limit int) ([]model.ScoringRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(invoice_id, ''), vendor, method, risk_score, risk_level, anomalies, duration_ms, created_at
		FROM scoring_runs ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scoring runs")
	}
	defer rows.Close()

	var runs []model.ScoringRun
	for rows.Next() {
		var r model.ScoringRun
		var method, level string
		if err := rows.Scan(&r.ID, &r.InvoiceID, &r.Vendor, &method, &r.RiskScore, &level,
			&r.Anomalies, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scoring run")
		}
		r.Method = model.ScoringMethod(method)
		r.RiskLevel = model.RiskLevel(level)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate scoring runs")
}

func scanPgLineItems(rows pgx.Rows) ([]model.LineItem, error) {
	var items []model.LineItem
	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.Hours, &li.Rate, &li.Amount,
			&li.Timekeeper, &li.TimekeeperTitle, &li.IsFlagged, &li.AnomalyScore, &li.FlagReason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan line item")
		}
		items = append(items, li)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate line items")
}

