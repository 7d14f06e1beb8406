package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sightline-legal/spendscope/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS vendors (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	practice   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS invoices (
	id             TEXT PRIMARY KEY,
	vendor_id      TEXT NOT NULL REFERENCES vendors(id),
	client         TEXT NOT NULL DEFAULT '',
	matter         TEXT NOT NULL DEFAULT '',
	date           DATETIME NOT NULL,
	total_amount   REAL NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	overspend_risk REAL,
	risk_score     REAL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS line_items (
	id               TEXT PRIMARY KEY,
	invoice_id       TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
	description      TEXT NOT NULL,
	hours            REAL NOT NULL,
	rate             REAL NOT NULL,
	amount           REAL NOT NULL,
	timekeeper       TEXT NOT NULL DEFAULT '',
	timekeeper_title TEXT NOT NULL DEFAULT '',
	is_flagged       INTEGER NOT NULL DEFAULT 0,
	anomaly_score    REAL NOT NULL DEFAULT 0,
	flag_reason      TEXT
);

CREATE TABLE IF NOT EXISTS vendor_metrics (
	vendor_id       TEXT PRIMARY KEY REFERENCES vendors(id),
	average_rate    REAL NOT NULL DEFAULT 0,
	flag_rate       REAL NOT NULL DEFAULT 0,
	success_rate    REAL NOT NULL DEFAULT 0.5,
	diversity_score REAL NOT NULL DEFAULT 0.5,
	total_spend     REAL NOT NULL DEFAULT 0,
	invoice_count   INTEGER NOT NULL DEFAULT 0,
	cluster         INTEGER,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scoring_runs (
	id          TEXT PRIMARY KEY,
	invoice_id  TEXT,
	vendor      TEXT NOT NULL,
	method      TEXT NOT NULL,
	risk_score  REAL NOT NULL,
	risk_level  TEXT NOT NULL,
	anomalies   INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_invoices_vendor ON invoices(vendor_id);
CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
CREATE INDEX IF NOT EXISTS idx_line_items_invoice ON line_items(invoice_id);
CREATE INDEX IF NOT EXISTS idx_scoring_runs_invoice ON scoring_runs(invoice_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertVendor(ctx context.Context, v model.Vendor) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendors (id, name, practice, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, practice = excluded.practice
	`, v.ID, v.Name, v.Practice, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert vendor %s", v.ID)
}

func (s *SQLiteStore) GetVendor(ctx context.Context, id string) (*model.Vendor, error) {
	var v model.Vendor
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, practice, created_at FROM vendors WHERE id = ?
	`, id).Scan(&v.ID, &v.Name, &v.Practice, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: vendor %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get vendor %s", id)
	}
	return &v, nil
}

func (s *SQLiteStore) ListVendors(ctx context.Context) ([]model.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, practice, created_at FROM vendors ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var vendors []model.Vendor
	for rows.Next() {
		var v model.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.Practice, &v.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		vendors = append(vendors, v)
	}
	return vendors, eris.Wrap(rows.Err(), "sqlite: iterate vendors")
}

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv model.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, vendor_id, client, matter, date, total_amount, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.ID, inv.VendorID, inv.Client, inv.Matter, inv.Date, inv.TotalAmount, string(inv.Status), now, now)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert invoice %s", inv.ID)
	}

	for _, item := range inv.LineItems {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO line_items (id, invoice_id, description, hours, rate, amount, timekeeper, timekeeper_title, is_flagged, anomaly_score, flag_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, item.ID, inv.ID, item.Description, item.Hours, item.Rate, item.Amount,
			item.Timekeeper, item.TimekeeperTitle, item.IsFlagged, item.AnomalyScore, nullString(item.FlagReason))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert line item for invoice %s", inv.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit invoice")
}

func (s *SQLiteStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	var inv model.Invoice
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, client, matter, date, total_amount, status, overspend_risk, risk_score, created_at, updated_at
		FROM invoices WHERE id = ?
	`, id).Scan(&inv.ID, &inv.VendorID, &inv.Client, &inv.Matter, &inv.Date, &inv.TotalAmount,
		&status, &inv.OverspendRisk, &inv.RiskScore, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: invoice %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get invoice %s", id)
	}
	inv.Status = model.InvoiceStatus(status)

	items, err := s.LineItemsByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return &inv, nil
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	query := `
		SELECT id, vendor_id, client, matter, date, total_amount, status, overspend_risk, risk_score, created_at, updated_at
		FROM invoices WHERE 1=1`
	var args []any
	if filter.VendorID != "" {
		query += " AND vendor_id = ?"
		args = append(args, filter.VendorID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list invoices")
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var status string
		if err := rows.Scan(&inv.ID, &inv.VendorID, &inv.Client, &inv.Matter, &inv.Date, &inv.TotalAmount,
			&status, &inv.OverspendRisk, &inv.RiskScore, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan invoice")
		}
		inv.Status = model.InvoiceStatus(status)
		invoices = append(invoices, inv)
	}
	return invoices, eris.Wrap(rows.Err(), "sqlite: iterate invoices")
}

func (s *SQLiteStore) UpdateInvoiceScores(ctx context.Context, id string, riskScore, overspend float64, status model.InvoiceStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices
		SET risk_score = ?, overspend_risk = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, riskScore, overspend, string(status), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update invoice scores %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: invoice %s not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteInvoice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete invoice %s", id)
}

const lineItemColumns = `id, invoice_id, description, hours, rate, amount, timekeeper, timekeeper_title, is_flagged, anomaly_score, COALESCE(flag_reason, '')`

func (s *SQLiteStore) LineItemsByInvoice(ctx context.Context, invoiceID string) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items WHERE invoice_id = ? ORDER BY id`, invoiceID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: line items for invoice %s", invoiceID)
	}
	defer rows.Close()
	return scanLineItems(rows)
}

func (s *SQLiteStore) AllLineItems(ctx context.Context) ([]model.LineItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lineItemColumns+` FROM line_items ORDER BY invoice_id, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: all line items")
	}
	defer rows.Close()
	return scanLineItems(rows)
}

func (s *SQLiteStore) UpdateLineItemFlags(ctx context.Context, items []model.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE line_items SET is_flagged = ?, anomaly_score = ?, flag_reason = ? WHERE id = ?
		`, item.IsFlagged, item.AnomalyScore, nullString(item.FlagReason), item.ID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update line item %s", item.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit line item flags")
}

func (s *SQLiteStore) UpsertVendorMetrics(ctx context.Context, m model.VendorMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vendor_metrics (vendor_id, average_rate, flag_rate, success_rate, diversity_score, total_spend, invoice_count, cluster, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(vendor_id) DO UPDATE SET
			average_rate = excluded.average_rate,
			flag_rate = excluded.flag_rate,
			success_rate = excluded.success_rate,
			diversity_score = excluded.diversity_score,
			total_spend = excluded.total_spend,
			invoice_count = excluded.invoice_count,
			cluster = excluded.cluster,
			updated_at = excluded.updated_at
	`, m.VendorID, m.AverageRate, m.FlagRate, m.SuccessRate, m.DiversityScore,
		m.TotalSpend, m.InvoiceCount, m.Cluster, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert vendor metrics %s", m.VendorID)
}

func (s *SQLiteStore) ListVendorMetrics(ctx context.Context) ([]model.VendorMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vendor_id, average_rate, flag_rate, success_rate, diversity_score, total_spend, invoice_count, cluster, updated_at
		FROM vendor_metrics ORDER BY vendor_id
	`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendor metrics")
	}
	defer rows.Close()

	var out []model.VendorMetrics
	for rows.Next() {
		var m model.VendorMetrics
		if err := rows.Scan(&m.VendorID, &m.AverageRate, &m.FlagRate, &m.SuccessRate, &m.DiversityScore,
			&m.TotalSpend, &m.InvoiceCount, &m.Cluster, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor metrics")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate vendor metrics")
}

func (s *SQLiteStore) RecordScoringRun(ctx context.Context, run model.ScoringRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scoring_runs (id, invoice_id, vendor, method, risk_score, risk_level, anomalies, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.InvoiceID, run.Vendor, string(run.Method), run.RiskScore, string(run.RiskLevel),
		run.Anomalies, run.DurationMS, time.Now().UTC())
	return eris.Wrap(err, "sqlite: record scoring run")
}

func (s *SQLiteStore) ListScoringRuns(ctx context.Context, limit int) ([]model.ScoringRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(invoice_id, ''), vendor, method, risk_score, risk_level, anomalies, duration_ms, created_at
		FROM scoring_runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scoring runs")
	}
	defer rows.Close()

	var runs []model.ScoringRun
	for rows.Next() {
		var r model.ScoringRun
		var method, level string
		if err := rows.Scan(&r.ID, &r.InvoiceID, &r.Vendor, &method, &r.RiskScore, &level,
			&r.Anomalies, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scoring run")
		}
		r.Method = model.ScoringMethod(method)
		r.RiskLevel = model.RiskLevel(level)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate scoring runs")
}

func scanLineItems(rows *sql.Rows) ([]model.LineItem, error) {
	var items []model.LineItem
	for rows.Next() {
		var li model.LineItem
		if err := rows.Scan(&li.ID, &li.InvoiceID, &li.Description, &li.Hours, &li.Rate, &li.Amount,
			&li.Timekeeper, &li.TimekeeperTitle, &li.IsFlagged, &li.AnomalyScore, &li.FlagReason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan line item")
		}
		items = append(items, li)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate line items")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
