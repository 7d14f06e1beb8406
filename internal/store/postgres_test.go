package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresUpsertVendor(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO vendors").
		WithArgs("v1", "Harmon & Pryce LLP", "litigation").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertVendor(context.Background(), model.Vendor{
		ID: "v1", Name: "Harmon & Pryce LLP", Practice: "litigation",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertVendorGeneratesID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO vendors").
		WithArgs(pgxmock.AnyArg(), "Abbott & Drake", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertVendor(context.Background(), model.Vendor{Name: "Abbott & Drake"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVendor(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, name, practice, created_at FROM vendors").
		WithArgs("v1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "practice", "created_at"}).
			AddRow("v1", "Harmon & Pryce LLP", "litigation", created))

	got, err := s.GetVendor(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "Harmon & Pryce LLP", got.Name)
	assert.Equal(t, created, got.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetVendorNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, name, practice, created_at FROM vendors").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "practice", "created_at"}))

	_, err := s.GetVendor(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateInvoiceScores(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE invoices").
		WithArgs(0.82, 430.5, "flagged", "inv-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdateInvoiceScores(context.Background(), "inv-1", 0.82, 430.5, model.StatusFlagged)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateInvoiceScoresMissingInvoice(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE invoices").
		WithArgs(0.5, 0.0, "pending", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateInvoiceScores(context.Background(), "missing", 0.5, 0, model.StatusPending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLineItemsByInvoice(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM line_items").
		WithArgs("inv-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "invoice_id", "description", "hours", "rate", "amount",
			"timekeeper", "timekeeper_title", "is_flagged", "anomaly_score", "coalesce",
		}).AddRow("li-1", "inv-1", "Draft complaint", 4.0, 400.0, 1600.0, "R. Patel", "Partner", false, 0.0, ""))

	items, err := s.LineItemsByInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Draft complaint", items[0].Description)
	assert.InDelta(t, 1600, items[0].Amount, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}
