package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sightline-legal/spendscope/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "spendscope.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedVendor(t *testing.T, s *SQLiteStore, id, name string) {
	t.Helper()
	require.NoError(t, s.UpsertVendor(context.Background(), model.Vendor{
		ID: id, Name: name, Practice: "litigation",
	}))
}

func testInvoice(id, vendorID string) model.Invoice {
	return model.Invoice{
		ID:          id,
		VendorID:    vendorID,
		Client:      "Acme Corp",
		Matter:      "Acme v. Initech",
		Date:        time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC),
		TotalAmount: 2650,
		Status:      model.StatusPending,
		LineItems: []model.LineItem{
			{ID: id + "-1", Description: "Draft complaint", Hours: 4, Rate: 400, Amount: 1600, Timekeeper: "R. Patel", TimekeeperTitle: "Partner"},
			{ID: id + "-2", Description: "Cite check", Hours: 3, Rate: 350, Amount: 1050},
		},
	}
}

func TestVendorRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")

	got, err := s.GetVendor(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Harmon & Pryce LLP", got.Name)
	assert.Equal(t, "litigation", got.Practice)
	assert.False(t, got.CreatedAt.IsZero())

	// Upsert with the same ID replaces name and practice.
	require.NoError(t, s.UpsertVendor(ctx, model.Vendor{ID: "v1", Name: "Harmon Pryce & Co", Practice: "ip"}))
	got, err = s.GetVendor(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "Harmon Pryce & Co", got.Name)
	assert.Equal(t, "ip", got.Practice)

	_, err = s.GetVendor(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListVendorsOrderedByName(t *testing.T) {
	s := newTestStore(t)

	seedVendor(t, s, "v1", "Zimmer Legal")
	seedVendor(t, s, "v2", "Abbott & Drake")

	vendors, err := s.ListVendors(context.Background())
	require.NoError(t, err)
	require.Len(t, vendors, 2)
	assert.Equal(t, "Abbott & Drake", vendors[0].Name)
	assert.Equal(t, "Zimmer Legal", vendors[1].Name)
}

func TestInvoiceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")
	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-1", "v1")))

	got, err := s.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "v1", got.VendorID)
	assert.Equal(t, "Acme Corp", got.Client)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.InDelta(t, 2650, got.TotalAmount, 1e-9)
	assert.Nil(t, got.RiskScore)
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, "Draft complaint", got.LineItems[0].Description)
	assert.InDelta(t, 400, got.LineItems[0].Rate, 1e-9)
	assert.Empty(t, got.LineItems[0].FlagReason)

	_, err = s.GetInvoice(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListInvoicesFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")
	seedVendor(t, s, "v2", "Abbott & Drake")

	for i, tc := range []struct {
		id     string
		vendor string
		status model.InvoiceStatus
	}{
		{"inv-1", "v1", model.StatusPending},
		{"inv-2", "v1", model.StatusApproved},
		{"inv-3", "v2", model.StatusPending},
	} {
		inv := testInvoice(tc.id, tc.vendor)
		inv.Status = tc.status
		inv.LineItems = nil
		inv.TotalAmount = float64(1000 * (i + 1))
		require.NoError(t, s.CreateInvoice(ctx, inv))
	}

	byVendor, err := s.ListInvoices(ctx, InvoiceFilter{VendorID: "v1"})
	require.NoError(t, err)
	assert.Len(t, byVendor, 2)

	byStatus, err := s.ListInvoices(ctx, InvoiceFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	both, err := s.ListInvoices(ctx, InvoiceFilter{VendorID: "v2", Status: model.StatusPending})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "inv-3", both[0].ID)

	limited, err := s.ListInvoices(ctx, InvoiceFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	offset, err := s.ListInvoices(ctx, InvoiceFilter{Limit: 10, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, offset, 1)
}

func TestUpdateInvoiceScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")
	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-1", "v1")))

	require.NoError(t, s.UpdateInvoiceScores(ctx, "inv-1", 0.82, 430.5, model.StatusFlagged))

	got, err := s.GetInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got.RiskScore)
	assert.InDelta(t, 0.82, *got.RiskScore, 1e-9)
	require.NotNil(t, got.OverspendRisk)
	assert.InDelta(t, 430.5, *got.OverspendRisk, 1e-9)
	assert.Equal(t, model.StatusFlagged, got.Status)

	err = s.UpdateInvoiceScores(ctx, "missing", 0.5, 0, model.StatusPending)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteInvoiceCascadesLineItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")
	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-1", "v1")))
	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-2", "v1")))

	require.NoError(t, s.DeleteInvoice(ctx, "inv-1"))

	_, err := s.GetInvoice(ctx, "inv-1")
	require.Error(t, err)

	items, err := s.AllLineItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "inv-2", item.InvoiceID)
	}
}

func TestUpdateLineItemFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")
	require.NoError(t, s.CreateInvoice(ctx, testInvoice("inv-1", "v1")))

	require.NoError(t, s.UpdateLineItemFlags(ctx, []model.LineItem{
		{ID: "inv-1-2", IsFlagged: true, AnomalyScore: 0.88, FlagReason: "statistical outlier in hours/rate/amount"},
	}))

	items, err := s.LineItemsByInvoice(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.False(t, items[0].IsFlagged)
	assert.True(t, items[1].IsFlagged)
	assert.InDelta(t, 0.88, items[1].AnomalyScore, 1e-9)
	assert.Equal(t, "statistical outlier in hours/rate/amount", items[1].FlagReason)

	// Empty batch is a no-op, not an error.
	require.NoError(t, s.UpdateLineItemFlags(ctx, nil))
}

func TestVendorMetricsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedVendor(t, s, "v1", "Harmon & Pryce LLP")

	require.NoError(t, s.UpsertVendorMetrics(ctx, model.VendorMetrics{
		VendorID:     "v1",
		AverageRate:  410,
		FlagRate:     0.1,
		SuccessRate:  0.5,
		TotalSpend:   125000,
		InvoiceCount: 14,
	}))

	cluster := 2
	require.NoError(t, s.UpsertVendorMetrics(ctx, model.VendorMetrics{
		VendorID:     "v1",
		AverageRate:  425,
		FlagRate:     0.12,
		SuccessRate:  0.55,
		TotalSpend:   131000,
		InvoiceCount: 15,
		Cluster:      &cluster,
	}))

	metrics, err := s.ListVendorMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.InDelta(t, 425, metrics[0].AverageRate, 1e-9)
	assert.Equal(t, 15, metrics[0].InvoiceCount)
	require.NotNil(t, metrics[0].Cluster)
	assert.Equal(t, 2, *metrics[0].Cluster)
}

func TestScoringRunsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordScoringRun(ctx, model.ScoringRun{
			InvoiceID: "inv-1",
			Vendor:    "Harmon & Pryce LLP",
			Method:    model.MethodFallback,
			RiskScore: 0.3,
			RiskLevel: model.RiskLow,
			Anomalies: i,
		}))
		time.Sleep(5 * time.Millisecond)
	}

	runs, err := s.ListScoringRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].Anomalies)
	assert.Equal(t, model.MethodFallback, runs[0].Method)
	assert.NotEmpty(t, runs[0].ID)

	all, err := s.ListScoringRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
