// Package store persists invoices, line items, vendors, and scoring audit
// records behind a backend-neutral interface.
package store

import (
	"context"

	"github.com/sightline-legal/spendscope/internal/model"
)

// InvoiceFilter specifies criteria for listing invoices.
type InvoiceFilter struct {
	VendorID string              `json:"vendor_id,omitempty"`
	Status   model.InvoiceStatus `json:"status,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scoring pipeline. Training
// corpora are read through it; scoring writes flags and scores back.
type Store interface {
	// Vendors
	UpsertVendor(ctx context.Context, v model.Vendor) error
	GetVendor(ctx context.Context, id string) (*model.Vendor, error)
	ListVendors(ctx context.Context) ([]model.Vendor, error)

	// Invoices (line items ride along; deleting an invoice deletes its lines)
	CreateInvoice(ctx context.Context, inv model.Invoice) error
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error)
	UpdateInvoiceScores(ctx context.Context, id string, riskScore, overspend float64, status model.InvoiceStatus) error
	DeleteInvoice(ctx context.Context, id string) error

	// Line items
	LineItemsByInvoice(ctx context.Context, invoiceID string) ([]model.LineItem, error)
	AllLineItems(ctx context.Context) ([]model.LineItem, error)
	UpdateLineItemFlags(ctx context.Context, items []model.LineItem) error

	// Vendor metrics
	UpsertVendorMetrics(ctx context.Context, m model.VendorMetrics) error
	ListVendorMetrics(ctx context.Context) ([]model.VendorMetrics, error)

	// Scoring audit trail
	RecordScoringRun(ctx context.Context, run model.ScoringRun) error
	ListScoringRuns(ctx context.Context, limit int) ([]model.ScoringRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
