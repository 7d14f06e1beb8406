// Package model defines the core domain types shared across the scoring
// pipeline: invoices, line items, vendors, and assessment outputs.
package model

import (
	"math"
	"time"
)

// AmountTolerance is the maximum accepted difference between a line item's
// stored amount and hours * rate.
const AmountTolerance = 0.01

// InvoiceStatus represents the review state of an invoice.
type InvoiceStatus string

const (
	StatusPending    InvoiceStatus = "pending"
	StatusApproved   InvoiceStatus = "approved"
	StatusFlagged    InvoiceStatus = "flagged"
	StatusProcessing InvoiceStatus = "processing"
)

// ModelType identifies one of the trained model families.
type ModelType string

const (
	ModelOutlierDetector    ModelType = "outlier_detector"
	ModelRiskPredictor      ModelType = "risk_predictor"
	ModelOverspendEstimator ModelType = "overspend_estimator"
	ModelVendorCluster      ModelType = "vendor_cluster"
)

// AllModelTypes lists every model family in training order.
var AllModelTypes = []ModelType{
	ModelOutlierDetector,
	ModelRiskPredictor,
	ModelOverspendEstimator,
	ModelVendorCluster,
}

// LineItem is one billed entry on an invoice. Flag fields are written by the
// outlier detector during scoring and are otherwise immutable.
type LineItem struct {
	ID              string  `json:"id"`
	InvoiceID       string  `json:"invoice_id"`
	Description     string  `json:"description"`
	Hours           float64 `json:"hours"`
	Rate            float64 `json:"rate"`
	Amount          float64 `json:"amount"`
	Timekeeper      string  `json:"timekeeper"`
	TimekeeperTitle string  `json:"timekeeper_title"`
	IsFlagged       bool    `json:"is_flagged"`
	AnomalyScore    float64 `json:"anomaly_score"`
	FlagReason      string  `json:"flag_reason,omitempty"`
}

// Reconciles reports whether the stored amount matches hours * rate within
// tolerance.
func (li LineItem) Reconciles() bool {
	return math.Abs(li.Amount-li.Hours*li.Rate) <= AmountTolerance
}

// Invoice owns an ordered list of line items. Deleting an invoice deletes its
// lines.
type Invoice struct {
	ID            string        `json:"id"`
	VendorID      string        `json:"vendor_id"`
	Client        string        `json:"client,omitempty"`
	Matter        string        `json:"matter,omitempty"`
	Date          time.Time     `json:"date"`
	TotalAmount   float64       `json:"total_amount"`
	Status        InvoiceStatus `json:"status"`
	OverspendRisk *float64      `json:"overspend_risk,omitempty"`
	RiskScore     *float64      `json:"risk_score,omitempty"`
	LineItems     []LineItem    `json:"line_items,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Vendor is a billing entity (law firm or other provider).
type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Practice  string    `json:"practice,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VendorMetrics holds aggregated, derived statistics per vendor. Cluster is
// only meaningful after a vendor cluster model of matching feature schema has
// been trained.
type VendorMetrics struct {
	VendorID       string    `json:"vendor_id"`
	AverageRate    float64   `json:"average_rate"`
	FlagRate       float64   `json:"flag_rate"`
	SuccessRate    float64   `json:"success_rate"`
	DiversityScore float64   `json:"diversity_score"`
	TotalSpend     float64   `json:"total_spend"`
	InvoiceCount   int       `json:"invoice_count"`
	Cluster        *int      `json:"cluster,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// InvoicePayload is the boundary input for a scoring request. It is validated
// before reaching the feature extractor.
type InvoicePayload struct {
	InvoiceID string            `json:"invoice_id,omitempty"`
	Vendor    string            `json:"vendor"`
	Client    string            `json:"client,omitempty"`
	Matter    string            `json:"matter,omitempty"`
	Amount    float64           `json:"amount,omitempty"`
	Date      string            `json:"date,omitempty"`
	Status    InvoiceStatus     `json:"status,omitempty"`
	LineItems []LineItemPayload `json:"line_items"`
}

// LineItemPayload is the boundary input for one line item.
type LineItemPayload struct {
	Description     string  `json:"description"`
	Hours           float64 `json:"hours"`
	Rate            float64 `json:"rate"`
	Amount          float64 `json:"amount"`
	Timekeeper      string  `json:"timekeeper,omitempty"`
	TimekeeperTitle string  `json:"timekeeper_title,omitempty"`
}

// ToLineItem converts a payload entry, computing the amount from hours * rate
// when it was omitted.
func (p LineItemPayload) ToLineItem() LineItem {
	amount := p.Amount
	if amount == 0 && p.Hours > 0 && p.Rate > 0 {
		amount = p.Hours * p.Rate
	}
	return LineItem{
		Description:     p.Description,
		Hours:           p.Hours,
		Rate:            p.Rate,
		Amount:          amount,
		Timekeeper:      p.Timekeeper,
		TimekeeperTitle: p.TimekeeperTitle,
	}
}
