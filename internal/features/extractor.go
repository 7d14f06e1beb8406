// Package features converts invoices and line items into the fixed-schema
// numeric vectors consumed by every model. Extraction is pure: it never
// mutates its inputs.
package features

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sightline-legal/spendscope/internal/model"
)

// ErrSchema indicates input that violates the feature contract (negative or
// non-finite hours/rate/amount). It marks a caller/data contract violation
// and is never retried.
var ErrSchema = eris.New("features: dataset missing or violating required columns")

// LineItemFeatureNames are the columns of the per-line matrix, in order.
var LineItemFeatureNames = []string{"hours", "rate", "amount"}

// InvoiceFeatureNames are the columns of the invoice-level aggregate vector,
// in order. Missing aggregates default to zero, never null.
var InvoiceFeatureNames = []string{
	"total_amount",
	"status_pending",
	"hours_sum",
	"hours_mean",
	"hours_std",
	"rate_mean",
	"rate_std",
	"amount_sum",
	"amount_mean",
	"amount_std",
}

// VendorFeatureNames are the columns of the vendor-level vector, in order.
var VendorFeatureNames = []string{"average_rate", "flag_rate", "success_rate", "diversity_score"}

// LineItemMatrix builds the {hours, rate, amount} matrix for outlier
// detection. Returns ErrSchema when any value is negative or non-finite.
func LineItemMatrix(items []model.LineItem) ([][]float64, error) {
	rows := make([][]float64, 0, len(items))
	for i, item := range items {
		if !validValue(item.Hours) || !validValue(item.Rate) || !validValue(item.Amount) {
			return nil, eris.Wrapf(ErrSchema, "line item %d", i)
		}
		rows = append(rows, []float64{item.Hours, item.Rate, item.Amount})
	}
	return rows, nil
}

// InvoiceVector builds the invoice-level aggregate feature vector combining
// total amount, a pending-status indicator, and grouped line-item aggregates.
func InvoiceVector(inv model.Invoice, items []model.LineItem) ([]float64, error) {
	if !validValue(inv.TotalAmount) {
		return nil, eris.Wrap(ErrSchema, "invoice total_amount")
	}

	pending := 0.0
	if inv.Status == model.StatusPending {
		pending = 1.0
	}

	hours := make([]float64, 0, len(items))
	rates := make([]float64, 0, len(items))
	amounts := make([]float64, 0, len(items))
	for i, item := range items {
		if !validValue(item.Hours) || !validValue(item.Rate) || !validValue(item.Amount) {
			return nil, eris.Wrapf(ErrSchema, "line item %d", i)
		}
		hours = append(hours, item.Hours)
		rates = append(rates, item.Rate)
		amounts = append(amounts, item.Amount)
	}

	return []float64{
		inv.TotalAmount,
		pending,
		sum(hours),
		mean(hours),
		std(hours),
		mean(rates),
		std(rates),
		sum(amounts),
		mean(amounts),
		std(amounts),
	}, nil
}

// VendorVector builds the per-vendor clustering vector from aggregated
// metrics. SuccessRate and DiversityScore may be externally supplied
// placeholders when not derivable from billing data.
func VendorVector(m model.VendorMetrics) ([]float64, error) {
	vals := []float64{m.AverageRate, m.FlagRate, m.SuccessRate, m.DiversityScore}
	for i, v := range vals {
		if !validValue(v) {
			return nil, eris.Wrapf(ErrSchema, "vendor metric %s", VendorFeatureNames[i])
		}
	}
	return vals, nil
}

// AggregateVendor derives vendor metrics from that vendor's invoices and line
// items: mean rate, flagged-line fraction, total spend, and invoice count.
// Success rate and diversity score are carried over from prior metrics.
func AggregateVendor(vendorID string, invoices []model.Invoice, items []model.LineItem, prior model.VendorMetrics) model.VendorMetrics {
	out := model.VendorMetrics{
		VendorID:       vendorID,
		SuccessRate:    prior.SuccessRate,
		DiversityScore: prior.DiversityScore,
	}

	var rates []float64
	flagged := 0
	for _, item := range items {
		rates = append(rates, item.Rate)
		if item.IsFlagged {
			flagged++
		}
	}
	out.AverageRate = mean(rates)
	if len(items) > 0 {
		out.FlagRate = float64(flagged) / float64(len(items))
	}

	for _, inv := range invoices {
		out.TotalSpend += inv.TotalAmount
	}
	out.InvoiceCount = len(invoices)

	return out
}

// Reconcile reports line items whose amount deviates from hours * rate by
// more than the shared tolerance. Returned indices refer to the input slice.
func Reconcile(items []model.LineItem) []int {
	var bad []int
	for i, item := range items {
		if !item.Reconciles() {
			bad = append(bad, i)
		}
	}
	return bad
}

func validValue(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func std(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)))
}
