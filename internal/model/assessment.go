package model

import "time"

// RiskLevel is the tier derived from a risk score by configurable thresholds.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ScoringMethod distinguishes model-backed output from degraded output.
type ScoringMethod string

const (
	MethodModel    ScoringMethod = "model"
	MethodFallback ScoringMethod = "fallback_rules"
)

// NoteModelFallback is set on assessments produced by the deterministic
// fallback scorer so callers can never mistake them for model-backed scores.
const NoteModelFallback = "model_fallback"

// AnomalySummary describes one flagged line item in an assessment.
type AnomalySummary struct {
	Description  string  `json:"description"`
	Hours        float64 `json:"hours"`
	Rate         float64 `json:"rate"`
	Amount       float64 `json:"amount"`
	OutlierScore float64 `json:"outlier_score"`
	Reason       string  `json:"reason,omitempty"`
}

// RiskFactor is one explanatory factor behind a risk score. Importance is the
// model's global feature importance, not a per-prediction attribution.
type RiskFactor struct {
	Factor     string  `json:"factor"`
	Importance float64 `json:"importance"`
	Value      float64 `json:"value"`
}

// MarketAnalysis compares invoice rates against configured benchmarks.
type MarketAnalysis struct {
	MeanRate       float64 `json:"mean_rate"`
	BenchmarkRate  float64 `json:"benchmark_rate"`
	RateDeviation  float64 `json:"rate_deviation"`
	AboveBenchmark bool    `json:"above_benchmark"`
}

// RiskAssessment is the structured result of one scoring call. It is built
// per call and not persisted as its own table.
type RiskAssessment struct {
	InvoiceID       string           `json:"invoice_id,omitempty"`
	RiskScore       float64          `json:"risk_score"`
	RiskLevel       RiskLevel        `json:"risk_level"`
	OverspendAmount float64          `json:"overspend_amount"`
	Anomalies       []AnomalySummary `json:"anomalies"`
	RiskFactors     []RiskFactor     `json:"risk_factors"`
	Recommendations []string         `json:"recommendations"`
	MarketAnalysis  MarketAnalysis   `json:"market_analysis"`
	Note            string           `json:"note,omitempty"`
	ScoringMethod   ScoringMethod    `json:"scoring_method"`
	ScoredAt        time.Time        `json:"scored_at"`
}

// ScoringRun is the audit record written after each scoring call.
type ScoringRun struct {
	ID         string        `json:"id"`
	InvoiceID  string        `json:"invoice_id,omitempty"`
	Vendor     string        `json:"vendor"`
	Method     ScoringMethod `json:"method"`
	RiskScore  float64       `json:"risk_score"`
	RiskLevel  RiskLevel     `json:"risk_level"`
	Anomalies  int           `json:"anomalies"`
	DurationMS int64         `json:"duration_ms"`
	CreatedAt  time.Time     `json:"created_at"`
}

// ArtifactInfo describes one stored model version.
type ArtifactInfo struct {
	ModelType ModelType          `json:"model_type"`
	Version   int                `json:"version"`
	Current   bool               `json:"current"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}
