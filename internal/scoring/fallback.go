package scoring

import (
	"github.com/sightline-legal/spendscope/internal/analyzer"
	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
)

// scoreFallback is the deterministic rule-based scorer used when model
// artifacts are missing or the ML subsystem failed to initialize. Its output
// always carries the model_fallback note and fallback scoring method so it
// can never masquerade as a model-backed score.
func (o *Orchestrator) scoreFallback(inv model.Invoice, items []model.LineItem) *model.RiskAssessment {
	assessment := &model.RiskAssessment{
		ScoringMethod: model.MethodFallback,
		Note:          model.NoteModelFallback,
		Anomalies:     []model.AnomalySummary{},
		RiskFactors:   []model.RiskFactor{},
	}

	rates := make([]float64, 0, len(items))
	for _, item := range items {
		rates = append(rates, item.Rate)
	}
	meanRate := ml.Mean(rates)

	// Rule 1: a line whose rate exceeds a fixed multiple of the batch mean
	// is suspicious.
	rateCutoff := meanRate * o.cfg.FallbackRateMultiple
	var score float64
	for i := range items {
		suspicious := false
		reason := ""
		switch {
		case meanRate > 0 && items[i].Rate > rateCutoff:
			suspicious = true
			reason = "rate exceeds fallback multiple of batch mean"
		case !items[i].Reconciles():
			suspicious = true
			reason = "amount does not reconcile with hours x rate"
		}
		if !suspicious {
			continue
		}
		items[i].IsFlagged = true
		items[i].FlagReason = reason
		outlierScore := 0.5
		if meanRate > 0 {
			outlierScore = ml.Clamp(items[i].Rate/rateCutoff, 0, 1)
		}
		items[i].AnomalyScore = outlierScore
		assessment.Anomalies = append(assessment.Anomalies, model.AnomalySummary{
			Description:  items[i].Description,
			Hours:        items[i].Hours,
			Rate:         items[i].Rate,
			Amount:       items[i].Amount,
			OutlierScore: outlierScore,
			Reason:       reason,
		})
		score += 0.2
	}

	// Rule 2: pending invoices carry baseline risk.
	if inv.Status == model.StatusPending {
		score += 0.1
		assessment.RiskFactors = append(assessment.RiskFactors, model.RiskFactor{
			Factor:     "status_pending",
			Importance: 0.1,
			Value:      1,
		})
	}

	// Rule 3: rates over the configured benchmark raise risk proportionally.
	if o.cfg.BenchmarkRate > 0 && meanRate > o.cfg.BenchmarkRate {
		deviation := (meanRate - o.cfg.BenchmarkRate) / o.cfg.BenchmarkRate
		score += ml.Clamp(deviation, 0, 0.3)
		assessment.RiskFactors = append(assessment.RiskFactors, model.RiskFactor{
			Factor:     "rate_mean",
			Importance: ml.Clamp(deviation, 0, 0.3),
			Value:      meanRate,
		})
	}

	if len(assessment.Anomalies) > 0 {
		assessment.RiskFactors = append(assessment.RiskFactors, model.RiskFactor{
			Factor:     "flagged_lines",
			Importance: 0.2,
			Value:      float64(len(assessment.Anomalies)),
		})
	}

	// Overspend against the shared heuristic baseline; no model involved.
	if len(items) > 0 {
		assessment.OverspendAmount = inv.TotalAmount - analyzer.ExpectedBaseline(items)
	}

	assessment.RiskScore = ml.Clamp(score, 0, 1)
	assessment.RiskLevel = o.riskLevel(assessment.RiskScore)
	assessment.MarketAnalysis = o.marketAnalysis(items)
	assessment.Recommendations = o.recommendations(assessment, inv, items)
	return assessment
}
