package scoring

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sightline-legal/spendscope/internal/model"
)

// recommendation thresholds; rule text must stay deterministic for a given
// assessment so repeated scoring of identical input is bit-identical.
const (
	rateDeviationWarn = 0.15
	flagRateWarn      = 0.25
)

var printer = message.NewPrinter(language.AmericanEnglish)

// recommendations derives deterministic, rule-based review guidance from the
// assessment signals.
func (o *Orchestrator) recommendations(a *model.RiskAssessment, inv model.Invoice, items []model.LineItem) []string {
	recs := []string{}

	if len(a.Anomalies) > 0 {
		recs = append(recs, printer.Sprintf(
			"Review %d flagged line item(s) before approval; highest outlier score %.2f.",
			len(a.Anomalies), maxOutlierScore(a.Anomalies)))
	}
	if len(items) > 0 {
		flagRate := float64(len(a.Anomalies)) / float64(len(items))
		if flagRate >= flagRateWarn {
			recs = append(recs, printer.Sprintf(
				"%.0f%% of line items are flagged; consider a full invoice audit.", flagRate*100))
		}
	}

	if a.MarketAnalysis.BenchmarkRate > 0 && a.MarketAnalysis.RateDeviation > rateDeviationWarn {
		recs = append(recs, printer.Sprintf(
			"Mean rate $%.2f/hr is %.0f%% above the $%.2f/hr benchmark; negotiate rates with this vendor.",
			a.MarketAnalysis.MeanRate, a.MarketAnalysis.RateDeviation*100, a.MarketAnalysis.BenchmarkRate))
	}

	if a.OverspendAmount > 0 {
		recs = append(recs, printer.Sprintf(
			"Projected overspend of $%.2f against the expected baseline; verify scope before payment.",
			a.OverspendAmount))
	}

	switch a.RiskLevel {
	case model.RiskHigh:
		recs = append(recs, "High risk: route to senior reviewer and hold payment pending review.")
	case model.RiskMedium:
		recs = append(recs, "Medium risk: spot-check the largest line items before approval.")
	default:
		if len(recs) == 0 {
			recs = append(recs, "No significant risk signals; routine approval is appropriate.")
		}
	}

	if a.ScoringMethod == model.MethodFallback {
		recs = append(recs, "Scored with fallback rules (models unavailable); retrain models for full analysis.")
	}

	return recs
}

func maxOutlierScore(anomalies []model.AnomalySummary) float64 {
	var max float64
	for _, a := range anomalies {
		if a.OutlierScore > max {
			max = a.OutlierScore
		}
	}
	return max
}
