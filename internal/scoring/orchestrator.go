// Package scoring sequences extraction, models, and aggregation into one
// risk assessment per invoice, with a deterministic rule-based fallback when
// model artifacts are unavailable.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/analyzer"
	"github.com/sightline-legal/spendscope/internal/config"
	"github.com/sightline-legal/spendscope/internal/ml"
	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/registry"
)

// ValidationError reports a malformed or incomplete scoring payload with
// field-level detail. It is surfaced to the caller and never retried.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "scoring: invalid payload: " + strings.Join(parts, "; ")
}

// Notifier receives completed assessments fire-and-forget.
type Notifier interface {
	NotifyAssessment(ctx context.Context, a model.RiskAssessment)
}

// availability is the typed decision, made once at orchestration start, of
// whether scoring runs model-backed or on fallback rules.
type availability struct {
	outlier   *analyzer.OutlierDetector
	risk      *analyzer.RiskPredictor
	overspend *analyzer.OverspendEstimator
	modelOK   bool
}

// Orchestrator is the single scoring entry point. Models are loaded once and
// shared read-only across concurrent calls; each call is a pure function of
// the payload and the loaded artifacts.
type Orchestrator struct {
	cfg      config.ScoringConfig
	registry *registry.Manager
	notifier Notifier

	mu     sync.RWMutex
	loaded *availability
}

// NewOrchestrator creates an orchestrator bound to a model registry. The
// registry handle is explicit; there is no ambient global model state.
func NewOrchestrator(cfg config.ScoringConfig, reg *registry.Manager, notifier Notifier) *Orchestrator {
	return &Orchestrator{cfg: cfg, registry: reg, notifier: notifier}
}

// LoadModels loads the current artifact for each per-invoice model type.
// Missing artifacts are not an error here: they resolve to the fallback
// path at scoring time.
func (o *Orchestrator) LoadModels() error {
	avail := &availability{
		outlier:   analyzer.NewOutlierDetector(),
		risk:      analyzer.NewRiskPredictor(),
		overspend: analyzer.NewOverspendEstimator(),
	}

	restored := 0
	for _, target := range []struct {
		modelType model.ModelType
		restore   func([]byte) error
	}{
		{model.ModelOutlierDetector, avail.outlier.Restore},
		{model.ModelRiskPredictor, avail.risk.Restore},
		{model.ModelOverspendEstimator, avail.overspend.Restore},
	} {
		state, version, err := o.registry.LoadModel(target.modelType)
		if err != nil {
			if eris.Is(err, registry.ErrNotFound) {
				continue
			}
			return eris.Wrapf(err, "scoring: load %s", target.modelType)
		}
		if err := target.restore(state); err != nil {
			return eris.Wrapf(err, "scoring: restore %s", target.modelType)
		}
		restored++
		zap.L().Info("scoring: model loaded",
			zap.String("model_type", string(target.modelType)),
			zap.Int("version", version),
		)
	}

	avail.modelOK = avail.outlier.Trained() && avail.risk.Trained() && avail.overspend.Trained()

	o.mu.Lock()
	o.loaded = avail
	o.mu.Unlock()

	if !avail.modelOK {
		zap.L().Warn("scoring: incomplete model set, fallback scoring active",
			zap.Int("models_loaded", restored),
		)
	}
	return nil
}

// Score validates the payload, runs the model-backed pipeline when artifacts
// are available, and otherwise produces a fallback-annotated assessment.
// Whenever validation passes the caller receives a structured result, never
// an opaque failure.
func (o *Orchestrator) Score(ctx context.Context, payload model.InvoicePayload) (*model.RiskAssessment, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	o.mu.RLock()
	avail := o.loaded
	o.mu.RUnlock()
	if avail == nil {
		avail = &availability{}
	}

	inv, items := payloadToInvoice(payload)

	var (
		assessment *model.RiskAssessment
		err        error
	)
	if avail.modelOK {
		assessment, err = o.scoreWithModels(avail, inv, items)
		if err != nil {
			return nil, err
		}
	} else {
		assessment = o.scoreFallback(inv, items)
	}

	assessment.InvoiceID = payload.InvoiceID
	assessment.ScoredAt = time.Now().UTC()

	if o.notifier != nil {
		o.notifier.NotifyAssessment(ctx, *assessment)
	}

	zap.L().Info("scoring: assessment complete",
		zap.String("invoice_id", assessment.InvoiceID),
		zap.String("vendor", payload.Vendor),
		zap.String("method", string(assessment.ScoringMethod)),
		zap.Float64("risk_score", assessment.RiskScore),
		zap.String("risk_level", string(assessment.RiskLevel)),
		zap.Int("anomalies", len(assessment.Anomalies)),
	)
	return assessment, nil
}

// ModelBacked reports whether the loaded artifact set supports model scoring.
func (o *Orchestrator) ModelBacked() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loaded != nil && o.loaded.modelOK
}

func (o *Orchestrator) scoreWithModels(avail *availability, inv model.Invoice, items []model.LineItem) (*model.RiskAssessment, error) {
	assessment := &model.RiskAssessment{
		ScoringMethod: model.MethodModel,
		Anomalies:     []model.AnomalySummary{},
	}

	if len(items) > 0 {
		flags, err := avail.outlier.Predict(items)
		if err != nil {
			return nil, eris.Wrap(err, "scoring: outlier predict")
		}
		scores, err := avail.outlier.AnomalyScores(items)
		if err != nil {
			return nil, eris.Wrap(err, "scoring: anomaly scores")
		}
		for i := range items {
			items[i].AnomalyScore = scores[i]
			if flags[i] {
				items[i].IsFlagged = true
				items[i].FlagReason = "statistical outlier in hours/rate/amount"
				assessment.Anomalies = append(assessment.Anomalies, model.AnomalySummary{
					Description:  items[i].Description,
					Hours:        items[i].Hours,
					Rate:         items[i].Rate,
					Amount:       items[i].Amount,
					OutlierScore: scores[i],
					Reason:       items[i].FlagReason,
				})
			}
		}
	}

	riskScore, err := avail.risk.Predict(inv, items)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: risk predict")
	}
	assessment.RiskScore = riskScore
	assessment.RiskLevel = o.riskLevel(riskScore)

	factors, err := avail.risk.ExplainRisk(inv, items)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: explain risk")
	}
	assessment.RiskFactors = factors

	if len(items) > 0 {
		overspend, err := avail.overspend.Predict(inv, items)
		if err != nil {
			return nil, eris.Wrap(err, "scoring: overspend predict")
		}
		assessment.OverspendAmount = overspend
	}

	assessment.MarketAnalysis = o.marketAnalysis(items)
	assessment.Recommendations = o.recommendations(assessment, inv, items)
	return assessment, nil
}

// riskLevel maps a score to its tier by the configured thresholds.
func (o *Orchestrator) riskLevel(score float64) model.RiskLevel {
	switch {
	case score >= o.cfg.HighThreshold:
		return model.RiskHigh
	case score >= o.cfg.LowThreshold:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func (o *Orchestrator) marketAnalysis(items []model.LineItem) model.MarketAnalysis {
	rates := make([]float64, 0, len(items))
	for _, item := range items {
		rates = append(rates, item.Rate)
	}
	meanRate := ml.Mean(rates)
	analysis := model.MarketAnalysis{
		MeanRate:      meanRate,
		BenchmarkRate: o.cfg.BenchmarkRate,
	}
	if o.cfg.BenchmarkRate > 0 {
		analysis.RateDeviation = (meanRate - o.cfg.BenchmarkRate) / o.cfg.BenchmarkRate
		analysis.AboveBenchmark = analysis.RateDeviation > 0
	}
	return analysis
}

func validatePayload(p model.InvoicePayload) error {
	fields := make(map[string]string)
	if strings.TrimSpace(p.Vendor) == "" {
		fields["vendor"] = "is required"
	}
	if len(p.LineItems) == 0 && p.Amount <= 0 {
		fields["line_items"] = "at least one line item or a positive amount is required"
	}
	for i, li := range p.LineItems {
		if li.Hours < 0 {
			fields[fmt.Sprintf("line_items[%d].hours", i)] = "must be >= 0"
		}
		if li.Rate < 0 {
			fields[fmt.Sprintf("line_items[%d].rate", i)] = "must be >= 0"
		}
	}
	if p.Status != "" {
		switch p.Status {
		case model.StatusPending, model.StatusApproved, model.StatusFlagged, model.StatusProcessing:
		default:
			fields["status"] = fmt.Sprintf("unknown status %q", p.Status)
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// payloadToInvoice builds the internal invoice view of a payload. The total
// defaults to the line-item sum when no amount was provided.
func payloadToInvoice(p model.InvoicePayload) (model.Invoice, []model.LineItem) {
	items := make([]model.LineItem, 0, len(p.LineItems))
	var sum float64
	for _, lp := range p.LineItems {
		item := lp.ToLineItem()
		items = append(items, item)
		sum += item.Amount
	}

	total := p.Amount
	if total == 0 {
		total = sum
	}

	status := p.Status
	if status == "" {
		status = model.StatusPending
	}

	date := time.Now().UTC()
	if p.Date != "" {
		if parsed, err := time.Parse("2006-01-02", p.Date); err == nil {
			date = parsed
		}
	}

	return model.Invoice{
		ID:          p.InvoiceID,
		VendorID:    p.Vendor,
		Client:      p.Client,
		Matter:      p.Matter,
		Date:        date,
		TotalAmount: total,
		Status:      status,
	}, items
}

// UpdateScoredItems copies the flags and scores the orchestrator set during
// scoring back onto the payload's items for persistence by the caller.
func UpdateScoredItems(items []model.LineItem, a *model.RiskAssessment) []model.LineItem {
	flagged := make(map[string]model.AnomalySummary, len(a.Anomalies))
	for _, an := range a.Anomalies {
		flagged[an.Description] = an
	}
	for i := range items {
		if an, ok := flagged[items[i].Description]; ok {
			items[i].IsFlagged = true
			items[i].AnomalyScore = an.OutlierScore
			items[i].FlagReason = an.Reason
		}
	}
	return items
}
