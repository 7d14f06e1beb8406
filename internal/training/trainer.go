// Package training builds model artifacts from stored invoice data and
// publishes them to the registry. It is the shared core behind the train
// command, the scheduled refresh, and the workflow worker.
package training

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/analyzer"
	"github.com/sightline-legal/spendscope/internal/features"
	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/registry"
	"github.com/sightline-legal/spendscope/internal/store"
)

// Result reports one published artifact.
type Result struct {
	ModelType model.ModelType    `json:"model_type"`
	Version   int                `json:"version"`
	Metrics   map[string]float64 `json:"metrics"`
	Duration  time.Duration      `json:"duration"`
}

// Trainer wires the store, analyzers, and registry together.
type Trainer struct {
	store    store.Store
	registry *registry.Manager
}

// NewTrainer creates a Trainer.
func NewTrainer(st store.Store, reg *registry.Manager) *Trainer {
	return &Trainer{store: st, registry: reg}
}

// TrainAll trains every model family in order. Vendor clustering failing on
// insufficient vendors is tolerated; any other failure aborts.
func (t *Trainer) TrainAll(ctx context.Context) ([]Result, error) {
	var results []Result
	for _, mt := range model.AllModelTypes {
		res, err := t.Train(ctx, mt)
		if err != nil {
			if mt == model.ModelVendorCluster && eris.Is(err, analyzer.ErrInsufficientData) {
				zap.L().Warn("skipping vendor clustering", zap.Error(err))
				continue
			}
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// Train trains and publishes a single model family.
func (t *Trainer) Train(ctx context.Context, modelType model.ModelType) (*Result, error) {
	start := time.Now()

	var (
		state   []byte
		metrics map[string]float64
		err     error
	)
	switch modelType {
	case model.ModelOutlierDetector:
		state, metrics, err = t.trainOutlier(ctx)
	case model.ModelRiskPredictor:
		state, metrics, err = t.trainRisk(ctx)
	case model.ModelOverspendEstimator:
		state, metrics, err = t.trainOverspend(ctx)
	case model.ModelVendorCluster:
		state, metrics, err = t.trainVendors(ctx)
	default:
		return nil, eris.Errorf("training: unknown model type %q", modelType)
	}
	if err != nil {
		return nil, err
	}

	version, err := t.registry.SaveModel(modelType, state, metrics)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ModelType: modelType,
		Version:   version,
		Metrics:   metrics,
		Duration:  time.Since(start),
	}
	zap.L().Info("model trained",
		zap.String("model_type", string(modelType)),
		zap.Int("version", version),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (t *Trainer) trainOutlier(ctx context.Context) ([]byte, map[string]float64, error) {
	items, err := t.store.AllLineItems(ctx)
	if err != nil {
		return nil, nil, err
	}

	det := analyzer.NewOutlierDetector()
	metrics, err := det.Train(items)
	if err != nil {
		return nil, nil, err
	}
	state, err := det.State()
	return state, metrics, err
}

func (t *Trainer) trainRisk(ctx context.Context) ([]byte, map[string]float64, error) {
	invoices, itemsByInvoice, err := t.corpus(ctx)
	if err != nil {
		return nil, nil, err
	}

	pred := analyzer.NewRiskPredictor()
	metrics, err := pred.Train(invoices, itemsByInvoice)
	if err != nil {
		return nil, nil, err
	}
	state, err := pred.State()
	return state, metrics, err
}

func (t *Trainer) trainOverspend(ctx context.Context) ([]byte, map[string]float64, error) {
	invoices, itemsByInvoice, err := t.corpus(ctx)
	if err != nil {
		return nil, nil, err
	}

	est := analyzer.NewOverspendEstimator()
	metrics, err := est.Train(invoices, itemsByInvoice)
	if err != nil {
		return nil, nil, err
	}
	state, err := est.State()
	return state, metrics, err
}

func (t *Trainer) trainVendors(ctx context.Context) ([]byte, map[string]float64, error) {
	if err := t.RefreshVendorMetrics(ctx); err != nil {
		return nil, nil, err
	}

	metrics, err := t.store.ListVendorMetrics(ctx)
	if err != nil {
		return nil, nil, err
	}

	if len(metrics) > 0 && len(metrics) < 2 {
		// Too few vendors to cluster; pin everything to tier 0 instead.
		zero := 0
		for i := range metrics {
			metrics[i].Cluster = &zero
			if err := t.store.UpsertVendorMetrics(ctx, metrics[i]); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, eris.Wrap(analyzer.ErrInsufficientData, "training: vendor clustering needs at least 2 vendors")
	}

	cluster := analyzer.NewVendorAnalyzer()
	assignments, trainMetrics, err := cluster.Train(metrics)
	if err != nil {
		return nil, nil, err
	}

	for i := range metrics {
		if c, ok := assignments[metrics[i].VendorID]; ok {
			metrics[i].Cluster = &c
			if err := t.store.UpsertVendorMetrics(ctx, metrics[i]); err != nil {
				return nil, nil, err
			}
		}
	}

	state, err := cluster.State()
	return state, trainMetrics, err
}

// RefreshVendorMetrics recomputes per-vendor aggregates from stored invoices
// and line items.
func (t *Trainer) RefreshVendorMetrics(ctx context.Context) error {
	vendors, err := t.store.ListVendors(ctx)
	if err != nil {
		return err
	}

	existing, err := t.store.ListVendorMetrics(ctx)
	if err != nil {
		return err
	}
	priors := make(map[string]model.VendorMetrics, len(existing))
	for _, m := range existing {
		priors[m.VendorID] = m
	}

	for _, v := range vendors {
		prior, ok := priors[v.ID]
		if !ok {
			// No metrics row yet: seed outcome signals neutrally so they
			// neither attract nor repel during clustering.
			prior = model.VendorMetrics{SuccessRate: 0.5, DiversityScore: 0.5}
		}

		invoices, err := t.store.ListInvoices(ctx, store.InvoiceFilter{VendorID: v.ID})
		if err != nil {
			return err
		}
		var items []model.LineItem
		for _, inv := range invoices {
			lines, err := t.store.LineItemsByInvoice(ctx, inv.ID)
			if err != nil {
				return err
			}
			items = append(items, lines...)
		}

		m := features.AggregateVendor(v.ID, invoices, items, prior)
		if err := t.store.UpsertVendorMetrics(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) corpus(ctx context.Context) ([]model.Invoice, map[string][]model.LineItem, error) {
	invoices, err := t.store.ListInvoices(ctx, store.InvoiceFilter{})
	if err != nil {
		return nil, nil, err
	}

	itemsByInvoice := make(map[string][]model.LineItem, len(invoices))
	for _, inv := range invoices {
		lines, err := t.store.LineItemsByInvoice(ctx, inv.ID)
		if err != nil {
			return nil, nil, err
		}
		itemsByInvoice[inv.ID] = lines
	}
	return invoices, itemsByInvoice, nil
}
