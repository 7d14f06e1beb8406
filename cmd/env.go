package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sightline-legal/spendscope/internal/monitoring"
	"github.com/sightline-legal/spendscope/internal/notify"
	"github.com/sightline-legal/spendscope/internal/registry"
	"github.com/sightline-legal/spendscope/internal/scoring"
	"github.com/sightline-legal/spendscope/internal/store"
	"github.com/sightline-legal/spendscope/internal/training"
)

// scoringEnv holds the store, registry, and orchestrator shared by the
// score/serve/train/import commands.
type scoringEnv struct {
	Store        store.Store
	Registry     *registry.Manager
	Orchestrator *scoring.Orchestrator
	Trainer      *training.Trainer
	Collector    *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *scoringEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, migrates it, opens the model registry, and
// builds the orchestrator with any available model artifacts. Callers should
// defer env.Close().
func initEnv(ctx context.Context) (*scoringEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	reg, err := registry.NewManager(cfg.Registry.Dir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	orch := scoring.NewOrchestrator(cfg.Scoring, reg, notify.NewWebhook(cfg.Notify))
	if err := orch.LoadModels(); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &scoringEnv{
		Store:        st,
		Registry:     reg,
		Orchestrator: orch,
		Trainer:      training.NewTrainer(st, reg),
		Collector:    monitoring.NewCollector(),
	}, nil
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
