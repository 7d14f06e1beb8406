package tasks

import (
	"context"

	"go.temporal.io/sdk/activity"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/monitoring"
	"github.com/sightline-legal/spendscope/internal/registry"
	"github.com/sightline-legal/spendscope/internal/training"
)

// Activities holds the dependencies shared by all task activities.
type Activities struct {
	Trainer   *training.Trainer
	Registry  *registry.Manager
	Collector *monitoring.Collector
}

// TrainModel trains and publishes one model family.
func (a *Activities) TrainModel(ctx context.Context, modelType model.ModelType) (*training.Result, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("training model", "model_type", string(modelType))

	res, err := a.Trainer.Train(ctx, modelType)
	if a.Collector != nil {
		a.Collector.ObserveTraining(string(modelType), err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// PruneArtifacts removes old artifact versions for one model family.
func (a *Activities) PruneArtifacts(ctx context.Context, modelType model.ModelType, keep int) (int, error) {
	if keep <= 0 {
		keep = 5
	}
	return a.Registry.Prune(modelType, keep)
}
