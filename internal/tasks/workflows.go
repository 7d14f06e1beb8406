// Package tasks defines the background workflows for model retraining and
// artifact cleanup, plus the worker that executes them.
package tasks

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/training"
)

// RetrainResult summarizes one retraining workflow run.
type RetrainResult struct {
	Trained []training.Result `json:"trained"`
	Skipped []string          `json:"skipped,omitempty"`
}

// CleanupParams controls artifact pruning.
type CleanupParams struct {
	KeepVersions int `json:"keep_versions"`
}

// CleanupResult reports pruned artifact counts per model family.
type CleanupResult struct {
	Pruned map[string]int `json:"pruned"`
}

// RetrainWorkflow retrains every model family in order. Vendor clustering is
// allowed to fail on small vendor rosters; any other failure fails the run.
func RetrainWorkflow(ctx workflow.Context) (*RetrainResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
			BackoffCoefficient: 2,
		},
	})

	logger := workflow.GetLogger(ctx)
	result := &RetrainResult{}

	for _, mt := range model.AllModelTypes {
		var res training.Result
		err := workflow.ExecuteActivity(ctx, (*Activities).TrainModel, mt).Get(ctx, &res)
		if err != nil {
			if mt == model.ModelVendorCluster {
				logger.Warn("vendor clustering skipped", "error", err)
				result.Skipped = append(result.Skipped, string(mt))
				continue
			}
			return nil, err
		}
		result.Trained = append(result.Trained, res)
	}

	return result, nil
}

// CleanupWorkflow prunes old model artifacts, never touching the current
// version of any family.
func CleanupWorkflow(ctx workflow.Context, params CleanupParams) (*CleanupResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})

	result := &CleanupResult{Pruned: map[string]int{}}
	for _, mt := range model.AllModelTypes {
		var pruned int
		err := workflow.ExecuteActivity(ctx, (*Activities).PruneArtifacts, mt, params.KeepVersions).Get(ctx, &pruned)
		if err != nil {
			return nil, err
		}
		result.Pruned[string(mt)] = pruned
	}
	return result, nil
}
