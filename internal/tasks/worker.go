package tasks

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/sightline-legal/spendscope/internal/config"
)

// NewClient dials the Temporal frontend from configuration.
func NewClient(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrap(err, "tasks: dial temporal")
	}
	return c, nil
}

// RunWorker registers the workflows and activities and blocks until ctx is
// cancelled.
func RunWorker(ctx context.Context, c client.Client, taskQueue string, acts *Activities) error {
	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(RetrainWorkflow)
	w.RegisterWorkflow(CleanupWorkflow)
	w.RegisterActivity(acts)

	if err := w.Start(); err != nil {
		return eris.Wrap(err, "tasks: start worker")
	}
	defer w.Stop()

	<-ctx.Done()
	return nil
}

// TriggerRetrain starts a retraining workflow and waits for its result.
func TriggerRetrain(ctx context.Context, c client.Client, taskQueue string) (*RetrainResult, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		TaskQueue: taskQueue,
	}, RetrainWorkflow)
	if err != nil {
		return nil, eris.Wrap(err, "tasks: start retrain workflow")
	}

	var result RetrainResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, eris.Wrap(err, "tasks: retrain workflow")
	}
	return &result, nil
}
