package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/tasks"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long: `Connects to Temporal and executes retraining and artifact cleanup
workflows from the configured task queue.`,
	RunE: runWorker,
}

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Trigger a retraining workflow and wait for it",
	RunE:  runRetrain,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(retrainCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	c, err := tasks.NewClient(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	acts := &tasks.Activities{
		Trainer:   env.Trainer,
		Registry:  env.Registry,
		Collector: env.Collector,
	}

	zap.L().Info("worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	return tasks.RunWorker(ctx, c, cfg.Temporal.TaskQueue, acts)
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	c, err := tasks.NewClient(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := tasks.TriggerRetrain(ctx, c, cfg.Temporal.TaskQueue)
	if err != nil {
		return err
	}

	for _, res := range result.Trained {
		printTrainResult(res.ModelType, res.Version, res.Metrics)
	}
	for _, skipped := range result.Skipped {
		zap.L().Warn("model skipped", zap.String("model_type", skipped))
	}
	return nil
}
