package main

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/model"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train models from stored invoice data",
	Long: `Trains the outlier detector, risk predictor, overspend estimator, and
vendor clustering models from the invoices in the store, then publishes each
as a new registry version and flips the current pointer.

Examples:
  # Train everything
  spendscope train

  # Train a single model family
  spendscope train --model risk_predictor

  # Bootstrap from a synthetic corpus when the store is empty
  spendscope train --synthetic`,
	RunE: runTrain,
}

func init() {
	trainCmd.Flags().String("model", "", "train only this model family (outlier_detector, risk_predictor, overspend_estimator, vendor_cluster)")
	trainCmd.Flags().Bool("synthetic", false, "seed a synthetic corpus into the store before training")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	if synthetic, _ := cmd.Flags().GetBool("synthetic"); synthetic {
		if err := seedSynthetic(ctx, env, 0, 0); err != nil {
			return err
		}
	}

	only, _ := cmd.Flags().GetString("model")
	if only != "" {
		mt := model.ModelType(only)
		valid := false
		for _, known := range model.AllModelTypes {
			if mt == known {
				valid = true
				break
			}
		}
		if !valid {
			return eris.Errorf("unknown model family %q", only)
		}

		res, err := env.Trainer.Train(ctx, mt)
		env.Collector.ObserveTraining(only, err)
		if err != nil {
			return err
		}
		printTrainResult(res.ModelType, res.Version, res.Metrics)
		return nil
	}

	results, err := env.Trainer.TrainAll(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		printTrainResult(res.ModelType, res.Version, res.Metrics)
	}

	zap.L().Info("training complete", zap.Int("models", len(results)))
	return nil
}

func printTrainResult(mt model.ModelType, version int, metrics map[string]float64) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%s: v%d", mt, version)
	for _, k := range keys {
		fmt.Printf("  %s=%.4f", k, metrics[k])
	}
	fmt.Println()
}
