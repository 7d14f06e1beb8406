package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scoring API server",
	Long: `Starts the HTTP API with scoring, model listing, vendor metrics, and
Prometheus metrics endpoints. Also runs the scheduled vendor metric refresh
and artifact prune jobs in-process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	serverCfg := cfg.Server
	if servePort != 0 {
		serverCfg.Port = servePort
	}

	sched := cron.New()
	if cfg.Schedule.VendorRefresh != "" {
		_, err := sched.AddFunc(cfg.Schedule.VendorRefresh, func() {
			if err := env.Trainer.RefreshVendorMetrics(ctx); err != nil {
				zap.L().Error("scheduled vendor refresh failed", zap.Error(err))
				return
			}
			zap.L().Info("vendor metrics refreshed")
		})
		if err != nil {
			return err
		}
	}
	if cfg.Schedule.ArtifactPrune != "" {
		_, err := sched.AddFunc(cfg.Schedule.ArtifactPrune, func() {
			for _, mt := range model.AllModelTypes {
				pruned, err := env.Registry.Prune(mt, cfg.Registry.KeepVersions)
				if err != nil {
					zap.L().Error("artifact prune failed",
						zap.String("model_type", string(mt)), zap.Error(err))
					continue
				}
				if pruned > 0 {
					zap.L().Info("pruned artifacts",
						zap.String("model_type", string(mt)), zap.Int("count", pruned))
				}
			}
		})
		if err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	publishModelAges(env)

	srv := server.New(serverCfg, env.Orchestrator, env.Registry, env.Store, env.Collector)
	return srv.Run(ctx)
}

// publishModelAges seeds the model age gauges at startup.
func publishModelAges(env *scoringEnv) {
	for _, mt := range model.AllModelTypes {
		createdAt, err := env.Registry.CurrentCreatedAt(mt)
		if err != nil {
			continue
		}
		env.Collector.SetModelAge(string(mt), time.Since(createdAt))
	}
}
