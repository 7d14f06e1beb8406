package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/registry"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List stored model versions",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().Bool("prune", false, "delete old versions, keeping the configured count")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, _ []string) error {
	_, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		return err
	}

	reg, err := registry.NewManager(cfg.Registry.Dir)
	if err != nil {
		return err
	}

	prune, _ := cmd.Flags().GetBool("prune")
	if prune {
		for _, mt := range model.AllModelTypes {
			pruned, err := reg.Prune(mt, cfg.Registry.KeepVersions)
			if err != nil {
				return err
			}
			if pruned > 0 {
				zap.L().Info("pruned artifacts",
					zap.String("model_type", string(mt)), zap.Int("count", pruned))
			}
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tVERSION\tCURRENT\tCREATED")
	for _, mt := range model.AllModelTypes {
		versions, err := reg.ListVersions(mt)
		if err != nil {
			return err
		}
		for _, v := range versions {
			current := ""
			if v.Current {
				current = "*"
			}
			fmt.Fprintf(w, "%s\tv%d\t%s\t%s\n",
				mt, v.Version, current, v.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}
	return w.Flush()
}
