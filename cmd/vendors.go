package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Show vendor spend metrics and cluster assignments",
	RunE:  runVendors,
}

func init() {
	vendorsCmd.Flags().Bool("refresh", false, "recompute metrics from stored invoices first")
	rootCmd.AddCommand(vendorsCmd)
}

func runVendors(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	refresh, _ := cmd.Flags().GetBool("refresh")
	if refresh {
		if err := env.Trainer.RefreshVendorMetrics(ctx); err != nil {
			return err
		}
	}

	metrics, err := env.Store.ListVendorMetrics(ctx)
	if err != nil {
		return err
	}

	vendors, err := env.Store.ListVendors(ctx)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(vendors))
	for _, v := range vendors {
		names[v.ID] = v.Name
	}

	p := message.NewPrinter(language.AmericanEnglish)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VENDOR\tINVOICES\tTOTAL SPEND\tAVG RATE\tFLAG RATE\tCLUSTER")
	for _, m := range metrics {
		name := names[m.VendorID]
		if name == "" {
			name = m.VendorID
		}
		cluster := "-"
		if m.Cluster != nil {
			cluster = fmt.Sprintf("%d", *m.Cluster)
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.1f%%\t%s\n",
			name,
			m.InvoiceCount,
			p.Sprintf("$%.2f", m.TotalSpend),
			p.Sprintf("$%.0f/hr", m.AverageRate),
			m.FlagRate*100,
			cluster,
		)
	}
	return w.Flush()
}
