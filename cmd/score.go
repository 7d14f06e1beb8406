package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score [file]",
	Short: "Score one invoice for billing risk",
	Long: `Reads an invoice payload as JSON from a file (or stdin when no file is
given), scores it against the current models, and prints the assessment.
With --id the invoice is loaded from the store instead.

When no trained models are available the assessment comes from deterministic
fallback rules and carries note "model_fallback".

Examples:
  # Score an invoice from a file
  spendscope score invoice.json

  # Score from stdin
  cat invoice.json | spendscope score

  # Score a stored invoice and persist the result
  spendscope score --id 7f9c… --save`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().String("id", "", "score an invoice already in the store")
	scoreCmd.Flags().Bool("save", false, "write scores and line item flags back to the store (requires --id)")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	invoiceID, _ := cmd.Flags().GetString("id")
	save, _ := cmd.Flags().GetBool("save")
	if save && invoiceID == "" {
		return eris.New("--save requires --id")
	}
	if invoiceID != "" && len(args) > 0 {
		return eris.New("pass either a payload file or --id, not both")
	}

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	var (
		payload model.InvoicePayload
		stored  *model.Invoice
	)
	if invoiceID != "" {
		stored, payload, err = storedPayload(ctx, env, invoiceID)
		if err != nil {
			return err
		}
	} else {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "open invoice file")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}
		if err := json.NewDecoder(in).Decode(&payload); err != nil {
			return eris.Wrap(err, "decode invoice payload")
		}
	}

	assessment, err := env.Orchestrator.Score(ctx, payload)
	if err != nil {
		return err
	}

	if !env.Orchestrator.ModelBacked() {
		zap.L().Warn("no trained models available, used fallback rules")
	}

	if save {
		status := stored.Status
		if assessment.RiskLevel == model.RiskHigh {
			status = model.StatusFlagged
		}
		if err := env.Store.UpdateInvoiceScores(ctx, stored.ID, assessment.RiskScore, assessment.OverspendAmount, status); err != nil {
			return err
		}
		scored := scoring.UpdateScoredItems(stored.LineItems, assessment)
		if err := env.Store.UpdateLineItemFlags(ctx, scored); err != nil {
			return err
		}
		zap.L().Info("assessment saved", zap.String("invoice_id", stored.ID))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(assessment), "encode assessment")
}

func storedPayload(ctx context.Context, env *scoringEnv, id string) (*model.Invoice, model.InvoicePayload, error) {
	inv, err := env.Store.GetInvoice(ctx, id)
	if err != nil {
		return nil, model.InvoicePayload{}, err
	}

	p := model.InvoicePayload{
		InvoiceID: inv.ID,
		Vendor:    inv.VendorID,
		Client:    inv.Client,
		Matter:    inv.Matter,
		Status:    inv.Status,
		Amount:    inv.TotalAmount,
	}
	for _, item := range inv.LineItems {
		p.LineItems = append(p.LineItems, model.LineItemPayload{
			Description:     item.Description,
			Hours:           item.Hours,
			Rate:            item.Rate,
			Amount:          item.Amount,
			Timekeeper:      item.Timekeeper,
			TimekeeperTitle: item.TimekeeperTitle,
		})
	}
	return inv, p, nil
}
