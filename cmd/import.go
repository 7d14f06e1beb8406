package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sightline-legal/spendscope/internal/fetcher"
	"github.com/sightline-legal/spendscope/internal/ingest"
	"github.com/sightline-legal/spendscope/internal/model"
	"github.com/sightline-legal/spendscope/internal/scoring"
)

var importCmd = &cobra.Command{
	Use:   "import <source>",
	Short: "Import an invoice batch file",
	Long: `Imports invoices from a CSV or XLSX batch export. The source can be a
local path, an http(s) URL, or an ftp URL. Rows sharing an invoice_id become
one invoice with multiple line items. Vendors are created by name as needed.

Examples:
  # Local CSV
  spendscope import invoices.csv

  # Remote exports
  spendscope import https://billing.example.com/exports/2026-08.csv
  spendscope import ftp://files.example.com/exports/2026-08.xlsx

  # Import and immediately score each invoice
  spendscope import invoices.csv --score`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().Bool("score", false, "score each imported invoice")
	importCmd.Flags().Int("concurrency", 4, "parallel scoring workers")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	sheet, _ := cmd.Flags().GetString("sheet")
	payloads, err := loadBatch(ctx, args[0], sheet)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return eris.New("batch file contains no invoices")
	}

	vendorIDs, err := resolveVendors(ctx, env, payloads)
	if err != nil {
		return err
	}

	imported := 0
	var invoices []model.Invoice
	for _, p := range payloads {
		inv, err := payloadInvoice(p, vendorIDs[p.Vendor])
		if err != nil {
			zap.L().Warn("skipping invoice", zap.String("invoice_id", p.InvoiceID), zap.Error(err))
			continue
		}
		if err := env.Store.CreateInvoice(ctx, inv); err != nil {
			zap.L().Warn("insert failed", zap.String("invoice_id", inv.ID), zap.Error(err))
			continue
		}
		invoices = append(invoices, inv)
		imported++
	}

	zap.L().Info("import complete",
		zap.Int("invoices", imported),
		zap.Int("skipped", len(payloads)-imported),
	)

	doScore, _ := cmd.Flags().GetBool("score")
	if !doScore {
		return nil
	}

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	return scoreImported(ctx, env, invoices, concurrency)
}

// loadBatch fetches and parses the batch source into payloads.
func loadBatch(ctx context.Context, source, sheet string) ([]model.InvoicePayload, error) {
	ext := strings.ToLower(filepath.Ext(source))

	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return fetchAndParse(ctx, fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}), source, ext, sheet)
	case strings.HasPrefix(source, "ftp://"):
		return fetchAndParse(ctx, fetcher.NewFTPFetcher(fetcher.FTPOptions{}), source, ext, sheet)
	case ext == ".xlsx":
		return ingest.FromXLSX(source, sheet)
	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrap(err, "open batch file")
		}
		defer f.Close() //nolint:errcheck
		return ingest.FromCSV(ctx, f)
	}
}

func fetchAndParse(ctx context.Context, f fetcher.Fetcher, source, ext, sheet string) ([]model.InvoicePayload, error) {
	if ext == ".xlsx" {
		// XLSX parsing needs a seekable file.
		tmp, err := os.CreateTemp("", "spendscope-*.xlsx")
		if err != nil {
			return nil, eris.Wrap(err, "create temp file")
		}
		defer os.Remove(tmp.Name()) //nolint:errcheck
		tmp.Close()                 //nolint:errcheck

		if _, err := f.DownloadToFile(ctx, source, tmp.Name()); err != nil {
			return nil, err
		}
		return ingest.FromXLSX(tmp.Name(), sheet)
	}

	body, err := f.Download(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck
	return ingest.FromCSV(ctx, body)
}

// resolveVendors maps vendor names in the batch to store vendor IDs, creating
// unknown vendors.
func resolveVendors(ctx context.Context, env *scoringEnv, payloads []model.InvoicePayload) (map[string]string, error) {
	existing, err := env.Store.ListVendors(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(existing))
	for _, v := range existing {
		byName[v.Name] = v.ID
	}

	for _, p := range payloads {
		if _, ok := byName[p.Vendor]; ok {
			continue
		}
		v := model.Vendor{ID: uuid.NewString(), Name: p.Vendor}
		if err := env.Store.UpsertVendor(ctx, v); err != nil {
			return nil, err
		}
		byName[p.Vendor] = v.ID
	}
	return byName, nil
}

func payloadInvoice(p model.InvoicePayload, vendorID string) (model.Invoice, error) {
	if vendorID == "" {
		return model.Invoice{}, eris.New("empty vendor")
	}
	if len(p.LineItems) == 0 {
		return model.Invoice{}, eris.New("invoice has no line items")
	}

	date := time.Now()
	if p.Date != "" {
		parsed, err := time.Parse("2006-01-02", p.Date)
		if err != nil {
			return model.Invoice{}, eris.Wrapf(err, "parse date %q", p.Date)
		}
		date = parsed
	}

	status := p.Status
	if status == "" {
		status = model.StatusPending
	}

	id := uuid.NewString()
	items := make([]model.LineItem, len(p.LineItems))
	total := 0.0
	for i, lp := range p.LineItems {
		items[i] = lp.ToLineItem()
		items[i].ID = uuid.NewString()
		items[i].InvoiceID = id
		total += items[i].Amount
	}
	if p.Amount > 0 {
		total = p.Amount
	}

	return model.Invoice{
		ID:          id,
		VendorID:    vendorID,
		Client:      p.Client,
		Matter:      p.Matter,
		Date:        date,
		TotalAmount: total,
		Status:      status,
		LineItems:   items,
	}, nil
}

// scoreImported scores each imported invoice in parallel and persists the
// results.
func scoreImported(ctx context.Context, env *scoringEnv, invoices []model.Invoice, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, inv := range invoices {
		g.Go(func() error {
			p := model.InvoicePayload{
				InvoiceID: inv.ID,
				Vendor:    inv.VendorID,
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

			assessment, err := env.Orchestrator.Score(gctx, p)
			if err != nil {
				return eris.Wrapf(err, "score invoice %s", inv.ID)
			}

			status := inv.Status
			if assessment.RiskLevel == model.RiskHigh {
				status = model.StatusFlagged
			}
			if err := env.Store.UpdateInvoiceScores(gctx, inv.ID, assessment.RiskScore, assessment.OverspendAmount, status); err != nil {
				return err
			}

			scored := scoring.UpdateScoredItems(inv.LineItems, assessment)
			if err := env.Store.UpdateLineItemFlags(gctx, scored); err != nil {
				return err
			}

			fmt.Printf("%s  risk=%.3f level=%s anomalies=%d\n",
				inv.ID, assessment.RiskScore, assessment.RiskLevel, len(assessment.Anomalies))
			return nil
		})
	}

	return g.Wait()
}
