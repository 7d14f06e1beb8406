// Package ingest converts tabular invoice exports (CSV, XLSX) into scoring
// payloads. Rows sharing an invoice id collapse into one invoice with multiple
// line items.
package ingest

import (
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sightline-legal/spendscope/internal/fetcher"
	"github.com/sightline-legal/spendscope/internal/model"
)

// Column names accepted in batch files. Matching is case-insensitive and
// ignores spaces vs underscores.
var knownColumns = map[string]string{
	"invoice_id":       "invoice_id",
	"invoice":          "invoice_id",
	"vendor":           "vendor",
	"firm":             "vendor",
	"client":           "client",
	"matter":           "matter",
	"date":             "date",
	"invoice_date":     "date",
	"status":           "status",
	"description":      "description",
	"narrative":        "description",
	"hours":            "hours",
	"rate":             "rate",
	"hourly_rate":      "rate",
	"amount":           "amount",
	"timekeeper":       "timekeeper",
	"timekeeper_title": "timekeeper_title",
	"title":            "timekeeper_title",
}

type columnMap map[string]int

func mapHeader(header []string) (columnMap, error) {
	cols := columnMap{}
	for i, raw := range header {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_")
		if canonical, ok := knownColumns[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{"invoice_id", "vendor", "hours", "rate"} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("ingest: missing required column %q", required)
		}
	}
	return cols, nil
}

func (c columnMap) get(row []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (c columnMap) getFloat(row []string, name string) (float64, error) {
	s := c.get(row, name)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: parse %s %q", name, s)
	}
	return v, nil
}

// FromCSV parses a CSV export into invoice payloads. The first row must be a
// header. Row order within an invoice is preserved; invoice order follows
// first appearance.
func FromCSV(ctx context.Context, r io.Reader) ([]model.InvoicePayload, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
		return nil, eris.New("ingest: empty file")
	}

	return fromRows(header, rows)
}

// FromXLSX parses an XLSX export the same way FromCSV parses CSV.
func FromXLSX(path string, sheet string) ([]model.InvoicePayload, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.New("ingest: empty workbook")
	}
	return fromRows(rows[0], rows[1:])
}

func fromRows(header []string, rows [][]string) ([]model.InvoicePayload, error) {
	cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	byID := map[string]*model.InvoicePayload{}
	var order []string

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		id := cols.get(row, "invoice_id")
		if id == "" {
			return nil, eris.Errorf("ingest: row %d: empty invoice_id", i+2)
		}

		hours, err := cols.getFloat(row, "hours")
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d", i+2)
		}
		rate, err := cols.getFloat(row, "rate")
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d", i+2)
		}
		amount, err := cols.getFloat(row, "amount")
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: row %d", i+2)
		}

		inv, ok := byID[id]
		if !ok {
			inv = &model.InvoicePayload{
				InvoiceID: id,
				Vendor:    cols.get(row, "vendor"),
				Client:    cols.get(row, "client"),
				Matter:    cols.get(row, "matter"),
				Date:      cols.get(row, "date"),
				Status:    model.InvoiceStatus(strings.ToLower(cols.get(row, "status"))),
			}
			byID[id] = inv
			order = append(order, id)
		}

		inv.LineItems = append(inv.LineItems, model.LineItemPayload{
			Description:     cols.get(row, "description"),
			Hours:           hours,
			Rate:            rate,
			Amount:          amount,
			Timekeeper:      cols.get(row, "timekeeper"),
			TimekeeperTitle: cols.get(row, "timekeeper_title"),
		})
	}

	payloads := make([]model.InvoicePayload, 0, len(order))
	for _, id := range order {
		payloads = append(payloads, *byID[id])
	}
	return payloads, nil
}
