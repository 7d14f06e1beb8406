// Package synth generates seeded synthetic vendors and invoices for local
// development and model bootstrapping.
package synth

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/sightline-legal/spendscope/internal/model"
)

// Options controls corpus shape. AnomalyRate is the fraction of line items
// given inflated hours or rates so the outlier detector has something to find.
type Options struct {
	Seed        int64
	Vendors     int
	Invoices    int
	MaxLines    int
	AnomalyRate float64
}

// Generator produces a reproducible invoice corpus.
type Generator struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
	opts  Options
}

var timekeeperTitles = []string{"Partner", "Senior Associate", "Associate", "Paralegal", "Of Counsel"}

// Base hourly rate per title; jitter is applied per line.
var titleRates = map[string]float64{
	"Partner":          750,
	"Senior Associate": 500,
	"Associate":        350,
	"Paralegal":        150,
	"Of Counsel":       650,
}

var taskDescriptions = []string{
	"Review and revise motion to dismiss",
	"Draft discovery responses",
	"Telephone conference with opposing counsel",
	"Prepare deposition outline",
	"Legal research re statute of limitations",
	"Review document production",
	"Draft settlement agreement",
	"Attend status conference",
	"Analyze expert report",
	"Prepare witness for deposition",
}

// NewGenerator creates a seeded generator.
func NewGenerator(opts Options) *Generator {
	if opts.Vendors <= 0 {
		opts.Vendors = 8
	}
	if opts.Invoices <= 0 {
		opts.Invoices = 100
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = 12
	}
	if opts.AnomalyRate <= 0 {
		opts.AnomalyRate = 0.05
	}
	return &Generator{
		faker: gofakeit.New(uint64(opts.Seed)),
		rng:   rand.New(rand.NewSource(opts.Seed)),
		opts:  opts,
	}
}

// Vendors generates the vendor roster.
func (g *Generator) Vendors() []model.Vendor {
	practices := []string{"Litigation", "Corporate", "IP", "Employment", "Regulatory"}
	vendors := make([]model.Vendor, g.opts.Vendors)
	for i := range vendors {
		vendors[i] = model.Vendor{
			ID:       uuid.NewString(),
			Name:     fmt.Sprintf("%s & %s LLP", g.faker.LastName(), g.faker.LastName()),
			Practice: practices[g.rng.Intn(len(practices))],
		}
	}
	return vendors
}

// Invoices generates invoices spread across the given vendors, newest roughly
// a year back from now.
func (g *Generator) Invoices(vendors []model.Vendor) []model.Invoice {
	statuses := []model.InvoiceStatus{
		model.StatusPending, model.StatusPending, model.StatusApproved,
		model.StatusApproved, model.StatusApproved, model.StatusFlagged,
	}

	invoices := make([]model.Invoice, g.opts.Invoices)
	for i := range invoices {
		vendor := vendors[g.rng.Intn(len(vendors))]
		id := uuid.NewString()
		date := time.Now().AddDate(0, 0, -g.rng.Intn(365))

		numLines := 1 + g.rng.Intn(g.opts.MaxLines)
		items := make([]model.LineItem, numLines)
		total := 0.0
		for j := range items {
			items[j] = g.lineItem(id)
			total += items[j].Amount
		}

		invoices[i] = model.Invoice{
			ID:          id,
			VendorID:    vendor.ID,
			Client:      g.faker.Company(),
			Matter:      fmt.Sprintf("%s v. %s", g.faker.LastName(), g.faker.Company()),
			Date:        date,
			TotalAmount: total,
			Status:      statuses[g.rng.Intn(len(statuses))],
			LineItems:   items,
		}
	}
	return invoices
}

func (g *Generator) lineItem(invoiceID string) model.LineItem {
	title := timekeeperTitles[g.rng.Intn(len(timekeeperTitles))]
	rate := titleRates[title] * (0.85 + 0.3*g.rng.Float64())
	hours := 0.5 + 7.5*g.rng.Float64()

	if g.rng.Float64() < g.opts.AnomalyRate {
		// Inflate one dimension so the item sits far outside the corpus.
		if g.rng.Float64() < 0.5 {
			hours *= 4 + 2*g.rng.Float64()
		} else {
			rate *= 3 + 2*g.rng.Float64()
		}
	}

	hours = float64(int(hours*10)) / 10 // tenth-of-an-hour billing increments
	rate = float64(int(rate))

	return model.LineItem{
		ID:              uuid.NewString(),
		InvoiceID:       invoiceID,
		Description:     taskDescriptions[g.rng.Intn(len(taskDescriptions))],
		Hours:           hours,
		Rate:            rate,
		Amount:          hours * rate,
		Timekeeper:      g.faker.Name(),
		TimekeeperTitle: title,
	}
}
