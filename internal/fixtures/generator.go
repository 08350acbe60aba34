// Package fixtures generates synthetic record sets with planted duplicates
// and bank matches, and scores match runs against what was planted.
package fixtures

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-matching-service/internal/models"
)

// Config controls the shape of a generated dataset
type Config struct {
	TenantID  string
	Documents int

	// DuplicateRatio is the share of documents that receive a near-duplicate.
	DuplicateRatio float64
	// MatchRatio is the share of the remaining documents paid by a bank
	// transaction.
	MatchRatio float64
	// LedgerRatio is the share of paid documents also booked as a ledger entry.
	LedgerRatio float64
	// Noise is the number of bank transactions with no counterpart.
	Noise int

	StartDate time.Time
	EndDate   time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Currency  string
	Seed      int64
}

// DefaultConfig returns a small mixed dataset over the first quarter of 2024.
func DefaultConfig() Config {
	return Config{
		TenantID:       "tenant-demo",
		Documents:      100,
		DuplicateRatio: 0.1,
		MatchRatio:     0.6,
		LedgerRatio:    0.5,
		Noise:          10,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		MinAmount:      decimal.NewFromInt(5),
		MaxAmount:      decimal.NewFromInt(5000),
		Currency:       "USD",
		Seed:           1,
	}
}

// Validate checks if the configuration can generate a dataset
func (c Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant ID cannot be empty")
	}
	if c.Documents < 1 {
		return fmt.Errorf("document count must be positive, got %d", c.Documents)
	}
	for name, ratio := range map[string]float64{
		"duplicate ratio": c.DuplicateRatio,
		"match ratio":     c.MatchRatio,
		"ledger ratio":    c.LedgerRatio,
	} {
		if ratio < 0 || ratio > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, ratio)
		}
	}
	if c.Noise < 0 {
		return fmt.Errorf("noise cannot be negative, got %d", c.Noise)
	}
	if !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("end date must be after start date")
	}
	if !c.MinAmount.IsPositive() || c.MaxAmount.LessThanOrEqual(c.MinAmount) {
		return fmt.Errorf("amount range must be positive and non-empty")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a three-letter code, got %q", c.Currency)
	}
	return nil
}

// Expectation is a match the generator planted. Candidates lists every
// record that is an acceptable top result for the target.
type Expectation struct {
	Variant    models.Variant `yaml:"variant" json:"variant"`
	TargetID   string         `yaml:"target_id" json:"target_id"`
	Candidates []string       `yaml:"candidates" json:"candidates"`
}

// Dataset is one generated record set
type Dataset struct {
	Documents     []models.Record
	Transactions  []models.Record
	LedgerEntries []models.Record
	Expected      []Expectation
}

// Records returns every generated record.
func (d *Dataset) Records() []models.Record {
	all := make([]models.Record, 0, len(d.Documents)+len(d.Transactions)+len(d.LedgerEntries))
	all = append(all, d.Documents...)
	all = append(all, d.Transactions...)
	all = append(all, d.LedgerEntries...)
	return all
}

// Targets returns the IDs of every planted target of the variant.
func (d *Dataset) Targets(variant models.Variant) []string {
	var ids []string
	for _, e := range d.Expected {
		if e.Variant == variant {
			ids = append(ids, e.TargetID)
		}
	}
	return ids
}

var (
	vendors = []string{
		"Acme Airlines", "Blue Bottle Coffee", "Northwind Traders", "Globex Supplies",
		"Initech Software", "Umbrella Logistics", "Stark Office Rentals", "Wayne Catering",
		"Cyberdyne Hosting", "Soylent Foods", "Hooli Cloud", "Vandelay Imports",
	}
	categories = []string{"travel", "meals", "software", "office", "logistics", "hosting"}
)

// Generator creates datasets from a Config
type Generator struct {
	config Config
	rand   *rand.Rand
}

// NewGenerator creates a generator. The same config always yields the same
// dataset.
func NewGenerator(config Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		config: config,
		rand:   rand.New(rand.NewSource(config.Seed)),
	}, nil
}

// Generate builds the dataset
func (g *Generator) Generate() *Dataset {
	ds := &Dataset{}

	for i := 0; i < g.config.Documents; i++ {
		doc := g.document(i + 1)
		ds.Documents = append(ds.Documents, doc)

		switch roll := g.rand.Float64(); {
		case roll < g.config.DuplicateRatio:
			dup := g.duplicate(doc)
			ds.Documents = append(ds.Documents, dup)
			ds.Expected = append(ds.Expected, Expectation{
				Variant:    models.VariantDuplicate,
				TargetID:   dup.ID,
				Candidates: []string{doc.ID},
			})

		case roll < g.config.DuplicateRatio+(1-g.config.DuplicateRatio)*g.config.MatchRatio:
			tx := g.bankTransaction(doc, i+1)
			ds.Transactions = append(ds.Transactions, tx)
			expected := Expectation{
				Variant:    models.VariantReconciliation,
				TargetID:   tx.ID,
				Candidates: []string{doc.ID},
			}

			if g.rand.Float64() < g.config.LedgerRatio {
				entry := g.ledgerEntry(doc, i+1)
				ds.LedgerEntries = append(ds.LedgerEntries, entry)
				expected.Candidates = append(expected.Candidates, entry.ID)
			}
			ds.Expected = append(ds.Expected, expected)
		}
	}

	for i := 0; i < g.config.Noise; i++ {
		ds.Transactions = append(ds.Transactions, g.noise(i+1))
	}

	return ds
}

func (g *Generator) document(n int) models.Record {
	date := g.randomDay()
	vendor := vendors[g.rand.Intn(len(vendors))]
	return models.Record{
		ID:          fmt.Sprintf("DOC%06d", n),
		TenantID:    g.config.TenantID,
		Kind:        models.KindDocument,
		Category:    categories[g.rand.Intn(len(categories))],
		CreatedAt:   date.Add(time.Duration(8+g.rand.Intn(10)) * time.Hour),
		Date:        &date,
		Amount:      decimal.NewNullDecimal(g.randomAmount()),
		Currency:    g.config.Currency,
		Vendor:      vendor,
		Description: fmt.Sprintf("Invoice %d from %s", 1000+n, vendor),
	}
}

// duplicate re-submits doc a few hours later with cosmetic differences.
func (g *Generator) duplicate(doc models.Record) models.Record {
	dup := doc
	dup.ID = doc.ID + "-DUP"
	dup.CreatedAt = doc.CreatedAt.Add(time.Duration(1+g.rand.Intn(48)) * time.Hour)
	dup.Vendor = strings.ToLower(doc.Vendor)
	dup.Description = doc.Description + " (resent)"
	return dup
}

// bankTransaction is the payment of doc as it appears on a bank feed.
func (g *Generator) bankTransaction(doc models.Record, n int) models.Record {
	return models.Record{
		ID:          fmt.Sprintf("TX%06d", n),
		TenantID:    doc.TenantID,
		Kind:        models.KindTransaction,
		CreatedAt:   doc.CreatedAt.Add(time.Duration(1+g.rand.Intn(72)) * time.Hour),
		Date:        doc.Date,
		Amount:      decimal.NewNullDecimal(doc.Amount.Decimal.Neg()),
		Currency:    doc.Currency,
		Vendor:      strings.ToUpper(doc.Vendor),
		Description: "CARD PAYMENT " + strings.ToUpper(doc.Vendor),
	}
}

func (g *Generator) ledgerEntry(doc models.Record, n int) models.Record {
	return models.Record{
		ID:          fmt.Sprintf("LE%06d", n),
		TenantID:    doc.TenantID,
		Kind:        models.KindLedgerEntry,
		Category:    "accounts_payable",
		CreatedAt:   doc.CreatedAt.Add(24 * time.Hour),
		Date:        doc.Date,
		Amount:      doc.Amount,
		Currency:    doc.Currency,
		Vendor:      doc.Vendor,
		Description: "AP " + doc.Description,
	}
}

// noise is a bank transaction from a merchant that never issued a document.
func (g *Generator) noise(n int) models.Record {
	date := g.randomDay()
	merchant := fmt.Sprintf("POS MERCHANT %04d", g.rand.Intn(10000))
	return models.Record{
		ID:          fmt.Sprintf("TXN%06d", n),
		TenantID:    g.config.TenantID,
		Kind:        models.KindTransaction,
		CreatedAt:   date.Add(12 * time.Hour),
		Date:        &date,
		Amount:      decimal.NewNullDecimal(g.randomAmount().Neg()),
		Currency:    g.config.Currency,
		Vendor:      merchant,
		Description: "POS " + merchant,
	}
}

func (g *Generator) randomDay() time.Time {
	days := int(g.config.EndDate.Sub(g.config.StartDate).Hours() / 24)
	if days < 1 {
		days = 1
	}
	return g.config.StartDate.AddDate(0, 0, g.rand.Intn(days)).UTC()
}

func (g *Generator) randomAmount() decimal.Decimal {
	spread := g.config.MaxAmount.Sub(g.config.MinAmount)
	return decimal.NewFromFloat(g.rand.Float64()).Mul(spread).Add(g.config.MinAmount).Round(2)
}
