package cost

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/field-extraction-service/internal/models"
)

// LocalModelPrefix marks models served by a local backend; they are free.
const LocalModelPrefix = "local/"

// DefaultPriceKey is the table entry used for unknown remote models
const DefaultPriceKey = "default"

// Price is USD per 1K tokens
type Price struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

func price(in, out string) Price {
	return Price{
		InputPer1K:  decimal.RequireFromString(in),
		OutputPer1K: decimal.RequireFromString(out),
	}
}

// DefaultPrices is the static per-model price table
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"gpt-4o":           price("0.0025", "0.01"),
		"gpt-4o-mini":      price("0.00015", "0.0006"),
		"gpt-4-turbo":      price("0.01", "0.03"),
		"gpt-4":            price("0.03", "0.06"),
		"gpt-3.5-turbo":    price("0.0005", "0.0015"),
		"gemini-1.5-pro":   price("0.00125", "0.005"),
		"gemini-1.5-flash": price("0.000075", "0.0003"),
		"gemini-pro":       price("0.0005", "0.0015"),
		DefaultPriceKey:    price("0.0025", "0.01"),
	}
}

// PricesFromConfig overlays configured per-model prices on DefaultPrices
func PricesFromConfig(overrides map[string]models.PriceFile) map[string]Price {
	prices := DefaultPrices()
	for model, p := range overrides {
		prices[strings.ToLower(model)] = Price{
			InputPer1K:  decimal.NewFromFloat(p.InputPer1K),
			OutputPer1K: decimal.NewFromFloat(p.OutputPer1K),
		}
	}
	return prices
}

// PriceTable resolves a model name to its price
type PriceTable struct {
	prices map[string]Price
}

// NewPriceTable copies prices; a missing default entry is filled from DefaultPrices.
func NewPriceTable(prices map[string]Price) *PriceTable {
	t := &PriceTable{prices: make(map[string]Price, len(prices)+1)}
	for model, p := range prices {
		t.prices[strings.ToLower(model)] = p
	}
	if _, ok := t.prices[DefaultPriceKey]; !ok {
		t.prices[DefaultPriceKey] = DefaultPrices()[DefaultPriceKey]
	}
	return t
}

// Lookup returns the price for a model. Local models are zero; versioned names
// such as "gpt-4o-mini-2024-07-18" resolve to their longest known prefix.
func (t *PriceTable) Lookup(model string) Price {
	m := strings.ToLower(strings.TrimSpace(model))
	if strings.HasPrefix(m, LocalModelPrefix) {
		return Price{InputPer1K: decimal.Zero, OutputPer1K: decimal.Zero}
	}
	m = strings.TrimPrefix(m, "models/")
	if p, ok := t.prices[m]; ok {
		return p
	}

	best := ""
	for name := range t.prices {
		if name != DefaultPriceKey && strings.HasPrefix(m, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t.prices[best]
	}
	return t.prices[DefaultPriceKey]
}

// Cost computes the charge for one request
func (t *PriceTable) Cost(model string, tokensIn, tokensOut int) decimal.Decimal {
	p := t.Lookup(model)
	thousand := decimal.NewFromInt(1000)
	in := decimal.NewFromInt(int64(tokensIn)).Div(thousand).Mul(p.InputPer1K)
	out := decimal.NewFromInt(int64(tokensOut)).Div(thousand).Mul(p.OutputPer1K)
	return in.Add(out)
}
