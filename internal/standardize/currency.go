package standardize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateLookup supplies currency conversion rates. The standardizer never
// computes rates itself; callers inject a live feed or a static table.
type RateLookup interface {
	// Rate returns how many units of to one unit of from buys.
	Rate(from, to string) (decimal.Decimal, error)
}

// StaticRates is a RateLookup backed by a fixed per-USD table. Good
// enough for reporting-currency normalization of non-FX entities; FX
// pipelines should inject a live source instead.
type StaticRates struct {
	perUSD map[string]decimal.Decimal
}

// DefaultRates returns a static table of common currencies quoted
// against USD.
func DefaultRates() *StaticRates {
	table := map[string]string{
		"USD": "1.0",
		"EUR": "0.85",
		"GBP": "0.73",
		"JPY": "110.0",
		"CAD": "1.25",
		"AUD": "1.35",
		"CHF": "0.92",
		"CNY": "6.45",
		"INR": "75.0",
	}
	perUSD := make(map[string]decimal.Decimal, len(table))
	for code, rate := range table {
		perUSD[code] = decimal.RequireFromString(rate)
	}
	return &StaticRates{perUSD: perUSD}
}

func (r *StaticRates) Rate(from, to string) (decimal.Decimal, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))
	if from == to {
		return decimal.New(1, 0), nil
	}
	fromUSD, ok := r.perUSD[from]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no rate for currency %q", from)
	}
	toUSD, ok := r.perUSD[to]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no rate for currency %q", to)
	}
	// Cross via USD: from -> USD -> to.
	return toUSD.Div(fromUSD), nil
}
