package grid

import "github.com/shopspring/decimal"

// Filters carries the venue trading rules for one symbol
type Filters struct {
	QtyStep     decimal.Decimal
	PriceTick   decimal.Decimal
	MinNotional decimal.Decimal
}

// Table maps symbols to their filters, falling back to a conservative
// default for symbols it has never heard of
type Table map[string]Filters

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var defaultFilters = Filters{
	QtyStep:     d("0.00001"),
	PriceTick:   d("0.01"),
	MinNotional: d("5"),
}

// NewTable returns a table seeded with the known spot symbols.
// Micro-priced tokens trade at 8 decimals with a reduced minimum notional.
func NewTable() Table {
	return Table{
		"BTCUSDT": {
			QtyStep:     d("0.00001"),
			PriceTick:   d("0.01"),
			MinNotional: d("5"),
		},
		"ETHUSDT": {
			QtyStep:     d("0.0001"),
			PriceTick:   d("0.01"),
			MinNotional: d("5"),
		},
		"PEPEUSDT": {
			QtyStep:     d("0.00000001"),
			PriceTick:   d("0.00000001"),
			MinNotional: d("1"),
		},
	}
}

// For returns the filters for symbol, or the default when unknown
func (t Table) For(symbol string) Filters {
	if f, ok := t[symbol]; ok {
		return f
	}
	return defaultFilters
}
