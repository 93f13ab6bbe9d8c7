package explain

import (
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// displayPlaces is the only point where amounts and ratios are rounded.
const displayPlaces = 2

func (f Formatter) money(v float64) string {
	symbol := f.CurrencySymbol
	if symbol == "" {
		symbol = DefaultCurrencySymbol
	}
	rounded, _ := decimal.NewFromFloat(v).Round(displayPlaces).Float64()
	if rounded == 0 { // drop negative zero
		rounded = 0
	}
	return symbol + humanize.Commaf(rounded)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).Round(displayPlaces).String() + "%"
}
