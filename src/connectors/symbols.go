package connectors

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UnifiedSymbol builds BASE/QUOTE for spot and BASE/QUOTE:SETTLE for contracts.
func UnifiedSymbol(base, quote, settle string) string {
	s := strings.ToUpper(base) + "/" + strings.ToUpper(quote)
	if settle != "" {
		s += ":" + strings.ToUpper(settle)
	}
	return s
}

// SplitSymbol is the inverse of UnifiedSymbol.
func SplitSymbol(symbol string) (base, quote, settle string) {
	pair := symbol
	if i := strings.Index(symbol, ":"); i >= 0 {
		pair, settle = symbol[:i], symbol[i+1:]
	}
	if i := strings.Index(pair, "/"); i >= 0 {
		base, quote = pair[:i], pair[i+1:]
	} else {
		base = pair
	}
	return base, quote, settle
}

func parseNull(s string) decimal.NullDecimal {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseOrZero(s string) decimal.Decimal {
	d := parseNull(s)
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func nullFromFloat(f *float64) decimal.NullDecimal {
	if f == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*f))
}
