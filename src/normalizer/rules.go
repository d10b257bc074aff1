package normalizer

import (
	"strconv"
	"strings"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

// Rules resolves the exchange-specific parts of a market. Every method is a pure function of
// its input; ok=false means the value could not be resolved.
type Rules interface {
	DerivativeType(m connectors.RawMarket) (model.DerivativeType, bool)
	MarginCurrency(m connectors.RawMarket) (string, bool)
	ContractValue(m connectors.RawMarket) (decimal.Decimal, bool)
	ContractValueCurrency(m connectors.RawMarket) (string, bool)
	ListingDate(m connectors.RawMarket) (*time.Time, bool)
	DeliveryDate(m connectors.RawMarket) (*time.Time, bool)
	Wallet(m connectors.RawMarket) (model.Wallet, bool)
	PrecisionMode(m connectors.RawMarket) (model.PrecisionMode, bool)

	// QuoteVolume24h extracts the rolling 24h volume of a ticker in quote currency.
	QuoteVolume24h(market *model.Market, t connectors.Ticker) (decimal.Decimal, bool)
	// QuoteVolume converts the volume of an OHLCV bar to quote currency.
	QuoteVolume(market *model.Market, bar connectors.OHLCV) (decimal.Decimal, bool)
}

// baseRules reads the unified fields every client fills. Exchange rules embed it and
// override what their payloads express differently.
type baseRules struct{}

func (baseRules) DerivativeType(m connectors.RawMarket) (model.DerivativeType, bool) {
	if !m.Contract {
		return model.DerivativeNone, true
	}
	switch strings.ToLower(m.Type) {
	case "swap":
		return model.DerivativePerpetual, true
	case "future":
		return model.DerivativeFuture, true
	}
	return "", false
}

func (baseRules) MarginCurrency(m connectors.RawMarket) (string, bool) {
	if m.Settle == "" {
		return "", false
	}
	return strings.ToUpper(m.Settle), true
}

func (baseRules) ContractValue(m connectors.RawMarket) (decimal.Decimal, bool) {
	if !m.ContractSize.Valid || !m.ContractSize.Decimal.IsPositive() {
		return decimal.Zero, false
	}
	return m.ContractSize.Decimal, true
}

func (baseRules) ContractValueCurrency(m connectors.RawMarket) (string, bool) {
	switch {
	case m.Linear:
		return strings.ToUpper(m.Base), m.Base != ""
	case m.Inverse:
		return strings.ToUpper(m.Quote), m.Quote != ""
	}
	return "", false
}

func (baseRules) ListingDate(connectors.RawMarket) (*time.Time, bool) {
	return nil, false
}

func (baseRules) DeliveryDate(m connectors.RawMarket) (*time.Time, bool) {
	if m.Expiry == nil {
		return nil, false
	}
	return m.Expiry, true
}

func (baseRules) Wallet(m connectors.RawMarket) (model.Wallet, bool) {
	if !m.Contract {
		return model.WalletSpot, true
	}
	switch strings.ToLower(m.Type) {
	case "swap":
		return model.WalletSwap, true
	case "future":
		return model.WalletFuture, true
	}
	return "", false
}

func (baseRules) PrecisionMode(m connectors.RawMarket) (model.PrecisionMode, bool) {
	switch model.PrecisionMode(m.PrecisionMode) {
	case model.PrecisionDecimalPlaces, model.PrecisionSignificantDigits, model.PrecisionTickSize:
		return model.PrecisionMode(m.PrecisionMode), true
	}
	return "", false
}

func (baseRules) QuoteVolume24h(_ *model.Market, t connectors.Ticker) (decimal.Decimal, bool) {
	if t.QuoteVolume.Valid {
		return t.QuoteVolume.Decimal, true
	}
	if t.BaseVolume.Valid && t.Last.Valid {
		return t.BaseVolume.Decimal.Mul(t.Last.Decimal), true
	}
	return decimal.Zero, false
}

// QuoteVolume treats spot volume as base units and derivative volume as contracts.
func (baseRules) QuoteVolume(market *model.Market, bar connectors.OHLCV) (decimal.Decimal, bool) {
	if !bar.Volume.Valid || !bar.Close.Valid {
		return decimal.Zero, false
	}
	if !market.IsDerivative() {
		return bar.Volume.Decimal.Mul(bar.Close.Decimal), true
	}
	if !market.ContractValue.IsPositive() {
		return decimal.Zero, false
	}
	units := bar.Volume.Decimal.Mul(market.ContractValue)
	if strings.EqualFold(market.ContractValueCurrency, market.Quote) {
		return units, true
	}
	return units.Mul(bar.Close.Decimal), true
}

func infoString(info map[string]interface{}, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func infoDecimal(info map[string]interface{}, key string) (decimal.Decimal, bool) {
	s := infoString(info, key)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// infoMillis reads a unix-millisecond timestamp field. Zero means absent.
func infoMillis(info map[string]interface{}, key string) (*time.Time, bool) {
	d, ok := infoDecimal(info, key)
	if !ok || !d.IsPositive() {
		return nil, false
	}
	t := time.UnixMilli(d.IntPart()).UTC()
	return &t, true
}

func infoTime(info map[string]interface{}, key string) (*time.Time, bool) {
	s := infoString(info, key)
	if s == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, false
	}
	t = t.UTC()
	return &t, true
}
