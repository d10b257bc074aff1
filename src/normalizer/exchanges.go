package normalizer

import (
	"strings"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

// binanceRules covers spot, USD-M (future wallet) and COIN-M (delivery wallet) markets.
type binanceRules struct{ baseRules }

// binancePerpetualDelivery is the placeholder delivery date Binance reports for perpetuals.
const binancePerpetualDelivery = 4133404800000

func (binanceRules) DerivativeType(m connectors.RawMarket) (model.DerivativeType, bool) {
	if !m.Contract {
		return model.DerivativeNone, true
	}
	switch infoString(m.Info, "contractType") {
	case "PERPETUAL":
		return model.DerivativePerpetual, true
	case "CURRENT_MONTH", "NEXT_MONTH", "CURRENT_QUARTER", "NEXT_QUARTER":
		return model.DerivativeFuture, true
	}
	return baseRules{}.DerivativeType(m)
}

func (binanceRules) MarginCurrency(m connectors.RawMarket) (string, bool) {
	if v := infoString(m.Info, "marginAsset"); v != "" {
		return strings.ToUpper(v), true
	}
	return baseRules{}.MarginCurrency(m)
}

func (binanceRules) ContractValue(m connectors.RawMarket) (decimal.Decimal, bool) {
	if d, ok := infoDecimal(m.Info, "contractSize"); ok && d.IsPositive() {
		return d, true
	}
	return baseRules{}.ContractValue(m)
}

func (binanceRules) ListingDate(m connectors.RawMarket) (*time.Time, bool) {
	return infoMillis(m.Info, "onboardDate")
}

func (binanceRules) DeliveryDate(m connectors.RawMarket) (*time.Time, bool) {
	if d, ok := infoDecimal(m.Info, "deliveryDate"); ok && d.IntPart() >= binancePerpetualDelivery {
		return nil, false
	}
	if t, ok := infoMillis(m.Info, "deliveryDate"); ok {
		return t, true
	}
	return baseRules{}.DeliveryDate(m)
}

func (binanceRules) Wallet(m connectors.RawMarket) (model.Wallet, bool) {
	switch {
	case !m.Contract:
		return model.WalletSpot, true
	case m.Inverse:
		return model.WalletDelivery, true
	default:
		return model.WalletFuture, true
	}
}

// okxRules reads the OKX instrument fields (instType, ctVal, ctValCcy, settleCcy, listTime, expTime).
type okxRules struct{ baseRules }

func (okxRules) DerivativeType(m connectors.RawMarket) (model.DerivativeType, bool) {
	switch infoString(m.Info, "instType") {
	case "SPOT", "MARGIN":
		return model.DerivativeNone, true
	case "SWAP":
		return model.DerivativePerpetual, true
	case "FUTURES":
		return model.DerivativeFuture, true
	}
	return baseRules{}.DerivativeType(m)
}

func (okxRules) MarginCurrency(m connectors.RawMarket) (string, bool) {
	if v := infoString(m.Info, "settleCcy"); v != "" {
		return strings.ToUpper(v), true
	}
	return baseRules{}.MarginCurrency(m)
}

func (okxRules) ContractValue(m connectors.RawMarket) (decimal.Decimal, bool) {
	if d, ok := infoDecimal(m.Info, "ctVal"); ok && d.IsPositive() {
		return d, true
	}
	return baseRules{}.ContractValue(m)
}

func (okxRules) ContractValueCurrency(m connectors.RawMarket) (string, bool) {
	if v := infoString(m.Info, "ctValCcy"); v != "" {
		return strings.ToUpper(v), true
	}
	return baseRules{}.ContractValueCurrency(m)
}

func (okxRules) ListingDate(m connectors.RawMarket) (*time.Time, bool) {
	return infoMillis(m.Info, "listTime")
}

func (okxRules) DeliveryDate(m connectors.RawMarket) (*time.Time, bool) {
	if t, ok := infoMillis(m.Info, "expTime"); ok {
		return t, true
	}
	return baseRules{}.DeliveryDate(m)
}

// QuoteVolume24h: volCcy24h is quote volume on spot and base volume on derivatives.
func (okxRules) QuoteVolume24h(market *model.Market, t connectors.Ticker) (decimal.Decimal, bool) {
	v, ok := infoDecimal(t.Info, "volCcy24h")
	if !ok {
		return baseRules{}.QuoteVolume24h(market, t)
	}
	if !market.IsDerivative() {
		return v, true
	}
	if !t.Last.Valid {
		return decimal.Zero, false
	}
	return v.Mul(t.Last.Decimal), true
}

// bybitRules reads the Bybit v5 instrument fields (contractType, settleCoin, launchTime, deliveryTime).
type bybitRules struct{ baseRules }

func (bybitRules) DerivativeType(m connectors.RawMarket) (model.DerivativeType, bool) {
	if !m.Contract {
		return model.DerivativeNone, true
	}
	switch infoString(m.Info, "contractType") {
	case "LinearPerpetual", "InversePerpetual":
		return model.DerivativePerpetual, true
	case "LinearFutures", "InverseFutures":
		return model.DerivativeFuture, true
	}
	return baseRules{}.DerivativeType(m)
}

func (bybitRules) MarginCurrency(m connectors.RawMarket) (string, bool) {
	if v := infoString(m.Info, "settleCoin"); v != "" {
		return strings.ToUpper(v), true
	}
	return baseRules{}.MarginCurrency(m)
}

func (bybitRules) ContractValue(m connectors.RawMarket) (decimal.Decimal, bool) {
	if !m.Contract {
		return decimal.Zero, false
	}
	if cv, ok := (baseRules{}).ContractValue(m); ok {
		return cv, true
	}
	// Bybit contracts are one unit of the base (linear) or one USD (inverse).
	return decimal.NewFromInt(1), true
}

func (bybitRules) ListingDate(m connectors.RawMarket) (*time.Time, bool) {
	return infoMillis(m.Info, "launchTime")
}

func (bybitRules) DeliveryDate(m connectors.RawMarket) (*time.Time, bool) {
	if t, ok := infoMillis(m.Info, "deliveryTime"); ok {
		return t, true
	}
	return baseRules{}.DeliveryDate(m)
}

func (bybitRules) Wallet(m connectors.RawMarket) (model.Wallet, bool) {
	if !m.Contract {
		return model.WalletSpot, true
	}
	return model.WalletSwap, true
}

// QuoteVolume24h: turnover24h is the quote volume except on inverse contracts, where
// volume24h is already counted in USD.
func (bybitRules) QuoteVolume24h(market *model.Market, t connectors.Ticker) (decimal.Decimal, bool) {
	if market.IsDerivative() && !market.IsLinear() {
		if v, ok := infoDecimal(t.Info, "volume24h"); ok {
			return v, true
		}
	}
	if v, ok := infoDecimal(t.Info, "turnover24h"); ok {
		return v, true
	}
	return baseRules{}.QuoteVolume24h(market, t)
}

// krakenFuturesRules: every contract lives in the flex (future) wallet.
type krakenFuturesRules struct{ baseRules }

func (krakenFuturesRules) ListingDate(m connectors.RawMarket) (*time.Time, bool) {
	return infoTime(m.Info, "openingDate")
}

func (krakenFuturesRules) Wallet(m connectors.RawMarket) (model.Wallet, bool) {
	if !m.Contract {
		return "", false
	}
	return model.WalletFuture, true
}
