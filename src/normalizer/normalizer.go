package normalizer

import (
	"fmt"
	"strings"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Normalizer converts raw exchange payloads into catalog records.
type Normalizer struct {
	Registry *Registry
	Log      *logger.Entry

	quotes      map[string]bool
	stablecoins map[string]bool
}

func New(registry *Registry, config Config) *Normalizer {
	return &Normalizer{
		Registry:    registry,
		Log:         logger.WithField("component", "normalizer"),
		quotes:      upperSet(config.QuoteCurrencies),
		stablecoins: upperSet(config.Stablecoins),
	}
}

func upperSet(codes []string) map[string]bool {
	out := make(map[string]bool, len(codes))
	for _, c := range codes {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out[c] = true
		}
	}
	return out
}

// reject logs a data-quality diagnostic for a payload that cannot be normalized.
func (n *Normalizer) reject(exchange, symbol, field string, payload interface{}) {
	n.Log.WithFields(map[string]interface{}{
		"exchange":   exchange,
		"symbol":     symbol,
		"unresolved": field,
		"payload":    payload,
	}).Warn("rejecting market: unresolved field")
}

// Market normalizes a raw market. ok is false when the market is rejected; err is only
// returned when the exchange has no rules.
func (n *Normalizer) Market(exchange *model.Exchange, raw connectors.RawMarket) (*model.Market, bool, error) {
	rules, err := n.Registry.Rules(exchange.Name)
	if err != nil {
		return nil, false, err
	}

	if raw.Symbol == "" || raw.Base == "" || raw.Quote == "" {
		n.reject(exchange.Name, raw.Symbol, "symbol", raw.Info)
		return nil, false, nil
	}

	m := &model.Market{
		ExchangeID:     exchange.ID,
		Symbol:         raw.Symbol,
		ExchangeSymbol: raw.ID,
		Base:           strings.ToUpper(raw.Base),
		Quote:          strings.ToUpper(raw.Quote),
		Type:           model.MarketTypeSpot,
		Active:         raw.Active,
		AmountMin:      raw.Limits.Amount.Min,
		AmountMax:      raw.Limits.Amount.Max,
		PriceMin:       raw.Limits.Price.Min,
		PriceMax:       raw.Limits.Price.Max,
		CostMin:        raw.Limits.Cost.Min,
		CostMax:        raw.Limits.Cost.Max,
	}

	wallet, ok := rules.Wallet(raw)
	if !ok {
		n.reject(exchange.Name, raw.Symbol, "wallet", raw.Info)
		return nil, false, nil
	}
	m.Wallet = wallet

	if mode, ok := rules.PrecisionMode(raw); ok {
		m.PrecisionMode = mode
		if raw.Precision.Amount.Valid {
			m.AmountPrecision = raw.Precision.Amount.Decimal
		}
		if raw.Precision.Price.Valid {
			m.PricePrecision = raw.Precision.Price.Decimal
		}
	}
	if listing, ok := rules.ListingDate(raw); ok {
		m.ListingDate = listing
	}

	if !raw.Contract {
		return m, true, nil
	}

	m.Type = model.MarketTypeDerivative
	subtype, ok := rules.DerivativeType(raw)
	if !ok || subtype == model.DerivativeNone {
		n.reject(exchange.Name, raw.Symbol, "derivative_type", raw.Info)
		return nil, false, nil
	}
	m.DerivativeType = subtype

	margin, ok := rules.MarginCurrency(raw)
	if !ok {
		n.reject(exchange.Name, raw.Symbol, "margin_currency", raw.Info)
		return nil, false, nil
	}
	m.MarginCurrency = margin

	cv, ok := rules.ContractValue(raw)
	if !ok {
		n.reject(exchange.Name, raw.Symbol, "contract_value", raw.Info)
		return nil, false, nil
	}
	m.ContractValue = cv

	cvCurrency, ok := rules.ContractValueCurrency(raw)
	if !ok {
		n.reject(exchange.Name, raw.Symbol, "contract_value_currency", raw.Info)
		return nil, false, nil
	}
	m.ContractValueCurrency = cvCurrency

	if subtype == model.DerivativeFuture {
		if delivery, ok := rules.DeliveryDate(raw); ok {
			m.DeliveryDate = delivery
		}
	}
	return m, true, nil
}

// Currency normalizes a raw currency; empty codes are rejected.
func (n *Normalizer) Currency(exchange *model.Exchange, raw connectors.RawCurrency) (*model.Currency, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw.Code))
	if code == "" {
		n.Log.WithFields(map[string]interface{}{
			"exchange": exchange.Name,
			"payload":  raw.Info,
		}).Warn("rejecting currency: empty code")
		return nil, false
	}
	return &model.Currency{
		Code:          code,
		Name:          raw.Name,
		QuoteEligible: n.quotes[code],
		Stablecoin:    n.stablecoins[code],
	}, true
}

// ConvertVolume returns the quote-currency volume of an OHLCV bar.
func (n *Normalizer) ConvertVolume(exchange string, market *model.Market, bar connectors.OHLCV) (decimal.Decimal, bool, error) {
	rules, err := n.Registry.Rules(exchange)
	if err != nil {
		return decimal.Zero, false, err
	}
	v, ok := rules.QuoteVolume(market, bar)
	return v, ok, nil
}

// QuoteVolume24h returns the 24h quote volume of a ticker.
func (n *Normalizer) QuoteVolume24h(exchange string, market *model.Market, t connectors.Ticker) (decimal.Decimal, bool, error) {
	rules, err := n.Registry.Rules(exchange)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("quote volume: %w", err)
	}
	v, ok := rules.QuoteVolume24h(market, t)
	return v, ok, nil
}
