package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketrouter/src/model"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/nntaoli-project/goex"
	goexbinance "github.com/nntaoli-project/goex/binance"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const BinanceID = "binance"

type BinanceOptions struct {
	SpotURL    string
	FuturesURL string
	Testnet    bool
	Timeout    time.Duration
}

// BinanceClient serves Binance spot and USD-M futures through one client.
// Spot candles come from goex, everything else from go-binance.
type BinanceClient struct {
	spot       *binance.Client
	futures    *futures.Client
	httpClient *http.Client

	klinesOnce sync.Once
	klines     goex.API

	mu      sync.RWMutex
	markets map[string]RawMarket // by unified symbol
	native  map[string]string    // wallet:native id -> unified symbol
}

func NewBinanceClient(creds Credentials, opts BinanceOptions) *BinanceClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	spot := binance.NewClient(creds.APIKey, creds.APISecret)
	fut := futures.NewClient(creds.APIKey, creds.APISecret)
	if opts.Testnet {
		spot.BaseURL = "https://testnet.binance.vision"
		fut.BaseURL = "https://testnet.binancefuture.com"
	}
	if opts.SpotURL != "" && !opts.Testnet {
		spot.BaseURL = strings.TrimRight(opts.SpotURL, "/")
	}
	if opts.FuturesURL != "" && !opts.Testnet {
		fut.BaseURL = strings.TrimRight(opts.FuturesURL, "/")
	}
	spot.HTTPClient = httpClient
	fut.HTTPClient = httpClient

	return &BinanceClient{
		spot:       spot,
		futures:    fut,
		httpClient: httpClient,
		markets:    map[string]RawMarket{},
		native:     map[string]string{},
	}
}

func (c *BinanceClient) ID() string { return BinanceID }

func (c *BinanceClient) fault(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return NewFault(binanceKind(apiErr.Code, apiErr.Message), BinanceID, op, err)
	}
	return wrapTransport(BinanceID, op, err)
}

func (c *BinanceClient) FetchStatus(ctx context.Context) (*Status, error) {
	now := time.Now().UTC()
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		err = c.fault("FetchStatus", err)
		if KindOf(err) == FaultUnavailable {
			return &Status{Status: model.ExchangeStatusMaintenance, Updated: now}, nil
		}
		return nil, err
	}
	return &Status{Status: model.ExchangeStatusOK, Updated: now}, nil
}

func (c *BinanceClient) FetchMarkets(ctx context.Context) ([]RawMarket, error) {
	spotInfo, err := c.spot.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchMarkets", err)
	}
	futInfo, err := c.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchMarkets", err)
	}

	out := make([]RawMarket, 0, len(spotInfo.Symbols)+len(futInfo.Symbols))
	for _, s := range spotInfo.Symbols {
		m := RawMarket{
			ID:            s.Symbol,
			Symbol:        UnifiedSymbol(s.BaseAsset, s.QuoteAsset, ""),
			Base:          s.BaseAsset,
			Quote:         s.QuoteAsset,
			Type:          "spot",
			Spot:          true,
			Active:        s.Status == "TRADING",
			PrecisionMode: string(model.PrecisionTickSize),
			Info:          toInfo(s),
		}
		applyBinanceFilters(&m, s.Filters)
		out = append(out, m)
	}

	for _, s := range futInfo.Symbols {
		m := RawMarket{
			ID:            s.Symbol,
			Base:          s.BaseAsset,
			Quote:         s.QuoteAsset,
			Settle:        s.MarginAsset,
			Contract:      true,
			Linear:        strings.EqualFold(s.MarginAsset, s.QuoteAsset),
			Inverse:       !strings.EqualFold(s.MarginAsset, s.QuoteAsset),
			ContractSize:  decimal.NewNullDecimal(decimal.NewFromInt(1)),
			Active:        s.Status == "TRADING",
			PrecisionMode: string(model.PrecisionTickSize),
			Info:          toInfo(s),
		}
		m.Symbol = UnifiedSymbol(s.BaseAsset, s.QuoteAsset, s.MarginAsset)
		if string(s.ContractType) == "PERPETUAL" {
			m.Type = "swap"
		} else {
			m.Type = "future"
			if s.DeliveryDate > 0 {
				expiry := time.UnixMilli(s.DeliveryDate).UTC()
				m.Expiry = &expiry
				m.Symbol += "-" + expiry.Format("060102")
			}
		}
		applyBinanceFilters(&m, s.Filters)
		out = append(out, m)
	}

	c.cacheMarkets(out)
	return out, nil
}

func applyBinanceFilters(m *RawMarket, filters []map[string]interface{}) {
	for _, f := range filters {
		str := func(key string) string {
			v, _ := f[key].(string)
			return v
		}
		switch f["filterType"] {
		case "LOT_SIZE":
			m.Limits.Amount.Min = positiveOrNull(parseNull(str("minQty")))
			m.Limits.Amount.Max = positiveOrNull(parseNull(str("maxQty")))
			m.Precision.Amount = positiveOrNull(parseNull(str("stepSize")))
		case "PRICE_FILTER":
			m.Limits.Price.Min = positiveOrNull(parseNull(str("minPrice")))
			m.Limits.Price.Max = positiveOrNull(parseNull(str("maxPrice")))
			m.Precision.Price = positiveOrNull(parseNull(str("tickSize")))
		case "MIN_NOTIONAL":
			if v := str("minNotional"); v != "" {
				m.Limits.Cost.Min = positiveOrNull(parseNull(v))
			} else {
				m.Limits.Cost.Min = positiveOrNull(parseNull(str("notional")))
			}
		case "NOTIONAL":
			m.Limits.Cost.Min = positiveOrNull(parseNull(str("minNotional")))
			m.Limits.Cost.Max = positiveOrNull(parseNull(str("maxNotional")))
		}
	}
}

func positiveOrNull(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid || !d.Decimal.IsPositive() {
		return decimal.NullDecimal{}
	}
	return d
}

func toInfo(v interface{}) map[string]interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	info := map[string]interface{}{}
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil
	}
	return info
}

func walletOf(m RawMarket) model.Wallet {
	if m.Contract {
		return model.WalletFuture
	}
	return model.WalletSpot
}

func (c *BinanceClient) cacheMarkets(markets []RawMarket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets = make(map[string]RawMarket, len(markets))
	c.native = make(map[string]string, len(markets))
	for _, m := range markets {
		c.markets[m.Symbol] = m
		c.native[string(walletOf(m))+":"+m.ID] = m.Symbol
	}
}

func (c *BinanceClient) loadMarkets(ctx context.Context) error {
	c.mu.RLock()
	loaded := len(c.markets) > 0
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := c.FetchMarkets(ctx)
	return err
}

func (c *BinanceClient) market(ctx context.Context, op, symbol string) (RawMarket, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return RawMarket{}, err
	}
	c.mu.RLock()
	m, ok := c.markets[symbol]
	c.mu.RUnlock()
	if !ok {
		return RawMarket{}, NewFault(FaultBadSymbol, BinanceID, op, fmt.Errorf("unknown symbol %s", symbol))
	}
	return m, nil
}

func (c *BinanceClient) unified(wallet model.Wallet, id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.native[string(wallet)+":"+id]
	return s, ok
}

// FetchCurrencies lists the assets referenced by the listed markets.
func (c *BinanceClient) FetchCurrencies(ctx context.Context) ([]RawCurrency, error) {
	markets, err := c.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []RawCurrency
	add := func(code string) {
		if code == "" || seen[code] {
			return
		}
		seen[code] = true
		out = append(out, RawCurrency{Code: code, Active: true})
	}
	for _, m := range markets {
		add(m.Base)
		add(m.Quote)
		add(m.Settle)
	}
	return out, nil
}

func (c *BinanceClient) klinesAPI() goex.API {
	c.klinesOnce.Do(func() {
		c.klines = goexbinance.NewWithConfig(&goex.APIConfig{
			HttpClient: c.httpClient,
			Endpoint:   c.spot.BaseURL,
		})
	})
	return c.klines
}

func goexPeriod(timeframe string) (goex.KlinePeriod, bool) {
	switch timeframe {
	case "1m":
		return goex.KLINE_PERIOD_1MIN, true
	case "1h":
		return goex.KLINE_PERIOD_1H, true
	case "1d":
		return goex.KLINE_PERIOD_1DAY, true
	}
	return 0, false
}

func (c *BinanceClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]OHLCV, error) {
	m, err := c.market(ctx, "FetchOHLCV", symbol)
	if err != nil {
		return nil, err
	}

	if m.Contract {
		klines, err := c.futures.NewKlinesService().
			Symbol(m.ID).
			Interval(timeframe).
			StartTime(since.UnixMilli()).
			Limit(limit).
			Do(ctx)
		if err != nil {
			return nil, c.fault("FetchOHLCV", err)
		}
		out := make([]OHLCV, 0, len(klines))
		for _, k := range klines {
			out = append(out, OHLCV{
				Timestamp: time.UnixMilli(k.OpenTime).UTC(),
				Open:      parseNull(k.Open),
				High:      parseNull(k.High),
				Low:       parseNull(k.Low),
				Close:     parseNull(k.Close),
				Volume:    parseNull(k.Volume),
			})
		}
		return out, nil
	}

	period, ok := goexPeriod(timeframe)
	if !ok {
		return nil, NewFault(FaultNotSupported, BinanceID, "FetchOHLCV", fmt.Errorf("timeframe %s", timeframe))
	}
	pair := goex.NewCurrencyPair(goex.Currency{Symbol: m.Base}, goex.Currency{Symbol: m.Quote})

	// goex has no context support; the shared http client timeout bounds the call.
	klines, err := c.klinesAPI().GetKlineRecords(
		pair,
		period,
		limit,
		goex.OptionalParameter{}.Optional("startTime", since.UnixMilli()),
	)
	if err != nil {
		return nil, wrapTransport(BinanceID, "FetchOHLCV", err)
	}
	out := make([]OHLCV, 0, len(klines))
	for _, k := range klines {
		out = append(out, OHLCV{
			Timestamp: time.Unix(k.Timestamp, 0).UTC(),
			Open:      decimal.NewNullDecimal(decimal.NewFromFloat(k.Open)),
			High:      decimal.NewNullDecimal(decimal.NewFromFloat(k.High)),
			Low:       decimal.NewNullDecimal(decimal.NewFromFloat(k.Low)),
			Close:     decimal.NewNullDecimal(decimal.NewFromFloat(k.Close)),
			Volume:    decimal.NewNullDecimal(decimal.NewFromFloat(k.Vol)),
		})
	}
	return out, nil
}

func (c *BinanceClient) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}

	out := map[string]Ticker{}

	spotStats, err := c.spot.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchTickers", err)
	}
	for _, s := range spotStats {
		symbol, ok := c.unified(model.WalletSpot, s.Symbol)
		if !ok {
			continue
		}
		out[symbol] = Ticker{
			Symbol:      symbol,
			Last:        parseNull(s.LastPrice),
			Bid:         parseNull(s.BidPrice),
			Ask:         parseNull(s.AskPrice),
			BaseVolume:  parseNull(s.Volume),
			QuoteVolume: parseNull(s.QuoteVolume),
			Timestamp:   time.UnixMilli(s.CloseTime).UTC(),
			Info:        toInfo(s),
		}
	}

	futStats, err := c.futures.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchTickers", err)
	}
	books, err := c.futures.NewListBookTickersService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchTickers", err)
	}
	premium, err := c.futures.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchTickers", err)
	}

	bidAsk := make(map[string][2]string, len(books))
	for _, b := range books {
		bidAsk[b.Symbol] = [2]string{b.BidPrice, b.AskPrice}
	}
	funding := make(map[string]string, len(premium))
	for _, p := range premium {
		funding[p.Symbol] = p.LastFundingRate
	}

	for _, s := range futStats {
		symbol, ok := c.unified(model.WalletFuture, s.Symbol)
		if !ok {
			continue
		}
		ba := bidAsk[s.Symbol]
		out[symbol] = Ticker{
			Symbol:      symbol,
			Last:        parseNull(s.LastPrice),
			Bid:         parseNull(ba[0]),
			Ask:         parseNull(ba[1]),
			BaseVolume:  parseNull(s.Volume),
			QuoteVolume: parseNull(s.QuoteVolume),
			FundingRate: parseNull(funding[s.Symbol]),
			Timestamp:   time.UnixMilli(s.CloseTime).UTC(),
			Info:        toInfo(s),
		}
	}
	return out, nil
}

// binanceDepth rounds depth up to a limit the REST depth endpoint accepts.
func binanceDepth(depth int) int {
	for _, d := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= d {
			return d
		}
	}
	return 1000
}

func (c *BinanceClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	m, err := c.market(ctx, "FetchOrderBook", symbol)
	if err != nil {
		return nil, err
	}

	book := &OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	if m.Contract {
		res, err := c.futures.NewDepthService().Symbol(m.ID).Limit(binanceDepth(depth)).Do(ctx)
		if err != nil {
			return nil, c.fault("FetchOrderBook", err)
		}
		for _, b := range res.Bids {
			book.Bids = append(book.Bids, level(b.Price, b.Quantity))
		}
		for _, a := range res.Asks {
			book.Asks = append(book.Asks, level(a.Price, a.Quantity))
		}
		return book, nil
	}

	res, err := c.spot.NewDepthService().Symbol(m.ID).Limit(binanceDepth(depth)).Do(ctx)
	if err != nil {
		return nil, c.fault("FetchOrderBook", err)
	}
	for _, b := range res.Bids {
		book.Bids = append(book.Bids, level(b.Price, b.Quantity))
	}
	for _, a := range res.Asks {
		book.Asks = append(book.Asks, level(a.Price, a.Quantity))
	}
	return book, nil
}

func level(price, qty string) BookLevel {
	return BookLevel{Price: parseOrZero(price), Amount: parseOrZero(qty)}
}

func (c *BinanceClient) FetchBalance(ctx context.Context, wallet model.Wallet) (*Balance, error) {
	bal := &Balance{
		Wallet: wallet,
		Total:  map[string]decimal.Decimal{},
		Free:   map[string]decimal.Decimal{},
		Used:   map[string]decimal.Decimal{},
	}

	switch wallet {
	case model.WalletSpot:
		acct, err := c.spot.NewGetAccountService().Do(ctx)
		if err != nil {
			return nil, c.fault("FetchBalance", err)
		}
		for _, b := range acct.Balances {
			free, locked := parseOrZero(b.Free), parseOrZero(b.Locked)
			total := free.Add(locked)
			if total.IsZero() {
				continue
			}
			bal.Free[b.Asset] = free
			bal.Used[b.Asset] = locked
			bal.Total[b.Asset] = total
		}
	case model.WalletFuture:
		balances, err := c.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, c.fault("FetchBalance", err)
		}
		for _, b := range balances {
			total, free := parseOrZero(b.Balance), parseOrZero(b.AvailableBalance)
			if total.IsZero() {
				continue
			}
			bal.Total[b.Asset] = total
			bal.Free[b.Asset] = free
			bal.Used[b.Asset] = total.Sub(free)
		}
	default:
		return nil, NewFault(FaultNotSupported, BinanceID, "FetchBalance", fmt.Errorf("wallet %s", wallet))
	}
	return bal, nil
}

// FetchPositions reads USD-M futures positions; COIN-M wallets are not supported.
func (c *BinanceClient) FetchPositions(ctx context.Context, wallet model.Wallet) ([]RawPosition, error) {
	if wallet != model.WalletFuture {
		return nil, NewFault(FaultNotSupported, BinanceID, "FetchPositions", fmt.Errorf("wallet %s", wallet))
	}
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	risks, err := c.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.fault("FetchPositions", err)
	}

	var out []RawPosition
	for _, r := range risks {
		amt := parseOrZero(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		symbol, ok := c.unified(model.WalletFuture, r.Symbol)
		if !ok {
			logger.WithFields(map[string]interface{}{
				"exchange": BinanceID,
				"symbol":   r.Symbol,
			}).Warn("Position on unknown market skipped")
			continue
		}
		side := model.PositionSideLong
		if amt.IsNegative() {
			side = model.PositionSideShort
		}
		marginMode := model.MarginModeCross
		if strings.EqualFold(r.MarginType, "isolated") {
			marginMode = model.MarginModeIsolated
		}
		out = append(out, RawPosition{
			Symbol:           symbol,
			Side:             side,
			Contracts:        amt.Abs(),
			EntryPrice:       parseOrZero(r.EntryPrice),
			Notional:         parseOrZero(r.Notional).Abs(),
			Leverage:         parseOrZero(r.Leverage),
			MarginMode:       marginMode,
			LiquidationPrice: parseOrZero(r.LiquidationPrice),
			UnrealizedPnl:    parseOrZero(r.UnRealizedProfit),
			Info:             toInfo(r),
		})
	}
	return out, nil
}

func binanceOrderStatus(s string) model.OrderStatus {
	switch s {
	case "NEW", "PENDING_NEW":
		return model.OrderStatusOpen
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELED", "EXPIRED", "EXPIRED_IN_MATCH", "PENDING_CANCEL":
		return model.OrderStatusCanceled
	case "REJECTED":
		return model.OrderStatusFailed
	}
	return model.OrderStatusOpen
}

func orderResult(id int64, clientID, symbol, status, orig, executed, quote string, raw interface{}) *OrderResult {
	filled := parseOrZero(executed)
	cost := parseOrZero(quote)
	avg := decimal.Zero
	if filled.IsPositive() {
		avg = cost.Div(filled)
	}
	body, _ := json.Marshal(raw)
	return &OrderResult{
		ID:            strconv.FormatInt(id, 10),
		ClientOrderID: clientID,
		Symbol:        symbol,
		Status:        binanceOrderStatus(status),
		Amount:        parseOrZero(orig),
		Filled:        filled,
		Average:       avg,
		Cost:          cost,
		Raw:           string(body),
	}
}

func (c *BinanceClient) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m, err := c.market(ctx, "CreateOrder", req.Symbol)
	if err != nil {
		return nil, err
	}
	limit := req.Type == model.OrderTypeLimit
	if limit && !req.Price.Valid {
		return nil, NewFault(FaultExchange, BinanceID, "CreateOrder", errors.New("limit order without price"))
	}

	if m.Contract {
		svc := c.futures.NewCreateOrderService().
			Symbol(m.ID).
			Side(futures.SideType(strings.ToUpper(req.Side))).
			Quantity(req.Amount.String()).
			NewClientOrderID(req.ClientOrderID).
			ReduceOnly(req.ReduceOnly)
		if limit {
			svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.Decimal.String())
		} else {
			svc = svc.Type(futures.OrderTypeMarket)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, c.fault("CreateOrder", err)
		}
		return orderResult(res.OrderID, res.ClientOrderID, req.Symbol, string(res.Status), res.OrigQuantity, res.ExecutedQuantity, res.CumQuote, res), nil
	}

	svc := c.spot.NewCreateOrderService().
		Symbol(m.ID).
		Side(binance.SideType(strings.ToUpper(req.Side))).
		Quantity(req.Amount.String()).
		NewClientOrderID(req.ClientOrderID)
	if limit {
		svc = svc.Type(binance.OrderTypeLimit).TimeInForce(binance.TimeInForceTypeGTC).Price(req.Price.Decimal.String())
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.fault("CreateOrder", err)
	}
	return orderResult(res.OrderID, res.ClientOrderID, req.Symbol, string(res.Status), res.OrigQuantity, res.ExecutedQuantity, res.CummulativeQuoteQuantity, res), nil
}

func parseOrderID(op, id string) (int64, error) {
	oid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, NewFault(FaultExchange, BinanceID, op, fmt.Errorf("invalid order id %q: %w", id, err))
	}
	return oid, nil
}

func (c *BinanceClient) CancelOrder(ctx context.Context, id, symbol string) error {
	m, err := c.market(ctx, "CancelOrder", symbol)
	if err != nil {
		return err
	}
	oid, err := parseOrderID("CancelOrder", id)
	if err != nil {
		return err
	}
	if m.Contract {
		_, err = c.futures.NewCancelOrderService().Symbol(m.ID).OrderID(oid).Do(ctx)
	} else {
		_, err = c.spot.NewCancelOrderService().Symbol(m.ID).OrderID(oid).Do(ctx)
	}
	return c.fault("CancelOrder", err)
}

func (c *BinanceClient) FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error) {
	m, err := c.market(ctx, "FetchOrder", symbol)
	if err != nil {
		return nil, err
	}
	oid, err := parseOrderID("FetchOrder", id)
	if err != nil {
		return nil, err
	}
	if m.Contract {
		o, err := c.futures.NewGetOrderService().Symbol(m.ID).OrderID(oid).Do(ctx)
		if err != nil {
			return nil, c.fault("FetchOrder", err)
		}
		return orderResult(o.OrderID, o.ClientOrderID, symbol, string(o.Status), o.OrigQuantity, o.ExecutedQuantity, o.CumQuote, o), nil
	}
	o, err := c.spot.NewGetOrderService().Symbol(m.ID).OrderID(oid).Do(ctx)
	if err != nil {
		return nil, c.fault("FetchOrder", err)
	}
	return orderResult(o.OrderID, o.ClientOrderID, symbol, string(o.Status), o.OrigQuantity, o.ExecutedQuantity, o.CummulativeQuoteQuantity, o), nil
}

func (c *BinanceClient) FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*OrderResult, error) {
	m, err := c.market(ctx, "FetchOrderByClientID", symbol)
	if err != nil {
		return nil, err
	}
	if m.Contract {
		o, err := c.futures.NewGetOrderService().Symbol(m.ID).OrigClientOrderID(clientOrderID).Do(ctx)
		if err != nil {
			return nil, c.fault("FetchOrderByClientID", err)
		}
		return orderResult(o.OrderID, o.ClientOrderID, symbol, string(o.Status), o.OrigQuantity, o.ExecutedQuantity, o.CumQuote, o), nil
	}
	o, err := c.spot.NewGetOrderService().Symbol(m.ID).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return nil, c.fault("FetchOrderByClientID", err)
	}
	return orderResult(o.OrderID, o.ClientOrderID, symbol, string(o.Status), o.OrigQuantity, o.ExecutedQuantity, o.CummulativeQuoteQuantity, o), nil
}

// Transfer moves funds between the spot and USD-M futures wallets.
func (c *BinanceClient) Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to model.Wallet) (string, error) {
	var direction binance.FuturesTransferType
	switch {
	case from == model.WalletSpot && to == model.WalletFuture:
		direction = binance.FuturesTransferTypeToFutures
	case from == model.WalletFuture && to == model.WalletSpot:
		direction = binance.FuturesTransferTypeToMain
	default:
		return "", NewFault(FaultNotSupported, BinanceID, "Transfer", fmt.Errorf("%s to %s", from, to))
	}

	res, err := c.spot.NewFuturesTransferService().
		Asset(currency).
		Amount(amount.String()).
		Type(direction).
		Do(ctx)
	if err != nil {
		return "", c.fault("Transfer", err)
	}
	return strconv.FormatInt(res.TranID, 10), nil
}

func (c *BinanceClient) WatchOrderBook(ctx context.Context, symbol string, depth int, handler func(OrderBook)) error {
	m, err := c.market(ctx, "WatchOrderBook", symbol)
	if err != nil {
		return err
	}

	errC := make(chan error, 1)
	errHandler := func(err error) {
		select {
		case errC <- err:
		default:
		}
	}

	var doneC, stopC chan struct{}
	if m.Contract {
		levels := 20
		if depth > 0 && depth < levels {
			levels = binanceDepth(depth)
		}
		doneC, stopC, err = futures.WsPartialDepthServe(m.ID, levels, func(e *futures.WsDepthEvent) {
			book := OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
			for _, b := range e.Bids {
				book.Bids = append(book.Bids, level(b.Price, b.Quantity))
			}
			for _, a := range e.Asks {
				book.Asks = append(book.Asks, level(a.Price, a.Quantity))
			}
			handler(book)
		}, errHandler)
	} else {
		levels := "20"
		if depth > 0 && depth <= 10 {
			levels = strconv.Itoa(binanceDepth(depth))
		}
		doneC, stopC, err = binance.WsPartialDepthServe(m.ID, levels, func(e *binance.WsPartialDepthEvent) {
			book := OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
			for _, b := range e.Bids {
				book.Bids = append(book.Bids, level(b.Price, b.Quantity))
			}
			for _, a := range e.Asks {
				book.Asks = append(book.Asks, level(a.Price, a.Quantity))
			}
			handler(book)
		}, errHandler)
	}
	if err != nil {
		return wrapTransport(BinanceID, "WatchOrderBook", err)
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errC:
		close(stopC)
		<-doneC
		return NewFault(FaultNetwork, BinanceID, "WatchOrderBook", err)
	case <-doneC:
		return NewFault(FaultNetwork, BinanceID, "WatchOrderBook", errors.New("stream closed"))
	}
}
