package connectors

// REST client for Kraken Futures (v3 /derivatives) built on resty.
// Retries are left to the caller's credit gate, so resty never retries on its own.

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"marketrouter/src/model"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	KrakenFuturesID = "krakenfutures"

	defaultKrakenDerivativesBaseURL = "https://futures.kraken.com/derivatives"
	defaultKrakenChartsURL          = "https://futures.kraken.com/api/charts/v1"
	defaultKrakenWSURL              = "wss://futures.kraken.com/ws/v1"
	apiV3Prefix                     = "/api/v3"
)

type KrakenOptions struct {
	BaseURL   string
	ChartsURL string
	WSURL     string
	Timeout   time.Duration
}

type KrakenFuturesClient struct {
	apiKey    string
	apiSecret string // base64-encoded secret from Kraken
	baseURL   string
	chartsURL string
	wsURL     string
	http      *resty.Client

	mu      sync.RWMutex
	markets map[string]RawMarket // by unified symbol
	native  map[string]string    // native id -> unified symbol
}

func NewKrakenFuturesClient(apiKey, apiSecret string, opts KrakenOptions) *KrakenFuturesClient {
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = defaultKrakenDerivativesBaseURL
		logger.Warnf("No base URL provided, using default: %s", opts.BaseURL)
	}
	if strings.TrimSpace(opts.ChartsURL) == "" {
		opts.ChartsURL = defaultKrakenChartsURL
	}
	if strings.TrimSpace(opts.WSURL) == "" {
		opts.WSURL = defaultKrakenWSURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(0)

	return &KrakenFuturesClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		chartsURL: strings.TrimRight(opts.ChartsURL, "/"),
		wsURL:     opts.WSURL,
		http:      httpClient,
		markets:   map[string]RawMarket{},
		native:    map[string]string{},
	}
}

func (c *KrakenFuturesClient) ID() string { return KrakenFuturesID }

// -----------------------------
// AUTH
// -----------------------------
//
// Kraken Futures REST (v3 /derivatives/*) Authent:
//  1) message = postData + Nonce + endpointPath
//  2) sha256(message)
//  3) base64-decode apiSecret
//  4) hmac-sha512(secretDecoded, sha256Digest)
//  5) base64-encode result
//
// endpointPath is /api/v3/... without the /derivatives prefix.

func nonceMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func computeAuthent(postData, nonce, endpointPath, apiSecretB64 string) (string, error) {
	msg := postData + nonce + endpointPath

	sum := sha256.Sum256([]byte(msg))

	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return "", fmt.Errorf("base64 decode api secret failed: %w", err)
	}

	mac := hmac.New(sha512.New, secret)
	_, _ = mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// We sign exactly what we send; spaces are encoded as %20, not '+'.
func queryEscapeRFC3986(s string) string {
	esc := url.QueryEscape(s)
	return strings.ReplaceAll(esc, "+", "%20")
}

func encodeValuesRFC3986(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		vals := v[k]
		sort.Strings(vals)
		ek := queryEscapeRFC3986(k)
		for _, val := range vals {
			parts = append(parts, ek+"="+queryEscapeRFC3986(val))
		}
	}
	return strings.Join(parts, "&")
}

// -----------------------------
// LOW-LEVEL REQUESTS
// -----------------------------
type krakenBaseResp struct {
	Result     string `json:"result"`
	Error      string `json:"error,omitempty"`
	ServerTime string `json:"serverTime,omitempty"`
}

func (c *KrakenFuturesClient) doRequest(ctx context.Context, op, method, endpoint string, params url.Values, auth bool, out any) error {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	httpPath := apiV3Prefix + endpoint
	postData := encodeValuesRFC3986(params)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	if auth {
		if c.apiKey == "" || c.apiSecret == "" {
			return NewFault(FaultAuth, KrakenFuturesID, op, errors.New("missing credentials"))
		}
		nonce := nonceMillis()
		authent, err := computeAuthent(postData, nonce, httpPath, c.apiSecret)
		if err != nil {
			return NewFault(FaultAuth, KrakenFuturesID, op, err)
		}

		req = req.
			SetHeader("APIKey", c.apiKey).
			SetHeader("Nonce", nonce).
			SetHeader("Authent", authent)
	}

	// Parameters go in the URL so signing matches what is sent.
	if postData != "" {
		req = req.SetQueryString(postData)
	}

	resp, err := req.Execute(method, httpPath)
	if err != nil {
		return wrapTransport(KrakenFuturesID, op, err)
	}
	return decodeKraken(op, resp, out)
}

func decodeKraken(op string, resp *resty.Response, out any) error {
	raw := resp.Body()
	if kind, failed := kindFromStatus(resp.StatusCode()); failed {
		return NewFault(kind, KrakenFuturesID, op, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), string(raw)))
	}

	// Many endpoints return HTTP 200 with {result:"error", error:"..."}.
	var base krakenBaseResp
	if err := json.Unmarshal(raw, &base); err != nil {
		return NewFault(FaultExchange, KrakenFuturesID, op, fmt.Errorf("json unmarshal failed: %w. raw=%s", err, string(raw)))
	}
	if strings.EqualFold(base.Result, "error") {
		if base.Error == "" {
			return NewFault(FaultExchange, KrakenFuturesID, op, errors.New("kraken futures returned result=error"))
		}
		return NewFault(krakenKind(base.Error), KrakenFuturesID, op, fmt.Errorf("kraken futures error: %s", base.Error))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return NewFault(FaultExchange, KrakenFuturesID, op, fmt.Errorf("json unmarshal into output failed: %w. raw=%s", err, string(raw)))
		}
	}
	return nil
}

// -----------------------------
// SYMBOLS
// -----------------------------

// krakenCurrency converts Kraken asset codes to common ones.
func krakenCurrency(code string) string {
	code = strings.ToUpper(code)
	if code == "XBT" {
		return "BTC"
	}
	return code
}

// krakenPair extracts base and quote from ids like PF_XBTUSD or FI_ETHUSD_250328.
func krakenPair(id string) (base, quote string) {
	parts := strings.Split(strings.ToUpper(id), "_")
	if len(parts) < 2 || len(parts[1]) <= 3 {
		return "", ""
	}
	pair := parts[1]
	return krakenCurrency(pair[:len(pair)-3]), krakenCurrency(pair[len(pair)-3:])
}

func str(info map[string]interface{}, key string) string {
	switch v := info[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

func num(info map[string]interface{}, key string) decimal.NullDecimal {
	return parseNull(str(info, key))
}

func krakenTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (c *KrakenFuturesClient) cacheMarkets(markets []RawMarket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets = make(map[string]RawMarket, len(markets))
	c.native = make(map[string]string, len(markets))
	for _, m := range markets {
		c.markets[m.Symbol] = m
		c.native[m.ID] = m.Symbol
	}
}

func (c *KrakenFuturesClient) loadMarkets(ctx context.Context) error {
	c.mu.RLock()
	loaded := len(c.markets) > 0
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := c.FetchMarkets(ctx)
	return err
}

func (c *KrakenFuturesClient) market(ctx context.Context, op, symbol string) (RawMarket, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return RawMarket{}, err
	}
	c.mu.RLock()
	m, ok := c.markets[symbol]
	c.mu.RUnlock()
	if !ok {
		return RawMarket{}, NewFault(FaultBadSymbol, KrakenFuturesID, op, fmt.Errorf("unknown symbol %s", symbol))
	}
	return m, nil
}

func (c *KrakenFuturesClient) unified(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.native[strings.ToUpper(id)]
	return s, ok
}

// -----------------------------
// PUBLIC MARKET DATA
// -----------------------------

func (c *KrakenFuturesClient) FetchStatus(ctx context.Context) (*Status, error) {
	now := time.Now().UTC()
	err := c.doRequest(ctx, "FetchStatus", http.MethodGet, "/instruments/status", nil, false, nil)
	if err != nil {
		if KindOf(err) == FaultUnavailable {
			return &Status{Status: model.ExchangeStatusMaintenance, Updated: now}, nil
		}
		return nil, err
	}
	return &Status{Status: model.ExchangeStatusOK, Updated: now}, nil
}

type krakenInstrumentsResponse struct {
	Instruments []map[string]interface{} `json:"instruments"`
}

func (c *KrakenFuturesClient) FetchMarkets(ctx context.Context) ([]RawMarket, error) {
	var out krakenInstrumentsResponse
	if err := c.doRequest(ctx, "FetchMarkets", http.MethodGet, "/instruments", nil, false, &out); err != nil {
		return nil, err
	}

	markets := make([]RawMarket, 0, len(out.Instruments))
	for _, info := range out.Instruments {
		id := strings.ToUpper(str(info, "symbol"))
		kind := str(info, "type")
		if id == "" || !(strings.HasPrefix(id, "PF_") || strings.HasPrefix(id, "PI_") || strings.HasPrefix(id, "FI_") || strings.HasPrefix(id, "FF_")) {
			continue
		}

		base, quote := krakenCurrency(str(info, "base")), krakenCurrency(str(info, "quote"))
		if base == "" || quote == "" {
			base, quote = krakenPair(id)
		}
		if base == "" {
			continue
		}

		inverse := kind == "futures_inverse"
		settle := quote
		if inverse {
			settle = base
		}

		m := RawMarket{
			ID:            id,
			Base:          base,
			Quote:         quote,
			Settle:        settle,
			Contract:      true,
			Linear:        !inverse,
			Inverse:       inverse,
			ContractSize:  num(info, "contractSize"),
			Active:        str(info, "tradeable") == "true",
			PrecisionMode: string(model.PrecisionTickSize),
			Info:          info,
		}
		m.Symbol = UnifiedSymbol(base, quote, settle)

		expiry := krakenTime(str(info, "lastTradingTime"))
		if expiry == nil {
			m.Type = "swap"
		} else {
			m.Type = "future"
			m.Expiry = expiry
			m.Symbol += "-" + expiry.Format("060102")
		}

		m.Precision.Price = positiveOrNull(num(info, "tickSize"))
		if p, err := strconv.Atoi(str(info, "contractValueTradePrecision")); err == nil {
			m.Precision.Amount = decimal.NewNullDecimal(decimal.New(1, int32(-p)))
			m.Limits.Amount.Min = m.Precision.Amount
		}
		m.Limits.Amount.Max = positiveOrNull(num(info, "maxPositionSize"))

		markets = append(markets, m)
	}

	c.cacheMarkets(markets)
	return markets, nil
}

// FetchCurrencies lists the assets referenced by the listed contracts.
func (c *KrakenFuturesClient) FetchCurrencies(ctx context.Context) ([]RawCurrency, error) {
	markets, err := c.FetchMarkets(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []RawCurrency
	for _, m := range markets {
		for _, code := range []string{m.Base, m.Quote, m.Settle} {
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			out = append(out, RawCurrency{Code: code, Active: true})
		}
	}
	return out, nil
}

type krakenTickersResponse struct {
	Tickers []map[string]interface{} `json:"tickers"`
}

func (c *KrakenFuturesClient) FetchTickers(ctx context.Context) (map[string]Ticker, error) {
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	var out krakenTickersResponse
	if err := c.doRequest(ctx, "FetchTickers", http.MethodGet, "/tickers", nil, false, &out); err != nil {
		return nil, err
	}

	tickers := make(map[string]Ticker, len(out.Tickers))
	for _, info := range out.Tickers {
		symbol, ok := c.unified(str(info, "symbol"))
		if !ok {
			continue
		}
		t := Ticker{
			Symbol:      symbol,
			Last:        num(info, "last"),
			Bid:         num(info, "bid"),
			Ask:         num(info, "ask"),
			BaseVolume:  num(info, "vol24h"),
			QuoteVolume: num(info, "volumeQuote"),
			Timestamp:   time.Now().UTC(),
			Info:        info,
		}
		if ts := krakenTime(str(info, "lastTime")); ts != nil {
			t.Timestamp = *ts
		}
		// fundingRate is absolute per contract; convert to a rate of the mark price.
		rate, mark := num(info, "fundingRate"), num(info, "markPrice")
		if rate.Valid && mark.Valid && mark.Decimal.IsPositive() {
			t.FundingRate = decimal.NewNullDecimal(rate.Decimal.Div(mark.Decimal))
		}
		tickers[symbol] = t
	}
	return tickers, nil
}

type KrakenOrderbookResponse struct {
	Result     string `json:"result"`
	ServerTime string `json:"serverTime"`
	OrderBook  struct {
		Asks [][]float64 `json:"asks"`
		Bids [][]float64 `json:"bids"`
	} `json:"orderBook"`
}

func (c *KrakenFuturesClient) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	m, err := c.market(ctx, "FetchOrderBook", symbol)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("symbol", m.ID)

	var out KrakenOrderbookResponse
	if err := c.doRequest(ctx, "FetchOrderBook", http.MethodGet, "/orderbook", params, false, &out); err != nil {
		return nil, err
	}

	book := &OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	book.Bids = krakenLevels(out.OrderBook.Bids, true, depth)
	book.Asks = krakenLevels(out.OrderBook.Asks, false, depth)
	return book, nil
}

func krakenLevels(raw [][]float64, desc bool, depth int) []BookLevel {
	side := make(map[float64]float64, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		side[l[0]] = l[1]
	}
	return sortedLevels(side, desc, depth)
}

var krakenResolutions = map[string]string{
	"1m": "1m",
	"5m": "5m",
	"1h": "1h",
	"4h": "4h",
	"1d": "1d",
}

type krakenCandlesResponse struct {
	Candles []map[string]interface{} `json:"candles"`
}

// FetchOHLCV reads trade candles from the charts API; volume is in contracts.
func (c *KrakenFuturesClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]OHLCV, error) {
	m, err := c.market(ctx, "FetchOHLCV", symbol)
	if err != nil {
		return nil, err
	}
	resolution, ok := krakenResolutions[timeframe]
	if !ok {
		return nil, NewFault(FaultNotSupported, KrakenFuturesID, "FetchOHLCV", fmt.Errorf("timeframe %s", timeframe))
	}
	step, _ := time.ParseDuration(strings.Replace(timeframe, "d", "h", 1))
	if strings.HasSuffix(timeframe, "d") {
		step *= 24
	}
	to := since.Add(time.Duration(limit) * step)

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("from", strconv.FormatInt(since.Unix(), 10)).
		SetQueryParam("to", strconv.FormatInt(to.Unix(), 10)).
		Get(fmt.Sprintf("%s/trade/%s/%s", c.chartsURL, m.ID, resolution))
	if err != nil {
		return nil, wrapTransport(KrakenFuturesID, "FetchOHLCV", err)
	}
	if kind, failed := kindFromStatus(resp.StatusCode()); failed {
		return nil, NewFault(kind, KrakenFuturesID, "FetchOHLCV", fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}

	var out krakenCandlesResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, NewFault(FaultExchange, KrakenFuturesID, "FetchOHLCV", err)
	}

	bars := make([]OHLCV, 0, len(out.Candles))
	for _, k := range out.Candles {
		ms, err := strconv.ParseInt(str(k, "time"), 10, 64)
		if err != nil {
			continue
		}
		bars = append(bars, OHLCV{
			Timestamp: time.UnixMilli(ms).UTC(),
			Open:      num(k, "open"),
			High:      num(k, "high"),
			Low:       num(k, "low"),
			Close:     num(k, "close"),
			Volume:    num(k, "volume"),
		})
		if limit > 0 && len(bars) >= limit {
			break
		}
	}
	return bars, nil
}

// -----------------------------
// PRIVATE
// -----------------------------

// krakenAccount maps a wallet to the Kraken Futures account holding it.
func krakenAccount(w model.Wallet) (string, bool) {
	switch w {
	case model.WalletFuture:
		return "flex", true
	case model.WalletSpot:
		return "cash", true
	}
	return "", false
}

type krakenAccountsResponse struct {
	Accounts map[string]map[string]interface{} `json:"accounts"`
}

func (c *KrakenFuturesClient) FetchBalance(ctx context.Context, wallet model.Wallet) (*Balance, error) {
	name, ok := krakenAccount(wallet)
	if !ok {
		return nil, NewFault(FaultNotSupported, KrakenFuturesID, "FetchBalance", fmt.Errorf("wallet %s", wallet))
	}
	var out krakenAccountsResponse
	if err := c.doRequest(ctx, "FetchBalance", http.MethodGet, "/accounts", nil, true, &out); err != nil {
		return nil, err
	}

	bal := &Balance{
		Wallet: wallet,
		Total:  map[string]decimal.Decimal{},
		Free:   map[string]decimal.Decimal{},
		Used:   map[string]decimal.Decimal{},
		Info:   out.Accounts[name],
	}
	account := out.Accounts[name]

	if currencies, ok := account["currencies"].(map[string]interface{}); ok {
		for code, v := range currencies {
			entry, _ := v.(map[string]interface{})
			total := num(entry, "quantity")
			if !total.Valid || total.Decimal.IsZero() {
				continue
			}
			free := num(entry, "available")
			cur := krakenCurrency(code)
			bal.Total[cur] = total.Decimal
			if free.Valid {
				bal.Free[cur] = free.Decimal
				bal.Used[cur] = total.Decimal.Sub(free.Decimal)
			} else {
				bal.Free[cur] = total.Decimal
				bal.Used[cur] = decimal.Zero
			}
		}
	}
	if balances, ok := account["balances"].(map[string]interface{}); ok {
		for code := range balances {
			total := num(balances, code)
			if !total.Valid || total.Decimal.IsZero() {
				continue
			}
			cur := krakenCurrency(code)
			bal.Total[cur] = total.Decimal
			bal.Free[cur] = total.Decimal
			bal.Used[cur] = decimal.Zero
		}
	}
	return bal, nil
}

type OpenPositionsResponse struct {
	Result        string         `json:"result"`
	ServerTime    string         `json:"serverTime"`
	OpenPositions []OpenPosition `json:"openPositions"`
}

type OpenPosition struct {
	FillTime          string   `json:"fillTime,omitempty"`
	Price             *float64 `json:"price,omitempty"`
	Side              string   `json:"side,omitempty"` // long or short
	Size              float64  `json:"size,omitempty"`
	Symbol            string   `json:"symbol,omitempty"`
	UnrealizedFunding *float64 `json:"unrealizedFunding,omitempty"`
	MaxFixedLeverage  *float64 `json:"maxFixedLeverage,omitempty"`
	PnLCurrency       *string  `json:"pnlCurrency,omitempty"`
}

func (c *KrakenFuturesClient) FetchPositions(ctx context.Context, wallet model.Wallet) ([]RawPosition, error) {
	if wallet != model.WalletFuture {
		return nil, NewFault(FaultNotSupported, KrakenFuturesID, "FetchPositions", fmt.Errorf("wallet %s", wallet))
	}
	if err := c.loadMarkets(ctx); err != nil {
		return nil, err
	}
	var out OpenPositionsResponse
	if err := c.doRequest(ctx, "FetchPositions", http.MethodGet, "/openpositions", nil, true, &out); err != nil {
		return nil, err
	}

	positions := make([]RawPosition, 0, len(out.OpenPositions))
	for _, p := range out.OpenPositions {
		if p.Size == 0 {
			continue
		}
		symbol, ok := c.unified(p.Symbol)
		if !ok {
			continue
		}
		side := model.PositionSideLong
		if strings.EqualFold(p.Side, "short") {
			side = model.PositionSideShort
		}
		entry := nullFromFloat(p.Price)
		size := decimal.NewFromFloat(p.Size).Abs()
		pos := RawPosition{
			Symbol:     symbol,
			Side:       side,
			Contracts:  size,
			MarginMode: model.MarginModeCross,
			Info:       toInfo(p),
		}
		if entry.Valid {
			pos.EntryPrice = entry.Decimal
		}
		if p.MaxFixedLeverage != nil {
			pos.Leverage = decimal.NewFromFloat(*p.MaxFixedLeverage)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// SendOrderRequest is the /sendorder payload.
type SendOrderRequest struct {
	OrderType  string  // required: lmt, mkt, ioc, post, stp, take_profit
	Symbol     string  // required: e.g. PF_XBTUSD
	Side       string  // required: buy, sell
	Size       float64 // required
	LimitPrice *float64
	CliOrdID   *string
	ReduceOnly *bool
}

func (r SendOrderRequest) toValues() (url.Values, error) {
	v := url.Values{}

	if strings.TrimSpace(r.OrderType) == "" {
		return nil, errors.New("orderType is required")
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return nil, errors.New("symbol is required")
	}
	if strings.TrimSpace(r.Side) == "" {
		return nil, errors.New("side is required")
	}
	if r.Size <= 0 {
		return nil, errors.New("size must be > 0")
	}

	v.Set("orderType", strings.ToLower(r.OrderType))
	v.Set("symbol", r.Symbol)
	v.Set("side", strings.ToLower(r.Side))
	v.Set("size", strconv.FormatFloat(r.Size, 'f', -1, 64))

	if r.LimitPrice != nil {
		v.Set("limitPrice", strconv.FormatFloat(*r.LimitPrice, 'f', -1, 64))
	}
	if r.CliOrdID != nil && strings.TrimSpace(*r.CliOrdID) != "" {
		v.Set("cliOrdId", *r.CliOrdID)
	}
	if r.ReduceOnly != nil {
		v.Set("reduceOnly", strconv.FormatBool(*r.ReduceOnly))
	}
	return v, nil
}

type krakenOrderEvent struct {
	Type   string   `json:"type"`
	Price  *float64 `json:"price,omitempty"`
	Amount *float64 `json:"amount,omitempty"`
}

type SendOrderResponse struct {
	Result     string `json:"result"`
	ServerTime string `json:"serverTime"`

	SendStatus struct {
		ReceivedTime string             `json:"receivedTime"`
		Status       string             `json:"status"`
		OrderID      string             `json:"order_id"`
		CliOrdID     string             `json:"cliOrdId"`
		OrderEvents  []krakenOrderEvent `json:"orderEvents"`
	} `json:"sendStatus"`
}

func (c *KrakenFuturesClient) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	m, err := c.market(ctx, "CreateOrder", req.Symbol)
	if err != nil {
		return nil, err
	}
	size, _ := req.Amount.Float64()
	send := SendOrderRequest{
		OrderType:  "mkt",
		Symbol:     m.ID,
		Side:       req.Side,
		Size:       size,
		CliOrdID:   &req.ClientOrderID,
		ReduceOnly: &req.ReduceOnly,
	}
	if req.Type == model.OrderTypeLimit {
		if !req.Price.Valid {
			return nil, NewFault(FaultExchange, KrakenFuturesID, "CreateOrder", errors.New("limit order without price"))
		}
		price, _ := req.Price.Decimal.Float64()
		send.OrderType = "lmt"
		send.LimitPrice = &price
	}
	params, err := send.toValues()
	if err != nil {
		return nil, NewFault(FaultExchange, KrakenFuturesID, "CreateOrder", err)
	}

	var out SendOrderResponse
	if err := c.doRequest(ctx, "CreateOrder", http.MethodPost, "/sendorder", params, true, &out); err != nil {
		return nil, err
	}

	status := out.SendStatus.Status
	switch status {
	case "placed", "partiallyFilled", "filled", "attempted":
	default:
		return nil, NewFault(krakenKind(status), KrakenFuturesID, "CreateOrder", fmt.Errorf("order rejected: %s", status))
	}

	filled, cost := decimal.Zero, decimal.Zero
	for _, e := range out.SendStatus.OrderEvents {
		if e.Type != "EXECUTION" || e.Amount == nil || e.Price == nil {
			continue
		}
		amount := decimal.NewFromFloat(*e.Amount)
		filled = filled.Add(amount)
		cost = cost.Add(amount.Mul(decimal.NewFromFloat(*e.Price)))
	}

	res := &OrderResult{
		ID:            out.SendStatus.OrderID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        model.OrderStatusOpen,
		Amount:        req.Amount,
		Filled:        filled,
		Cost:          cost,
		Raw:           string(mustJSON(out)),
	}
	if filled.IsPositive() {
		res.Average = cost.Div(filled)
		res.Status = model.OrderStatusPartiallyFilled
		if filled.GreaterThanOrEqual(req.Amount) {
			res.Status = model.OrderStatusFilled
		}
	}
	return res, nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

type krakenCancelResponse struct {
	CancelStatus struct {
		Status string `json:"status"`
	} `json:"cancelStatus"`
}

func (c *KrakenFuturesClient) CancelOrder(ctx context.Context, id, _ string) error {
	params := url.Values{}
	params.Set("order_id", id)

	var out krakenCancelResponse
	if err := c.doRequest(ctx, "CancelOrder", http.MethodPost, "/cancelorder", params, true, &out); err != nil {
		return err
	}
	if out.CancelStatus.Status == "notFound" {
		return NewFault(FaultExchange, KrakenFuturesID, "CancelOrder", fmt.Errorf("order %s not found", id))
	}
	return nil
}

type krakenOrderStatusResponse struct {
	Orders []struct {
		Order struct {
			OrderID  string  `json:"orderId"`
			CliOrdID string  `json:"cliOrdId"`
			Symbol   string  `json:"symbol"`
			Quantity float64 `json:"quantity"`
			Filled   float64 `json:"filled"`
		} `json:"order"`
		Status string `json:"status"`
	} `json:"orders"`
}

func krakenOrderStatus(s string, filled, quantity float64) model.OrderStatus {
	switch s {
	case "FULLY_EXECUTED":
		return model.OrderStatusFilled
	case "CANCELLED":
		return model.OrderStatusCanceled
	case "REJECTED":
		return model.OrderStatusFailed
	}
	if filled > 0 && filled < quantity {
		return model.OrderStatusPartiallyFilled
	}
	return model.OrderStatusOpen
}

func (c *KrakenFuturesClient) FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error) {
	return c.orderStatus(ctx, "FetchOrder", "orderIds", id, symbol)
}

func (c *KrakenFuturesClient) FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*OrderResult, error) {
	return c.orderStatus(ctx, "FetchOrderByClientID", "cliOrdIds", clientOrderID, symbol)
}

// orderStatus looks up one order by exchange id (orderIds) or client id (cliOrdIds).
func (c *KrakenFuturesClient) orderStatus(ctx context.Context, op, param, id, symbol string) (*OrderResult, error) {
	params := url.Values{}
	params.Set(param, id)

	var out krakenOrderStatusResponse
	if err := c.doRequest(ctx, op, http.MethodPost, "/orders/status", params, true, &out); err != nil {
		return nil, err
	}
	for _, o := range out.Orders {
		match := o.Order.OrderID
		if param == "cliOrdIds" {
			match = o.Order.CliOrdID
		}
		if match != id {
			continue
		}
		return &OrderResult{
			ID:            o.Order.OrderID,
			ClientOrderID: o.Order.CliOrdID,
			Symbol:        symbol,
			Status:        krakenOrderStatus(o.Status, o.Order.Filled, o.Order.Quantity),
			Amount:        decimal.NewFromFloat(o.Order.Quantity),
			Filled:        decimal.NewFromFloat(o.Order.Filled),
			Raw:           string(mustJSON(o)),
		}, nil
	}
	return nil, NewFault(FaultOrderNotFound, KrakenFuturesID, op, fmt.Errorf("order %s not found", id))
}

func (c *KrakenFuturesClient) Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to model.Wallet) (string, error) {
	fromAccount, ok := krakenAccount(from)
	if !ok {
		return "", NewFault(FaultNotSupported, KrakenFuturesID, "Transfer", fmt.Errorf("wallet %s", from))
	}
	toAccount, ok := krakenAccount(to)
	if !ok {
		return "", NewFault(FaultNotSupported, KrakenFuturesID, "Transfer", fmt.Errorf("wallet %s", to))
	}
	unit := strings.ToUpper(currency)
	if unit == "BTC" {
		unit = "XBT"
	}

	params := url.Values{}
	params.Set("fromAccount", fromAccount)
	params.Set("toAccount", toAccount)
	params.Set("unit", unit)
	params.Set("amount", amount.String())

	var out krakenBaseResp
	if err := c.doRequest(ctx, "Transfer", http.MethodPost, "/transfer", params, true, &out); err != nil {
		return "", err
	}
	return out.ServerTime, nil
}
