package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/model"
	"marketrouter/src/pricefeed"
	"marketrouter/src/strategy"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrNoExchange     = errors.New("account has no exchange")
	ErrNoAccountValue = errors.New("account value is zero")
	hundred           = decimal.NewFromInt(100)
)

type FundSource interface {
	Latest(ctx context.Context, accountID uint) ([]model.Fund, error)
}

type PositionSource interface {
	ListByAccount(ctx context.Context, accountID uint) ([]model.Position, error)
}

type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

type PriceSource interface {
	Prices(exchange string) *pricefeed.Prices
}

// Builder assembles the AccountState of an account from stored funds and positions, the
// strategy allocation and the latest tickers.
type Builder struct {
	Funds     FundSource
	Positions PositionSource
	Strategy  strategy.Source
	Catalog   SnapshotSource
	Prices    PriceSource
	Config    Config
	Log       *logger.Entry

	now func() time.Time
}

func NewBuilder(funds FundSource, positions PositionSource, source strategy.Source, c SnapshotSource, prices PriceSource, config Config) *Builder {
	return &Builder{
		Funds:     funds,
		Positions: positions,
		Strategy:  source,
		Catalog:   c,
		Prices:    prices,
		Config:    config,
		Log:       logger.WithField("component", "portfolio"),
		now:       time.Now,
	}
}

// Build computes balances, positions, targets and deltas for every currency of the account.
func (b *Builder) Build(ctx context.Context, account *model.Account) (*AccountState, error) {
	if account.Exchange == nil {
		return nil, ErrNoExchange
	}
	exchange := account.Exchange
	log := b.Log.WithFields(map[string]interface{}{"account": account.ID, "exchange": exchange.Name})

	allocation, err := b.Strategy.Allocation(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("allocation for account %d: %w", account.ID, err)
	}
	funds, err := b.Funds.Latest(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("funds for account %d: %w", account.ID, err)
	}
	positions, err := b.Positions.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("positions for account %d: %w", account.ID, err)
	}

	reference := account.ReferenceCurrency
	if reference == "" {
		reference = b.Config.DefaultReference
	}

	snap := b.Catalog.Snapshot()
	p := pricer{snap: snap, prices: b.Prices.Prices(exchange.Name), exchange: exchange.Name, reference: reference}
	state := newAccountState(account, exchange, reference)
	state.Built = b.now().UTC()

	for _, fund := range funds {
		for code, total := range fund.Total {
			row := state.cashRow(code, fund.Wallet)
			row.Total = total
			row.Free = fund.Free[code]
			row.Used = fund.Used[code]
		}
	}

	pnl := map[string]decimal.Decimal{}
	for i := range positions {
		pos := &positions[i]
		market, ok := snap.MarketByID(pos.MarketID)
		if !ok {
			log.WithField("market", pos.MarketID).Warn("position on unknown market ignored")
			continue
		}
		price, _ := p.market(market)
		c := state.currency(market.Base)
		c.Rows = append(c.Rows, &Row{
			Currency: market.Base,
			Wallet:   market.Wallet,
			Market:   market,
			Side:     pos.Side,
			Quantity: market.BaseQuantity(pos.Size.Abs(), price),
		})
		settle := market.SettlementCurrency()
		pnl[settle] = pnl[settle].Add(pos.UnrealizedPnl)
	}

	for code := range allocation {
		state.currency(code)
	}
	state.currency(reference)

	for code, c := range state.Currencies {
		c.Price, c.Priced = p.price(code)
		if cur, ok := snap.Currency(code); ok {
			c.QuoteEligible = cur.QuoteEligible
		}
		if !c.Priced {
			log.WithField("currency", code).Warn("no price for currency, left out of planning")
			continue
		}
		for _, r := range c.Rows {
			if r.IsPosition() {
				r.Value = r.Quantity.Mul(c.Price)
				continue
			}
			r.revalue(c.Price)
			state.Value = state.Value.Add(r.TotalValue)
		}
		c.ExposureValue = exposure(c)
	}
	for code, amount := range pnl {
		if price, ok := state.Price(code); ok {
			state.Value = state.Value.Add(amount.Mul(price))
		}
	}

	if !state.Value.IsPositive() {
		return state, fmt.Errorf("account %d: %w", account.ID, ErrNoAccountValue)
	}

	remainder := allocation.Remainder()
	for code, c := range state.Currencies {
		pct := allocation[code]
		if code == reference {
			pct = pct.Add(remainder)
		}
		c.TargetPercent = pct
		c.TargetValue = pct.Div(hundred).Mul(state.Value)
		if c.Priced {
			b.distribute(state, c, snap)
		}
	}
	return state, nil
}

func exposure(c *CurrencyState) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range c.Rows {
		sum = sum.Add(r.Exposure())
	}
	return sum
}

// distribute splits the currency delta over its rows. A positive delta releases shorts first
// and acquires the rest; a negative delta releases long positions, then balances, and opens
// a short for the rest.
func (b *Builder) distribute(state *AccountState, c *CurrencyState, snap *catalog.Snapshot) {
	c.DeltaValue = c.TargetValue.Sub(c.ExposureValue)
	if c.DeltaValue.Abs().LessThan(b.Config.minDelta()) {
		return
	}

	release := func(r *Row, need decimal.Decimal, instruction Instruction) decimal.Decimal {
		amount := decimal.Min(need, r.Available())
		if !amount.IsPositive() {
			return need
		}
		r.DeltaValue = r.DeltaValue.Sub(amount)
		r.Instruction = instruction
		return need.Sub(amount)
	}

	if c.DeltaValue.IsPositive() {
		need := c.DeltaValue
		hedged := spotValue(c).IsPositive()
		for _, r := range byValue(c.Rows, func(r *Row) bool { return r.IsPosition() && r.Side == model.PositionSideShort }) {
			instruction := InstructionCloseShort
			if hedged {
				instruction = InstructionCloseHedge
			}
			need = release(r, need, instruction)
		}
		if need.IsPositive() {
			if r := b.acquireRow(state, c, snap, model.PositionSideLong); r != nil {
				r.DeltaValue = r.DeltaValue.Add(need)
				r.Instruction = InstructionOpenLong
			}
		}
	} else {
		need := c.DeltaValue.Neg()
		for _, r := range byValue(c.Rows, func(r *Row) bool { return r.IsPosition() && r.Side != model.PositionSideShort }) {
			need = release(r, need, InstructionCloseLong)
		}
		instruction := InstructionSellSpot
		if c.QuoteEligible {
			instruction = InstructionSellSpotAsQuote
		}
		for _, r := range byValue(c.Rows, func(r *Row) bool { return !r.IsPosition() }) {
			need = release(r, need, instruction)
		}
		if need.GreaterThanOrEqual(b.Config.minDelta()) && need.IsPositive() {
			if r := b.acquireRow(state, c, snap, model.PositionSideShort); r != nil {
				r.DeltaValue = r.DeltaValue.Add(need)
				r.Instruction = InstructionOpenShort
			} else {
				b.Log.WithFields(map[string]interface{}{
					"account":  state.Account.ID,
					"currency": c.Code,
					"value":    need.String(),
				}).Warn("no derivative market to short, target not reachable")
			}
		}
	}

	for _, r := range c.Rows {
		r.DeltaQuantity = r.DeltaValue.Div(c.Price)
	}
}

func spotValue(c *CurrencyState) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range c.Rows {
		if !r.IsPosition() {
			sum = sum.Add(r.TotalValue)
		}
	}
	return sum
}

// byValue returns the matching rows, largest available value first.
func byValue(rows []*Row, match func(*Row) bool) []*Row {
	var out []*Row
	for _, r := range rows {
		if match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Available().Equal(out[j].Available()) {
			return out[i].Available().GreaterThan(out[j].Available())
		}
		return out[i].Wallet < out[j].Wallet
	})
	return out
}

// acquireRow returns the row that grows the exposure of c on side: the spot balance for longs
// when the exchange has a spot wallet, otherwise a derivative position, existing or new.
func (b *Builder) acquireRow(state *AccountState, c *CurrencyState, snap *catalog.Snapshot, side string) *Row {
	if side == model.PositionSideLong && state.Exchange.SupportsWallet(model.WalletSpot) {
		return state.cashRow(c.Code, model.WalletSpot)
	}
	if side == model.PositionSideLong && c.Code == state.Reference {
		return state.cashRow(c.Code, state.Exchange.Wallets[0])
	}

	market := DerivativeMarket(snap, state.Exchange.Name, c.Code, state.Reference)
	if market == nil {
		return nil
	}
	if r, ok := state.PositionRow(market.ID); ok {
		if r.Side == side || r.Quantity.IsZero() {
			r.Side = side
			return r
		}
		return nil
	}
	r := &Row{Currency: c.Code, Wallet: market.Wallet, Market: market, Side: side}
	c.Rows = append(c.Rows, r)
	return r
}

// DerivativeMarket picks the derivative market used to open positions on a currency:
// perpetuals before futures, margined in the reference currency when possible.
func DerivativeMarket(snap *catalog.Snapshot, exchange, code, reference string) *model.Market {
	var best *model.Market
	score := func(m *model.Market) int {
		s := 0
		if m.IsPerpetual() {
			s += 2
		}
		if m.MarginCurrency == reference {
			s++
		}
		return s
	}
	for _, m := range snap.MarketsByBase(exchange, code) {
		if !m.IsDerivative() || !m.Tradable() {
			continue
		}
		if best == nil || score(m) > score(best) || (score(m) == score(best) && m.Symbol < best.Symbol) {
			best = m
		}
	}
	return best
}

// pricer prices currencies in the reference currency from the exchange tickers.
type pricer struct {
	snap      *catalog.Snapshot
	prices    *pricefeed.Prices
	exchange  string
	reference string
}

func (p pricer) market(m *model.Market) (decimal.Decimal, bool) {
	t, ok := p.prices.Get(m.ID)
	if !ok {
		return decimal.Zero, false
	}
	return t.Price()
}

func (p pricer) price(code string) (decimal.Decimal, bool) {
	if code == p.reference {
		return decimal.NewFromInt(1), true
	}

	var derivative decimal.Decimal
	var haveDerivative bool
	for _, m := range p.snap.MarketsByBase(p.exchange, code) {
		if m.Quote != p.reference || !m.Tradable() {
			continue
		}
		price, ok := p.market(m)
		if !ok {
			continue
		}
		if !m.IsDerivative() {
			return price, true
		}
		if !haveDerivative {
			derivative, haveDerivative = price, true
		}
	}
	if haveDerivative {
		return derivative, true
	}

	for _, m := range p.snap.MarketsByBase(p.exchange, p.reference) {
		if m.Quote != code || m.IsDerivative() || !m.Tradable() {
			continue
		}
		if price, ok := p.market(m); ok && price.IsPositive() {
			return decimal.NewFromInt(1).Div(price), true
		}
	}

	cur, okCur := p.snap.Currency(code)
	ref, okRef := p.snap.Currency(p.reference)
	if okCur && okRef && cur.Stablecoin && ref.Stablecoin {
		return decimal.NewFromInt(1), true
	}
	return decimal.Zero, false
}
