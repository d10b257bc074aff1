package planner

import (
	"sort"

	"marketrouter/src/catalog"
	"marketrouter/src/model"
	"marketrouter/src/portfolio"
	"marketrouter/src/pricefeed"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// BookSource returns the latest depth ladder of a market.
type BookSource interface {
	Get(marketID uint) (*pricefeed.Ladder, bool)
}

// Planner turns the deltas of an AccountState into costed routes.
type Planner struct {
	Config Config
	Log    *logger.Entry
}

func New(config Config) *Planner {
	return &Planner{
		Config: config,
		Log:    logger.WithField("component", "planner"),
	}
}

// plan holds the inputs of one planning pass.
type plan struct {
	*Planner
	state  *portfolio.AccountState
	snap   *catalog.Snapshot
	prices *pricefeed.Prices
	books  BookSource
}

// outlet is what releasing a row yields: a leg and the currency it leaves in a wallet.
type outlet struct {
	leg      Leg
	currency string
	wallet   model.Wallet
}

// inlet is what acquiring a row needs: a leg and the currency it consumes from a wallet.
type inlet struct {
	leg      Leg
	currency string
	wallet   model.Wallet
}

// Plan enumerates every costed route for the account, ranked by source currency then cost.
func (p *Planner) Plan(state *portfolio.AccountState, snap *catalog.Snapshot, prices *pricefeed.Prices, books BookSource) []Route {
	pl := &plan{Planner: p, state: state, snap: snap, prices: prices, books: books}
	sources, destinations := Classify(state)

	var routes []Route
	for _, src := range sources {
		found := pl.twoHop(src, destinations)
		found = append(found, pl.alternatives(src)...)
		if len(found) == 0 {
			if r, ok := pl.fallback(src); ok {
				found = append(found, r)
			}
		}
		routes = append(routes, found...)
	}

	Rank(routes)
	p.Log.WithFields(map[string]interface{}{
		"account": state.Account.ID,
		"sources": len(sources),
		"targets": len(destinations),
		"routes":  len(routes),
	}).Debug("routes planned")
	return routes
}

// Classify splits the rows with an instruction into releasing sources and acquiring
// destinations. Rows of unpriced currencies are ignored.
func Classify(state *portfolio.AccountState) (sources, destinations []*portfolio.Row) {
	for _, r := range state.Rows() {
		if _, ok := state.Price(r.Currency); !ok {
			continue
		}
		switch {
		case r.Instruction.Releasing() && r.DeltaValue.IsNegative() && r.Available().IsPositive():
			sources = append(sources, r)
		case r.Instruction.Acquiring() && r.DeltaValue.IsPositive():
			destinations = append(destinations, r)
		}
	}
	return sources, destinations
}

func (pl *plan) twoHop(src *portfolio.Row, destinations []*portfolio.Row) []Route {
	var routes []Route
	outlets := pl.outlets(src)
	for _, dst := range destinations {
		if dst.Currency == src.Currency {
			continue
		}
		for _, in := range pl.inlets(dst) {
			for _, out := range outlets {
				if out.currency != in.currency {
					continue
				}
				if out.leg.Action == ActionCash && in.leg.Action == ActionCash {
					continue
				}
				r := Route{Source: out.leg, Destination: copyLeg(in.leg)}
				switch {
				case out.wallet == in.wallet:
					r.Type = RouteDirect
					if isDerivative(out.leg) || isDerivative(in.leg) {
						r.Type = RouteMargin
					}
				case out.leg.Action == ActionCash && pl.state.Exchange.HasTransfer:
					r.Type = RouteTransfer
					r.Transfer = &TransferStep{Currency: out.currency, From: out.wallet, To: in.wallet}
				default:
					continue
				}

				value := decimal.Min(src.Available(), src.DeltaValue.Abs(), dst.DeltaValue)
				if pl.cost(&r, value) {
					routes = append(routes, r)
				}
			}
		}
	}
	return routes
}

// alternatives are the routes that reduce exposure without releasing the row itself:
// hedging a spot holding with a short, or keeping a short that earns funding and buying spot.
func (pl *plan) alternatives(src *portfolio.Row) []Route {
	var routes []Route
	need := decimal.Min(src.Available(), src.DeltaValue.Abs())

	switch src.Instruction {
	case portfolio.InstructionSellSpot, portfolio.InstructionSellSpotAsQuote:
		market := portfolio.DerivativeMarket(pl.snap, pl.state.Exchange.Name, src.Currency, pl.state.Reference)
		if market == nil {
			break
		}
		margin, ok := pl.state.CashRow(market.SettlementCurrency(), market.Wallet)
		if !ok || !margin.FreeValue.IsPositive() {
			break
		}
		r := Route{
			Type:   RouteHedge,
			Source: Leg{Action: ActionKeep, Instruction: src.Instruction, Currency: src.Currency, Wallet: src.Wallet},
			Destination: &Leg{
				Action:      ActionTrade,
				Instruction: portfolio.InstructionOpenShort,
				Currency:    src.Currency,
				Wallet:      market.Wallet,
				Market:      market,
				Side:        model.OrderSideSell,
			},
		}
		if pl.cost(&r, decimal.Min(need, margin.FreeValue)) {
			routes = append(routes, r)
		}

	case portfolio.InstructionCloseShort, portfolio.InstructionCloseHedge:
		if !src.Market.IsPerpetual() || !pl.fundingRate(src.Market).IsPositive() {
			break
		}
		for _, m := range pl.spotMarkets(src.Currency, "") {
			quote, ok := pl.state.CashRow(m.Quote, m.Wallet)
			if !ok || !quote.FreeValue.IsPositive() {
				continue
			}
			r := Route{
				Type:   RouteYield,
				Source: Leg{Action: ActionKeep, Instruction: src.Instruction, Currency: src.Currency, Wallet: src.Wallet, Market: src.Market},
				Destination: &Leg{
					Action:      ActionTrade,
					Instruction: portfolio.InstructionOpenLong,
					Currency:    src.Currency,
					Wallet:      m.Wallet,
					Market:      m,
					Side:        model.OrderSideBuy,
				},
			}
			if pl.cost(&r, decimal.Min(need, quote.FreeValue)) {
				routes = append(routes, r)
			}
		}
	}
	return routes
}

// fallback releases the row alone, preferring a market that pays out the reference currency.
func (pl *plan) fallback(src *portfolio.Row) (Route, bool) {
	value := decimal.Min(src.Available(), src.DeltaValue.Abs())
	var best Route
	var found, bestPreferred bool
	for _, out := range pl.outlets(src) {
		if out.leg.Action != ActionTrade {
			continue
		}
		r := Route{Type: RouteDefault, Source: out.leg}
		if !pl.cost(&r, value) {
			continue
		}
		preferred := out.currency == pl.state.Reference
		switch {
		case !found, preferred && !bestPreferred:
		case preferred == bestPreferred && r.Cost.LessThan(best.Cost):
		default:
			continue
		}
		best, found, bestPreferred = r, true, preferred
	}
	return best, found
}

func (pl *plan) outlets(src *portfolio.Row) []outlet {
	if src.IsPosition() {
		side := model.OrderSideSell
		if src.Side == model.PositionSideShort {
			side = model.OrderSideBuy
		}
		return []outlet{{
			leg: Leg{
				Action:      ActionTrade,
				Instruction: src.Instruction,
				Currency:    src.Currency,
				Wallet:      src.Wallet,
				Market:      src.Market,
				Side:        side,
				ReduceOnly:  true,
			},
			currency: src.Market.SettlementCurrency(),
			wallet:   src.Market.Wallet,
		}}
	}

	out := []outlet{{
		leg:      Leg{Action: ActionCash, Instruction: src.Instruction, Currency: src.Currency, Wallet: src.Wallet},
		currency: src.Currency,
		wallet:   src.Wallet,
	}}
	for _, m := range pl.spotMarkets(src.Currency, src.Wallet) {
		out = append(out, outlet{
			leg: Leg{
				Action:      ActionTrade,
				Instruction: src.Instruction,
				Currency:    src.Currency,
				Wallet:      src.Wallet,
				Market:      m,
				Side:        model.OrderSideSell,
			},
			currency: m.Quote,
			wallet:   m.Wallet,
		})
	}
	return out
}

func (pl *plan) inlets(dst *portfolio.Row) []inlet {
	if dst.IsPosition() {
		side := model.OrderSideBuy
		if dst.Instruction == portfolio.InstructionOpenShort {
			side = model.OrderSideSell
		}
		return []inlet{{
			leg: Leg{
				Action:      ActionTrade,
				Instruction: dst.Instruction,
				Currency:    dst.Currency,
				Wallet:      dst.Wallet,
				Market:      dst.Market,
				Side:        side,
			},
			currency: dst.Market.SettlementCurrency(),
			wallet:   dst.Market.Wallet,
		}}
	}

	in := []inlet{{
		leg:      Leg{Action: ActionCash, Instruction: dst.Instruction, Currency: dst.Currency, Wallet: dst.Wallet},
		currency: dst.Currency,
		wallet:   dst.Wallet,
	}}
	for _, m := range pl.spotMarkets(dst.Currency, dst.Wallet) {
		in = append(in, inlet{
			leg: Leg{
				Action:      ActionTrade,
				Instruction: dst.Instruction,
				Currency:    dst.Currency,
				Wallet:      dst.Wallet,
				Market:      m,
				Side:        model.OrderSideBuy,
			},
			currency: m.Quote,
			wallet:   m.Wallet,
		})
	}
	if m := pl.longMarket(dst); m != nil {
		in = append(in, inlet{
			leg: Leg{
				Action:      ActionTrade,
				Instruction: dst.Instruction,
				Currency:    dst.Currency,
				Wallet:      m.Wallet,
				Market:      m,
				Side:        model.OrderSideBuy,
			},
			currency: m.SettlementCurrency(),
			wallet:   m.Wallet,
		})
	}
	return in
}

// longMarket is the derivative market a long on a cash row may also be opened on, so that
// margin released by a derivative source can fund it. Markets holding a short are skipped.
func (pl *plan) longMarket(dst *portfolio.Row) *model.Market {
	if dst.Instruction != portfolio.InstructionOpenLong || dst.Currency == pl.state.Reference {
		return nil
	}
	m := portfolio.DerivativeMarket(pl.snap, pl.state.Exchange.Name, dst.Currency, pl.state.Reference)
	if m == nil {
		return nil
	}
	if r, ok := pl.state.PositionRow(m.ID); ok && r.Side == model.PositionSideShort && !r.Quantity.IsZero() {
		return nil
	}
	return m
}

// spotMarkets returns the tradable spot markets with base code, limited to wallet when set.
func (pl *plan) spotMarkets(code string, wallet model.Wallet) []*model.Market {
	var out []*model.Market
	for _, m := range pl.snap.MarketsByBase(pl.state.Exchange.Name, code) {
		if m.IsDerivative() || !m.Tradable() {
			continue
		}
		if wallet != "" && m.Wallet != wallet {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isDerivative(l Leg) bool {
	return l.Market != nil && l.Market.IsDerivative()
}

func copyLeg(l Leg) *Leg {
	return &l
}

// Rank orders routes by source currency, then ascending cost.
func Rank(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.SourceCurrency() != b.SourceCurrency() {
			return a.SourceCurrency() < b.SourceCurrency()
		}
		return a.Cost.LessThan(b.Cost)
	})
}

// Best returns the cheapest route of every source currency, cheapest first.
func Best(routes []Route) []Route {
	best := map[string]Route{}
	for _, r := range routes {
		cur, ok := best[r.SourceCurrency()]
		if !ok || r.Cost.LessThan(cur.Cost) {
			best[r.SourceCurrency()] = r
		}
	}
	out := make([]Route, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Cost.Equal(out[j].Cost) {
			return out[i].Cost.LessThan(out[j].Cost)
		}
		return out[i].SourceCurrency() < out[j].SourceCurrency()
	})
	return out
}
