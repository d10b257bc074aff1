package planner

import (
	"marketrouter/src/model"
	"marketrouter/src/pricefeed"

	"github.com/shopspring/decimal"
)

// cost sizes the route at value and prices its legs. It returns false when the route is
// too small or a leg has no computable cost.
func (pl *plan) cost(r *Route, value decimal.Decimal) bool {
	if !value.IsPositive() || value.LessThan(decimal.NewFromFloat(pl.Config.MinRouteValue)) {
		return false
	}
	if !pl.costLeg(&r.Source, value) {
		return false
	}
	if r.Destination != nil && !pl.costLeg(r.Destination, value) {
		return false
	}
	if r.Transfer != nil {
		price, ok := pl.state.Price(r.Transfer.Currency)
		if !ok || !price.IsPositive() {
			return false
		}
		r.Transfer.Amount = value.Div(price)
	}
	r.Value = value
	r.total()
	return true
}

func (pl *plan) costLeg(l *Leg, value decimal.Decimal) bool {
	price, ok := pl.state.Price(l.Currency)
	if !ok || !price.IsPositive() {
		return false
	}
	l.Value = value
	l.Quantity = value.Div(price)
	l.Price = price

	switch l.Action {
	case ActionCash:
		l.Cost = decimal.Zero
		return true
	case ActionKeep:
		if l.Market != nil && l.Market.IsPerpetual() {
			l.Funding = pl.fundingPct(l.Market).Neg()
		}
		l.Cost = l.Funding
		return true
	}

	ladder, ok := pl.ladder(l.Market.ID)
	if !ok {
		return false
	}
	mid, ok := ladder.Mid()
	if !ok {
		return false
	}
	distance, ok := ladder.Distance(l.Side, l.Market.Contracts(l.Quantity, mid))
	if !ok {
		return false
	}
	spread, ok := ladder.SpreadPct()
	if !ok {
		return false
	}

	l.Price = mid
	l.Distance = distance
	l.Spread = spread
	l.Funding = decimal.Zero
	if l.Market.IsPerpetual() && !l.ReduceOnly {
		funding := pl.fundingPct(l.Market)
		if l.Side == model.OrderSideSell {
			funding = funding.Neg()
		}
		l.Funding = funding
	}
	l.Cost = l.Distance.Add(l.Spread).Add(l.Funding)
	return true
}

// ladder returns the streamed book of a market, or a top-of-book ladder from its ticker.
func (pl *plan) ladder(marketID uint) (*pricefeed.Ladder, bool) {
	if l, ok := pl.books.Get(marketID); ok {
		return l, true
	}
	t, ok := pl.prices.Get(marketID)
	if !ok {
		return nil, false
	}
	return pricefeed.TopOfBook(t)
}

func (pl *plan) fundingRate(m *model.Market) decimal.Decimal {
	t, ok := pl.prices.Get(m.ID)
	if !ok || !t.FundingRate.Valid {
		return decimal.Zero
	}
	return t.FundingRate.Decimal
}

// fundingPct is the funding rate in percent over the configured holding periods.
func (pl *plan) fundingPct(m *model.Market) decimal.Decimal {
	return pl.fundingRate(m).Mul(hundred).Mul(decimal.NewFromInt(int64(pl.Config.FundingPeriods)))
}
