package pricefeed

import (
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Level is one price level with the quantity available at or better than its price.
type Level struct {
	Price      decimal.Decimal
	Amount     decimal.Decimal
	Cumulative decimal.Decimal
}

// Ladder is the cumulative depth of one order book, best levels first.
type Ladder struct {
	MarketID uint
	Symbol   string
	Bids     []Level
	Asks     []Level
	At       time.Time

	// TopOnly ladders come from a ticker: depth is unknown and every quantity fills at the
	// best price.
	TopOnly bool
}

// TopOfBook builds a one-level ladder from the bid and ask of a ticker. It returns false
// when the ticker has no usable bid and ask.
func TopOfBook(t TickerSnapshot) (*Ladder, bool) {
	if !t.Bid.Valid || !t.Ask.Valid || !t.Bid.Decimal.IsPositive() || t.Ask.Decimal.LessThan(t.Bid.Decimal) {
		return nil, false
	}
	return &Ladder{
		MarketID: t.MarketID,
		Symbol:   t.Symbol,
		Bids:     []Level{{Price: t.Bid.Decimal}},
		Asks:     []Level{{Price: t.Ask.Decimal}},
		At:       t.At,
		TopOnly:  true,
	}, true
}

func NewLadder(marketID uint, book connectors.OrderBook) *Ladder {
	at := book.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &Ladder{
		MarketID: marketID,
		Symbol:   book.Symbol,
		Bids:     cumulate(book.Bids),
		Asks:     cumulate(book.Asks),
		At:       at,
	}
}

func cumulate(levels []connectors.BookLevel) []Level {
	out := make([]Level, 0, len(levels))
	total := decimal.Zero
	for _, l := range levels {
		if !l.Amount.IsPositive() || !l.Price.IsPositive() {
			continue
		}
		total = total.Add(l.Amount)
		out = append(out, Level{Price: l.Price, Amount: l.Amount, Cumulative: total})
	}
	return out
}

func (l *Ladder) BestBid() (decimal.Decimal, bool) {
	if l == nil || len(l.Bids) == 0 {
		return decimal.Zero, false
	}
	return l.Bids[0].Price, true
}

func (l *Ladder) BestAsk() (decimal.Decimal, bool) {
	if l == nil || len(l.Asks) == 0 {
		return decimal.Zero, false
	}
	return l.Asks[0].Price, true
}

func (l *Ladder) Mid() (decimal.Decimal, bool) {
	bid, okBid := l.BestBid()
	ask, okAsk := l.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// SpreadPct is the bid/ask spread as a percentage of the mid price.
func (l *Ladder) SpreadPct() (decimal.Decimal, bool) {
	mid, ok := l.Mid()
	if !ok || !mid.IsPositive() {
		return decimal.Zero, false
	}
	return l.Asks[0].Price.Sub(l.Bids[0].Price).Div(mid).Mul(hundred), true
}

// side returns the levels a taker order of the given side consumes.
func (l *Ladder) side(side string) []Level {
	if l == nil {
		return nil
	}
	if side == model.OrderSideBuy {
		return l.Asks
	}
	return l.Bids
}

// CumulativeAt returns the quantity available at or better than price for a taker of side.
func (l *Ladder) CumulativeAt(side string, price decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range l.side(side) {
		if side == model.OrderSideBuy && lvl.Price.GreaterThan(price) {
			break
		}
		if side != model.OrderSideBuy && lvl.Price.LessThan(price) {
			break
		}
		total = lvl.Cumulative
	}
	return total
}

// VWAP is the average fill price of a taker order of quantity; ok is false when the book
// is not deep enough.
func (l *Ladder) VWAP(side string, quantity decimal.Decimal) (decimal.Decimal, bool) {
	levels := l.side(side)
	if len(levels) == 0 || !quantity.IsPositive() {
		return decimal.Zero, false
	}
	if l.TopOnly {
		return levels[0].Price, true
	}
	if levels[len(levels)-1].Cumulative.LessThan(quantity) {
		return decimal.Zero, false
	}

	remaining := quantity
	cost := decimal.Zero
	for _, lvl := range levels {
		take := decimal.Min(remaining, lvl.Amount)
		cost = cost.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		if !remaining.IsPositive() {
			break
		}
	}
	return cost.Div(quantity), true
}

// Distance is the deviation of the VWAP fill from the best price, in percent.
func (l *Ladder) Distance(side string, quantity decimal.Decimal) (decimal.Decimal, bool) {
	vwap, ok := l.VWAP(side, quantity)
	if !ok {
		return decimal.Zero, false
	}
	best := l.side(side)[0].Price
	return vwap.Sub(best).Abs().Div(best).Mul(hundred), true
}
