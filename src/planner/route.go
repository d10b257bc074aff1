package planner

import (
	"marketrouter/src/model"
	"marketrouter/src/portfolio"

	"github.com/shopspring/decimal"
)

type RouteType string

const (
	RouteDirect   RouteType = "direct"
	RouteMargin   RouteType = "margin"
	RouteTransfer RouteType = "transfer"
	RouteHedge    RouteType = "hedge"
	RouteYield    RouteType = "yield"
	RouteDefault  RouteType = "default"
)

// Action is what a leg does on the exchange.
type Action string

const (
	// ActionTrade places an order on Market.
	ActionTrade Action = "trade"
	// ActionCash uses or receives a balance as is.
	ActionCash Action = "cash"
	// ActionKeep leaves a position open.
	ActionKeep Action = "keep"
)

// Leg is one side of a route. Quantity is in base units of Currency; Value is in the
// account reference currency. Costs are percentages.
type Leg struct {
	Action      Action
	Instruction portfolio.Instruction
	Currency    string
	Wallet      model.Wallet
	Market      *model.Market
	Side        string
	ReduceOnly  bool

	Quantity decimal.Decimal
	Price    decimal.Decimal
	Value    decimal.Decimal

	Distance decimal.Decimal
	Spread   decimal.Decimal
	Funding  decimal.Decimal
	Cost     decimal.Decimal
}

func (l *Leg) IsTrade() bool {
	return l != nil && l.Action == ActionTrade
}

// TransferStep moves Amount of Currency between wallets before the legs run.
type TransferStep struct {
	Currency string
	Amount   decimal.Decimal
	From     model.Wallet
	To       model.Wallet
}

// Route releases value from Source and, for two-hop routes, acquires it in Destination.
type Route struct {
	Type        RouteType
	Source      Leg
	Destination *Leg
	Transfer    *TransferStep

	Quantity decimal.Decimal
	Value    decimal.Decimal
	Distance decimal.Decimal
	Spread   decimal.Decimal
	Funding  decimal.Decimal
	Cost     decimal.Decimal
}

// SourceCurrency groups routes for ranking.
func (r *Route) SourceCurrency() string {
	return r.Source.Currency
}

// Currencies lists the currencies whose exposure the route changes.
func (r *Route) Currencies() []string {
	out := []string{r.Source.Currency}
	if r.Destination != nil && r.Destination.Currency != r.Source.Currency {
		out = append(out, r.Destination.Currency)
	}
	return out
}

// Legs returns the legs that place orders, source first.
func (r *Route) Legs() []*Leg {
	var out []*Leg
	if r.Source.IsTrade() {
		out = append(out, &r.Source)
	}
	if r.Destination.IsTrade() {
		out = append(out, r.Destination)
	}
	return out
}

func (r *Route) total() {
	r.Quantity = r.Source.Quantity
	r.Distance = r.Source.Distance
	r.Spread = r.Source.Spread
	r.Funding = r.Source.Funding
	if d := r.Destination; d != nil {
		r.Distance = r.Distance.Add(d.Distance)
		r.Spread = r.Spread.Add(d.Spread)
		r.Funding = r.Funding.Add(d.Funding)
	}
	r.Cost = r.Distance.Add(r.Spread).Add(r.Funding)
}
