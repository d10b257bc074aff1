package portfolio

import (
	"errors"
	"fmt"

	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

var ErrInsufficientFree = errors.New("insufficient free balance")

// ApplyTransfer moves a confirmed transfer between two wallet rows without refetching balances.
func (s *AccountState) ApplyTransfer(currency string, amount decimal.Decimal, from, to model.Wallet) error {
	src, ok := s.CashRow(currency, from)
	if !ok || src.Free.LessThan(amount) {
		return fmt.Errorf("%s %s in %s: %w", amount, currency, from, ErrInsufficientFree)
	}
	dst := s.cashRow(currency, to)

	src.Total = src.Total.Sub(amount)
	src.Free = src.Free.Sub(amount)
	dst.Total = dst.Total.Add(amount)
	dst.Free = dst.Free.Add(amount)

	if price, ok := s.Price(currency); ok {
		src.revalue(price)
		dst.revalue(price)
	}
	return nil
}

// ApplyFill books a fill of base quantity at price on market. Spot fills move the base and
// quote balances; derivative fills move the position.
func (s *AccountState) ApplyFill(market *model.Market, side string, quantity, price decimal.Decimal) {
	if quantity.IsZero() {
		return
	}
	signed := quantity
	if side == model.OrderSideSell {
		signed = quantity.Neg()
	}

	if !market.IsDerivative() {
		base := s.cashRow(market.Base, market.Wallet)
		quote := s.cashRow(market.Quote, market.Wallet)
		cost := signed.Mul(price)
		base.Total = base.Total.Add(signed)
		base.Free = base.Free.Add(signed)
		quote.Total = quote.Total.Sub(cost)
		quote.Free = quote.Free.Sub(cost)
		s.revalueRow(base)
		s.revalueRow(quote)
		return
	}

	r, ok := s.PositionRow(market.ID)
	if !ok {
		r = &Row{Currency: market.Base, Wallet: market.Wallet, Market: market, Side: model.PositionSideLong}
		c := s.currency(market.Base)
		c.Rows = append(c.Rows, r)
	}
	current := r.Quantity
	if r.Side == model.PositionSideShort {
		current = current.Neg()
	}
	next := current.Add(signed)
	r.Quantity = next.Abs()
	switch {
	case next.IsNegative():
		r.Side = model.PositionSideShort
	case next.IsPositive():
		r.Side = model.PositionSideLong
	}
	s.revalueRow(r)
}

func (s *AccountState) revalueRow(r *Row) {
	price, ok := s.Price(r.Currency)
	if !ok {
		return
	}
	if r.IsPosition() {
		r.Value = r.Quantity.Mul(price)
		return
	}
	r.revalue(price)
}
