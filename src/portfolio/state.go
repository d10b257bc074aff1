package portfolio

import (
	"sort"
	"time"

	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

// Instruction is the action a row needs to move toward its target.
type Instruction string

const (
	InstructionNone            Instruction = ""
	InstructionOpenLong        Instruction = "open_long"
	InstructionCloseLong       Instruction = "close_long"
	InstructionOpenShort       Instruction = "open_short"
	InstructionCloseShort      Instruction = "close_short"
	InstructionSellSpot        Instruction = "sell_spot"
	InstructionSellSpotAsQuote Instruction = "sell_spot_as_quote"
	InstructionCloseHedge      Instruction = "close_hedge"
)

// Releasing reports whether the instruction frees value.
func (i Instruction) Releasing() bool {
	switch i {
	case InstructionCloseLong, InstructionCloseShort, InstructionSellSpot, InstructionSellSpotAsQuote, InstructionCloseHedge:
		return true
	}
	return false
}

// Acquiring reports whether the instruction consumes value.
func (i Instruction) Acquiring() bool {
	return i == InstructionOpenLong || i == InstructionOpenShort
}

// Row is one (currency, wallet) balance, or one derivative position when Market is set.
// Values are in the account reference currency. DeltaValue is positive when the row must
// grow and negative when it must be released.
type Row struct {
	Currency string
	Wallet   model.Wallet
	Market   *model.Market

	Total      decimal.Decimal
	Free       decimal.Decimal
	Used       decimal.Decimal
	TotalValue decimal.Decimal
	FreeValue  decimal.Decimal
	UsedValue  decimal.Decimal

	Side     string
	Quantity decimal.Decimal
	Value    decimal.Decimal

	DeltaValue    decimal.Decimal
	DeltaQuantity decimal.Decimal
	Instruction   Instruction
}

func (r *Row) IsPosition() bool {
	return r.Market != nil
}

// Exposure is the signed value the row adds to its currency.
func (r *Row) Exposure() decimal.Decimal {
	if r.IsPosition() {
		if r.Side == model.PositionSideShort {
			return r.Value.Neg()
		}
		return r.Value
	}
	return r.TotalValue
}

// Available is the value the row can release.
func (r *Row) Available() decimal.Decimal {
	if r.IsPosition() {
		return r.Value
	}
	return r.FreeValue
}

// CurrencyState aggregates the rows of one currency.
type CurrencyState struct {
	Code          string
	Price         decimal.Decimal
	Priced        bool
	QuoteEligible bool
	TargetPercent decimal.Decimal
	TargetValue   decimal.Decimal
	ExposureValue decimal.Decimal
	DeltaValue    decimal.Decimal
	Rows          []*Row
}

// AccountState is the portfolio table of one account. It is owned by the account's control
// loop and never shared.
type AccountState struct {
	Account   *model.Account
	Exchange  *model.Exchange
	Reference string
	Value     decimal.Decimal
	Built     time.Time

	Currencies map[string]*CurrencyState
}

func newAccountState(account *model.Account, exchange *model.Exchange, reference string) *AccountState {
	return &AccountState{
		Account:    account,
		Exchange:   exchange,
		Reference:  reference,
		Currencies: map[string]*CurrencyState{},
	}
}

func (s *AccountState) currency(code string) *CurrencyState {
	c, ok := s.Currencies[code]
	if !ok {
		c = &CurrencyState{Code: code}
		s.Currencies[code] = c
	}
	return c
}

// Currency returns the state of a currency.
func (s *AccountState) Currency(code string) (*CurrencyState, bool) {
	c, ok := s.Currencies[code]
	return c, ok
}

// CashRow returns the balance row of a currency in a wallet.
func (s *AccountState) CashRow(code string, wallet model.Wallet) (*Row, bool) {
	c, ok := s.Currencies[code]
	if !ok {
		return nil, false
	}
	for _, r := range c.Rows {
		if !r.IsPosition() && r.Wallet == wallet {
			return r, true
		}
	}
	return nil, false
}

func (s *AccountState) cashRow(code string, wallet model.Wallet) *Row {
	if r, ok := s.CashRow(code, wallet); ok {
		return r
	}
	c := s.currency(code)
	r := &Row{Currency: code, Wallet: wallet}
	c.Rows = append(c.Rows, r)
	return r
}

// PositionRow returns the row of a derivative market.
func (s *AccountState) PositionRow(marketID uint) (*Row, bool) {
	for _, c := range s.Currencies {
		for _, r := range c.Rows {
			if r.IsPosition() && r.Market.ID == marketID {
				return r, true
			}
		}
	}
	return nil, false
}

// Rows returns every row ordered by currency, cash before positions, then wallet.
func (s *AccountState) Rows() []*Row {
	var out []*Row
	for _, code := range s.codes() {
		out = append(out, s.Currencies[code].Rows...)
	}
	return out
}

func (s *AccountState) codes() []string {
	codes := make([]string, 0, len(s.Currencies))
	for code := range s.Currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Price returns the reference price of a currency.
func (s *AccountState) Price(code string) (decimal.Decimal, bool) {
	c, ok := s.Currencies[code]
	if !ok || !c.Priced {
		return decimal.Zero, false
	}
	return c.Price, true
}

func (r *Row) revalue(price decimal.Decimal) {
	r.TotalValue = r.Total.Mul(price)
	r.FreeValue = r.Free.Mul(price)
	r.UsedValue = r.Used.Mul(price)
}
