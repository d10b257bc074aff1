package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketrouter/src/audit"
	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"
	"marketrouter/src/planner"
	"marketrouter/src/portfolio"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrTradingDisabled = errors.New("trading disabled for account")
	ErrPendingOrder    = errors.New("currency has a pending order")
	ErrLegFailed       = errors.New("order leg failed")
)

type OrderStore interface {
	Create(ctx context.Context, order *model.Order) error
	Update(ctx context.Context, order *model.Order) error
	HasNonTerminal(ctx context.Context, accountID uint, currencies ...string) (bool, error)
	ListNonTerminal(ctx context.Context, accountID uint) ([]model.Order, error)
}

type AccountStore interface {
	Suspend(ctx context.Context, id uint, reason string) error
}

type MarketStore interface {
	MarkExcluded(ctx context.Context, id uint, reason string) error
}

// Result reports what one Execute pass did.
type Result struct {
	Orders    []*model.Order
	Transfers int
	// Filled is set when any order filled, fully or partly.
	Filled  bool
	Skipped map[string]string
}

func (r *Result) skip(currency, reason string) {
	if r.Skipped == nil {
		r.Skipped = map[string]string{}
	}
	r.Skipped[currency] = reason
}

// Executor places the orders of planned routes for one account at a time.
type Executor struct {
	Gate     *credit.Gate
	Clients  portfolio.ClientSource
	Orders   OrderStore
	Accounts AccountStore
	Markets  MarketStore
	Audit    *audit.Recorder
	Config   Config
	Log      *logger.Entry

	newID func() string
	now   func() time.Time
}

func NewExecutor(gate *credit.Gate, clients portfolio.ClientSource, orders OrderStore, accounts AccountStore, markets MarketStore, recorder *audit.Recorder, config Config) *Executor {
	return &Executor{
		Gate:     gate,
		Clients:  clients,
		Orders:   orders,
		Accounts: accounts,
		Markets:  markets,
		Audit:    recorder,
		Config:   config,
		Log:      logger.WithField("component", "trade_executor"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// Execute walks the routes in order, one route per source currency. A route is skipped when
// any currency it touches has a pending order. Credential failures suspend the account and
// stop the pass with an error wrapping portfolio.ErrCredentials.
func (e *Executor) Execute(ctx context.Context, account *model.Account, routes []planner.Route, state *portfolio.AccountState) (*Result, error) {
	result := &Result{}
	if !account.CanTrade() {
		return result, fmt.Errorf("account %d: %w", account.ID, ErrTradingDisabled)
	}
	client, err := e.Clients(account)
	if err != nil {
		return result, fmt.Errorf("client for account %d: %w", account.ID, err)
	}

	done := map[string]bool{}
	for i := range routes {
		route := &routes[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if done[route.SourceCurrency()] {
			continue
		}

		log := e.Log.WithFields(map[string]interface{}{
			"account": account.ID,
			"route":   route.Type,
			"source":  route.SourceCurrency(),
			"value":   route.Value.String(),
		})

		pending, err := e.Orders.HasNonTerminal(ctx, account.ID, route.Currencies()...)
		if err != nil {
			return result, err
		}
		if pending {
			log.Debug("route skipped, pending order")
			done[route.SourceCurrency()] = true
			result.skip(route.SourceCurrency(), ErrPendingOrder.Error())
			continue
		}

		placed, transfers := len(result.Orders), result.Transfers
		err = e.executeRoute(ctx, client, account, route, state, result)
		if isSizeError(err) && len(result.Orders) == placed && result.Transfers == transfers {
			// nothing reached the exchange, the next route of this currency may fit the limits
			log.WithError(err).Debug("route outside market limits")
			result.skip(route.SourceCurrency(), err.Error())
			continue
		}
		done[route.SourceCurrency()] = true

		switch {
		case err == nil:
		case errors.Is(err, portfolio.ErrCredentials):
			return result, err
		case ctx.Err() != nil:
			return result, ctx.Err()
		default:
			log.WithError(err).Warn("route not executed this cycle")
			result.skip(route.SourceCurrency(), err.Error())
		}
	}
	return result, nil
}

func isSizeError(err error) bool {
	return errors.Is(err, model.ErrAmountBelowMin) || errors.Is(err, model.ErrAmountAboveMax) || errors.Is(err, model.ErrAmountZero)
}

func (e *Executor) executeRoute(ctx context.Context, client connectors.ExchangeClient, account *model.Account, route *planner.Route, state *portfolio.AccountState, result *Result) error {
	if t := route.Transfer; t != nil {
		if err := e.transfer(ctx, client, account, t); err != nil {
			return err
		}
		result.Transfers++
		if err := state.ApplyTransfer(t.Currency, t.Amount, t.From, t.To); err != nil {
			e.Log.WithError(err).Warn("transfer not reflected in account state")
		}
	}

	legs := route.Legs()
	for i, leg := range legs {
		order, err := e.submit(ctx, client, account, route, leg)
		if order != nil {
			result.Orders = append(result.Orders, order)
		}
		if err != nil {
			return err
		}

		if order.Filled.IsPositive() {
			result.Filled = true
			price := order.Average
			if !price.IsPositive() {
				price = leg.Price
			}
			state.ApplyFill(leg.Market, leg.Side, leg.Market.BaseQuantity(order.Filled, price), price)
		}
		if order.Status != model.OrderStatusFilled && i < len(legs)-1 {
			e.Log.WithFields(map[string]interface{}{
				"account": account.ID,
				"order":   order.ClientOrderID,
				"status":  order.Status,
			}).Info("source leg not filled, destination left for next cycle")
			return nil
		}
	}
	return nil
}

func (e *Executor) transfer(ctx context.Context, client connectors.ExchangeClient, account *model.Account, t *planner.TransferStep) error {
	exchange := account.Exchange
	id, err := credit.Fetch(ctx, e.Gate, exchange, t.From, 1, func(ctx context.Context) (string, error) {
		return client.Transfer(ctx, t.Currency, t.Amount, t.From, t.To)
	})
	if err != nil {
		if connectors.KindOf(err) == connectors.FaultAuth {
			return e.suspend(ctx, account, err)
		}
		e.Audit.Capture(ctx, "trade_executor", "Transfer", audit.LevelWarn, &account.ID, err, map[string]interface{}{
			"currency": t.Currency,
			"amount":   t.Amount.String(),
			"from":     t.From,
			"to":       t.To,
		})
		return fmt.Errorf("transfer %s %s from %s to %s: %w", t.Amount, t.Currency, t.From, t.To, err)
	}

	e.Log.WithFields(map[string]interface{}{
		"account":  account.ID,
		"currency": t.Currency,
		"amount":   t.Amount.String(),
		"from":     t.From,
		"to":       t.To,
		"id":       id,
	}).Info("transfer confirmed")
	return nil
}

// submit sizes, records and sends one leg. It returns the stored order, also when the
// exchange rejected it.
func (e *Executor) submit(ctx context.Context, client connectors.ExchangeClient, account *model.Account, route *planner.Route, leg *planner.Leg) (*model.Order, error) {
	market := leg.Market
	amount := market.RoundAmount(market.Contracts(leg.Quantity, leg.Price))
	if err := market.CheckAmount(amount); err != nil {
		return nil, fmt.Errorf("%s %s %s: %w", leg.Side, amount, market.Symbol, err)
	}

	order := &model.Order{
		AccountID:     account.ID,
		MarketID:      market.ID,
		ClientOrderID: e.newID(),
		Currency:      leg.Currency,
		Side:          leg.Side,
		Type:          e.Config.OrderType,
		Amount:        amount,
		ReduceOnly:    leg.ReduceOnly,
		Status:        model.OrderStatusCreated,
		RouteType:     string(route.Type),
		Instruction:   string(leg.Instruction),
	}
	if order.Type == model.OrderTypeLimit {
		order.Price = decimal.NewNullDecimal(market.RoundPrice(leg.Price))
	}
	if err := e.Orders.Create(ctx, order); err != nil {
		return nil, err
	}

	req := connectors.OrderRequest{
		Symbol:        market.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Amount:        order.Amount,
		Price:         order.Price,
		ReduceOnly:    order.ReduceOnly,
		ClientOrderID: order.ClientOrderID,
		Derivative:    market.IsDerivative(),
	}
	res, err := credit.Fetch(ctx, e.Gate, account.Exchange, market.Wallet, 1, func(ctx context.Context) (*connectors.OrderResult, error) {
		return client.CreateOrder(ctx, req)
	})
	if err != nil {
		return order, e.fail(ctx, account, order, market, err)
	}

	e.apply(order, res)
	if err := e.Orders.Update(ctx, order); err != nil {
		return order, err
	}
	e.Log.WithFields(map[string]interface{}{
		"account": account.ID,
		"order":   order.ClientOrderID,
		"symbol":  market.Symbol,
		"side":    order.Side,
		"amount":  order.Amount.String(),
		"status":  order.Status,
	}).Info("order placed")
	return order, nil
}

func (e *Executor) apply(order *model.Order, res *connectors.OrderResult) {
	if res.ID != "" {
		order.ExchangeOrderID = res.ID
	}
	order.Status = res.Status
	if order.Status == "" {
		order.Status = model.OrderStatusOpen
	}
	order.Filled = res.Filled
	order.Average = res.Average
	order.Cost = res.Cost
	order.Response = res.Raw
	if order.Status == model.OrderStatusFilled && order.ExecutedAt == nil {
		now := e.now().UTC()
		order.ExecutedAt = &now
	}
}

// fail records a rejected submission. Insufficient funds, bad symbols and exchange
// rejections fail the order, and calls the gate never sent mark it as error. When no answer
// came back the exchange may still hold the order under its client id, so it stays created
// and blocks its currency until Reconcile finds out.
func (e *Executor) fail(ctx context.Context, account *model.Account, order *model.Order, market *model.Market, err error) error {
	kind := connectors.KindOf(err)
	order.Error = err.Error()
	switch {
	case errors.Is(err, credit.ErrCreditExhausted), errors.Is(err, credit.ErrExchangeInactive):
		order.Status = model.OrderStatusError
	case kind == connectors.FaultInsufficientFunds, kind == connectors.FaultBadSymbol, kind == connectors.FaultExchange,
		kind == connectors.FaultAuth, kind == connectors.FaultNotSupported:
		order.Status = model.OrderStatusFailed
	default:
		order.Status = model.OrderStatusCreated
		e.Log.WithFields(map[string]interface{}{
			"account": account.ID,
			"order":   order.ClientOrderID,
			"symbol":  market.Symbol,
		}).WithError(err).Warn("order outcome unknown, left for reconcile")
	}
	if uerr := e.Orders.Update(context.WithoutCancel(ctx), order); uerr != nil {
		e.Log.WithError(uerr).Error("failed to store order failure")
	}

	switch kind {
	case connectors.FaultAuth:
		return e.suspend(ctx, account, err)
	case connectors.FaultBadSymbol:
		if xerr := e.Markets.MarkExcluded(ctx, market.ID, err.Error()); xerr != nil {
			e.Log.WithError(xerr).Error("failed to exclude market")
		}
	}

	if kind != connectors.FaultInsufficientFunds {
		e.Audit.Capture(ctx, "trade_executor", "Submit", audit.LevelError, &account.ID, err, map[string]interface{}{
			"order":  order.ClientOrderID,
			"symbol": market.Symbol,
			"side":   order.Side,
			"amount": order.Amount.String(),
		})
	}
	return fmt.Errorf("%w: %s %s: %v", ErrLegFailed, order.Side, market.Symbol, err)
}

func (e *Executor) suspend(ctx context.Context, account *model.Account, cause error) error {
	if err := e.Accounts.Suspend(context.WithoutCancel(ctx), account.ID, cause.Error()); err != nil {
		e.Log.WithError(err).Error("failed to suspend account")
	}
	now := e.now().UTC()
	account.CredentialsValid = false
	account.SuspendedAt = &now
	account.SuspendReason = cause.Error()
	return fmt.Errorf("account %d: %w: %v", account.ID, portfolio.ErrCredentials, cause)
}
