package trade

import (
	"context"
	"fmt"

	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"
)

// Reconcile refreshes the account orders still open on the exchange. Orders without an
// exchange id are looked up by client id. Orders older than the order timeout are canceled,
// or marked as error when the exchange does not know them.
// It reports whether any order filled since the last check.
func (e *Executor) Reconcile(ctx context.Context, account *model.Account) (bool, error) {
	orders, err := e.Orders.ListNonTerminal(ctx, account.ID)
	if err != nil {
		return false, err
	}
	if len(orders) == 0 {
		return false, nil
	}
	client, err := e.Clients(account)
	if err != nil {
		return false, fmt.Errorf("client for account %d: %w", account.ID, err)
	}

	filled := false
	now := e.now().UTC()
	for i := range orders {
		order := &orders[i]
		log := e.Log.WithFields(map[string]interface{}{"account": account.ID, "order": order.ClientOrderID})
		if order.Market == nil {
			log.Warn("pending order without market")
			continue
		}
		symbol := order.Market.Symbol
		wallet := order.Market.Wallet
		stale := e.Config.OrderTimeout > 0 && now.Sub(order.CreatedAt) > e.Config.OrderTimeout

		var res *connectors.OrderResult
		if order.ExchangeOrderID == "" {
			res, err = credit.Fetch(ctx, e.Gate, account.Exchange, wallet, 1, func(ctx context.Context) (*connectors.OrderResult, error) {
				return client.FetchOrderByClientID(ctx, order.ClientOrderID, symbol)
			})
			if connectors.KindOf(err) == connectors.FaultOrderNotFound {
				if stale {
					order.Status = model.OrderStatusError
					order.Error = "order was never acknowledged by the exchange"
					if err := e.Orders.Update(ctx, order); err != nil {
						return filled, err
					}
				}
				continue
			}
		} else {
			res, err = credit.Fetch(ctx, e.Gate, account.Exchange, wallet, 1, func(ctx context.Context) (*connectors.OrderResult, error) {
				return client.FetchOrder(ctx, order.ExchangeOrderID, symbol)
			})
		}
		if err != nil {
			if connectors.KindOf(err) == connectors.FaultAuth {
				return filled, e.suspend(ctx, account, err)
			}
			log.WithError(err).Warn("order status not refreshed")
			continue
		}

		before := order.Filled
		e.apply(order, res)
		if order.Filled.GreaterThan(before) {
			filled = true
		}

		if !order.Status.IsTerminal() && stale {
			err := e.Gate.Call(ctx, account.Exchange, wallet, 1, func(ctx context.Context) error {
				return client.CancelOrder(ctx, order.ExchangeOrderID, symbol)
			})
			if err != nil {
				log.WithError(err).Warn("stale order not canceled")
			} else {
				order.Status = model.OrderStatusCanceled
				log.Info("stale order canceled")
			}
		}

		if err := e.Orders.Update(ctx, order); err != nil {
			return filled, err
		}
	}
	return filled, nil
}
