package trade

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/connectors/connectorstest"
	"marketrouter/src/credit"
	"marketrouter/src/database"
	"marketrouter/src/model"
	"marketrouter/src/planner"
	"marketrouter/src/portfolio"
	"marketrouter/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type execFixture struct {
	db       *gorm.DB
	executor *Executor
	client   *connectorstest.Client
	account  *model.Account
	exchange *model.Exchange
	btcSpot  *model.Market
	solPerp  *model.Market
	ethPerp  *model.Market
	orders   *repository.OrderRepository
	now      time.Time
}

func newExecFixture(t *testing.T) *execFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	exchange := &model.Exchange{
		Name:              "binance",
		Enabled:           true,
		Status:            model.ExchangeStatusOK,
		HasTransfer:       true,
		RateLimitRequests: 100,
		RateLimitWindowMs: 60000,
		Wallets:           []model.Wallet{model.WalletSpot, model.WalletFuture},
	}
	require.NoError(t, (&repository.GormExchangeRepository{}).WithDB(db).Upsert(ctx, exchange))

	markets := (&repository.GormMarketRepository{}).WithDB(db)
	btc := &model.Market{
		ExchangeID: exchange.ID, Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Wallet: model.WalletSpot,
		Type: model.MarketTypeSpot, AmountMin: decimal.NewNullDecimal(d("0.001")), Active: true,
	}
	sol := perp(exchange.ID, "SOL")
	eth := perp(exchange.ID, "ETH")
	for _, m := range []*model.Market{btc, sol, eth} {
		require.NoError(t, markets.Upsert(ctx, m))
		m.Exchange = exchange
	}

	account := &model.Account{Name: "main", ExchangeID: exchange.ID, StrategyKey: "core", TradingEnabled: true, CredentialsValid: true}
	require.NoError(t, db.Create(account).Error)
	account.Exchange = exchange

	client := connectorstest.New("binance")
	prices := map[string]decimal.Decimal{"BTC/USDT": d("50000"), "SOL/USDT:USDT": d("100"), "ETH/USDT:USDT": d("2000")}
	client.OrderFunc = func(req connectors.OrderRequest) (*connectors.OrderResult, error) {
		price := prices[req.Symbol]
		return &connectors.OrderResult{
			ID:      "x-" + req.ClientOrderID,
			Status:  model.OrderStatusFilled,
			Amount:  req.Amount,
			Filled:  req.Amount,
			Average: price,
			Cost:    req.Amount.Mul(price),
		}, nil
	}

	gate := credit.NewGate(credit.NewLimiter())
	gate.Backoff = credit.Backoff{Base: time.Millisecond, Max: time.Millisecond, Attempts: 2}
	orders := (&repository.OrderRepository{}).WithDB(db)
	e := NewExecutor(gate, func(*model.Account) (connectors.ExchangeClient, error) {
		return client, nil
	}, orders, (&repository.GormAccountRepository{}).WithDB(db), markets, nil, Config{OrderType: model.OrderTypeMarket, OrderTimeout: 10 * time.Minute})

	log, _ := test.NewNullLogger()
	e.Log = logger.NewEntry(log)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("order-%d", n)
	}
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	return &execFixture{db: db, executor: e, client: client, account: account, exchange: exchange, btcSpot: btc, solPerp: sol, ethPerp: eth, orders: orders, now: now}
}

func perp(exchangeID uint, base string) *model.Market {
	return &model.Market{
		ExchangeID: exchangeID, Symbol: base + "/USDT:USDT", Base: base, Quote: "USDT", Wallet: model.WalletFuture,
		Type: model.MarketTypeDerivative, DerivativeType: model.DerivativePerpetual,
		MarginCurrency: "USDT", ContractValue: decimal.NewFromInt(1), ContractValueCurrency: base,
		AmountMin: decimal.NewNullDecimal(d("0.01")), Active: true,
	}
}

func (f *execFixture) state() *portfolio.AccountState {
	s := &portfolio.AccountState{
		Account:    f.account,
		Exchange:   f.exchange,
		Reference:  "USDT",
		Currencies: map[string]*portfolio.CurrencyState{},
	}
	for code, price := range map[string]string{"USDT": "1", "BTC": "50000", "SOL": "100", "ETH": "2000"} {
		s.Currencies[code] = &portfolio.CurrencyState{Code: code, Price: d(price), Priced: true}
	}
	usdt := s.Currencies["USDT"]
	usdt.Rows = append(usdt.Rows, &portfolio.Row{Currency: "USDT", Wallet: model.WalletSpot, Total: d("3000"), Free: d("3000"), TotalValue: d("3000"), FreeValue: d("3000")})
	eth := s.Currencies["ETH"]
	eth.Rows = append(eth.Rows, &portfolio.Row{Currency: "ETH", Wallet: model.WalletFuture, Market: f.ethPerp, Side: model.PositionSideShort, Quantity: d("1"), Value: d("2000")})
	return s
}

func leg(instruction portfolio.Instruction, m *model.Market, side, quantity, price string) planner.Leg {
	return planner.Leg{
		Action:      planner.ActionTrade,
		Instruction: instruction,
		Currency:    m.Base,
		Wallet:      m.Wallet,
		Market:      m,
		Side:        side,
		Quantity:    d(quantity),
		Price:       d(price),
	}
}

func (f *execFixture) marginRoute() planner.Route {
	src := leg(portfolio.InstructionCloseShort, f.ethPerp, model.OrderSideBuy, "0.25", "2000")
	src.ReduceOnly = true
	dst := leg(portfolio.InstructionOpenLong, f.solPerp, model.OrderSideBuy, "5", "100")
	return planner.Route{Type: planner.RouteMargin, Source: src, Destination: &dst, Value: d("500")}
}

func (f *execFixture) stored(t *testing.T) []model.Order {
	t.Helper()
	var orders []model.Order
	require.NoError(t, f.db.Order("id").Find(&orders).Error)
	return orders
}

func TestExecuteMarginRoutePlacesBothLegs(t *testing.T) {
	f := newExecFixture(t)
	state := f.state()

	result, err := f.executor.Execute(context.Background(), f.account, []planner.Route{f.marginRoute()}, state)
	require.NoError(t, err)
	assert.True(t, result.Filled)
	require.Len(t, result.Orders, 2)

	orders := f.stored(t)
	require.Len(t, orders, 2)
	assert.Equal(t, "order-1", orders[0].ClientOrderID)
	assert.Equal(t, "ETH", orders[0].Currency)
	assert.True(t, orders[0].ReduceOnly)
	assert.True(t, d("0.25").Equal(orders[0].Amount))
	assert.Equal(t, model.OrderStatusFilled, orders[0].Status)
	assert.Equal(t, "x-order-1", orders[0].ExchangeOrderID)
	assert.Equal(t, "margin", orders[0].RouteType)
	assert.Equal(t, "close_short", orders[0].Instruction)
	assert.NotNil(t, orders[0].ExecutedAt)

	assert.Equal(t, "SOL", orders[1].Currency)
	assert.True(t, d("5").Equal(orders[1].Amount))
	assert.True(t, f.client.Orders[1].Derivative)

	short, ok := state.PositionRow(f.ethPerp.ID)
	require.True(t, ok)
	assert.True(t, d("0.75").Equal(short.Quantity))
	long, ok := state.PositionRow(f.solPerp.ID)
	require.True(t, ok)
	assert.Equal(t, model.PositionSideLong, long.Side)
	assert.True(t, d("500").Equal(long.Value))
}

func TestExecuteSkipsCurrencyWithPendingOrder(t *testing.T) {
	f := newExecFixture(t)
	require.NoError(t, f.orders.Create(context.Background(), &model.Order{
		AccountID: f.account.ID, MarketID: f.solPerp.ID, ClientOrderID: "pending", Currency: "SOL",
		Side: model.OrderSideBuy, Type: model.OrderTypeMarket, Amount: d("1"), Status: model.OrderStatusOpen,
	}))

	result, err := f.executor.Execute(context.Background(), f.account, []planner.Route{f.marginRoute()}, f.state())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Equal(t, ErrPendingOrder.Error(), result.Skipped["ETH"])
	assert.Zero(t, f.client.Calls("CreateOrder"))
}

func TestExecuteWaitsForSourceFill(t *testing.T) {
	f := newExecFixture(t)
	f.client.OrderFunc = func(req connectors.OrderRequest) (*connectors.OrderResult, error) {
		return &connectors.OrderResult{ID: "x-" + req.ClientOrderID, Status: model.OrderStatusOpen}, nil
	}
	route := f.marginRoute()

	result, err := f.executor.Execute(context.Background(), f.account, []planner.Route{route}, f.state())
	require.NoError(t, err)
	assert.False(t, result.Filled)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, model.OrderStatusOpen, result.Orders[0].Status)

	// the open source order blocks both currencies on the next pass
	result, err = f.executor.Execute(context.Background(), f.account, []planner.Route{route}, f.state())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Equal(t, 1, f.client.Calls("CreateOrder"))
}

func TestExecuteTransferBeforeTrade(t *testing.T) {
	f := newExecFixture(t)
	state := f.state()
	dst := leg(portfolio.InstructionOpenLong, f.solPerp, model.OrderSideBuy, "8", "100")
	route := planner.Route{
		Type:        planner.RouteTransfer,
		Source:      planner.Leg{Action: planner.ActionCash, Currency: "USDT", Wallet: model.WalletSpot},
		Destination: &dst,
		Transfer:    &planner.TransferStep{Currency: "USDT", Amount: d("800"), From: model.WalletSpot, To: model.WalletFuture},
	}

	result, err := f.executor.Execute(context.Background(), f.account, []planner.Route{route}, state)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Transfers)
	require.Len(t, f.client.Transfers, 1)
	assert.Equal(t, model.WalletFuture, f.client.Transfers[0].To)

	margin, ok := state.CashRow("USDT", model.WalletFuture)
	require.True(t, ok)
	assert.True(t, d("800").Equal(margin.Free))
	spot, _ := state.CashRow("USDT", model.WalletSpot)
	assert.True(t, d("2200").Equal(spot.FreeValue))
	require.Len(t, result.Orders, 1)
	assert.True(t, d("8").Equal(result.Orders[0].Amount))

	f.client.ErrTransfer = connectors.NewFault(connectors.FaultExchange, "binance", "Transfer", errors.New("transfers suspended"))
	result, err = f.executor.Execute(context.Background(), f.account, []planner.Route{route}, state)
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Contains(t, result.Skipped["USDT"], "transfers suspended")
}

func TestExecuteChecksMarketLimits(t *testing.T) {
	f := newExecFixture(t)
	small := planner.Route{Type: planner.RouteDefault, Source: leg(portfolio.InstructionSellSpot, f.btcSpot, model.OrderSideSell, "0.0005", "50000")}
	fits := planner.Route{Type: planner.RouteDirect, Source: leg(portfolio.InstructionSellSpot, f.btcSpot, model.OrderSideSell, "0.002", "50000")}

	result, err := f.executor.Execute(context.Background(), f.account, []planner.Route{small}, f.state())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Contains(t, result.Skipped["BTC"], model.ErrAmountBelowMin.Error())

	result, err = f.executor.Execute(context.Background(), f.account, []planner.Route{small, fits}, f.state())
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.True(t, d("0.002").Equal(result.Orders[0].Amount))
	assert.Equal(t, "direct", result.Orders[0].RouteType)
}

func TestExecuteFailureHandling(t *testing.T) {
	tests := []struct {
		name      string
		kind      connectors.FaultKind
		status    model.OrderStatus
		suspended bool
		excluded  bool
	}{
		{"insufficient funds fails the order", connectors.FaultInsufficientFunds, model.OrderStatusFailed, false, false},
		{"bad symbol excludes the market", connectors.FaultBadSymbol, model.OrderStatusFailed, false, true},
		{"unanswered submit stays pending", connectors.FaultNetwork, model.OrderStatusCreated, false, false},
		{"timed out submit stays pending", connectors.FaultTimeout, model.OrderStatusCreated, false, false},
		{"rejected keys suspend the account", connectors.FaultAuth, model.OrderStatusFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newExecFixture(t)
			f.client.OrderFunc = func(req connectors.OrderRequest) (*connectors.OrderResult, error) {
				return nil, connectors.NewFault(tt.kind, "binance", "CreateOrder", errors.New("rejected"))
			}

			_, err := f.executor.Execute(context.Background(), f.account, []planner.Route{f.marginRoute()}, f.state())
			if tt.suspended {
				require.ErrorIs(t, err, portfolio.ErrCredentials)
			} else {
				require.NoError(t, err)
			}

			orders := f.stored(t)
			require.Len(t, orders, 1)
			assert.Equal(t, tt.status, orders[0].Status)
			assert.Contains(t, orders[0].Error, "rejected")

			var account model.Account
			require.NoError(t, f.db.First(&account, f.account.ID).Error)
			assert.Equal(t, tt.suspended, account.SuspendedAt != nil)
			assert.Equal(t, !tt.suspended, account.CredentialsValid)

			var market model.Market
			require.NoError(t, f.db.First(&market, f.ethPerp.ID).Error)
			assert.Equal(t, tt.excluded, market.Excluded)
		})
	}
}

func TestExecuteRefusesSuspendedAccount(t *testing.T) {
	f := newExecFixture(t)
	f.account.CredentialsValid = false

	_, err := f.executor.Execute(context.Background(), f.account, []planner.Route{f.marginRoute()}, f.state())
	require.ErrorIs(t, err, ErrTradingDisabled)
	assert.Zero(t, f.client.Calls("CreateOrder"))
}

func TestReconcileRefreshesPendingOrders(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()

	create := func(id, exchangeID string, created time.Time) *model.Order {
		o := &model.Order{
			AccountID: f.account.ID, MarketID: f.solPerp.ID, ClientOrderID: id, ExchangeOrderID: exchangeID,
			Currency: "SOL", Side: model.OrderSideBuy, Type: model.OrderTypeLimit, Amount: d("2"),
			Status: model.OrderStatusOpen, CreatedAt: created,
		}
		require.NoError(t, f.orders.Create(ctx, o))
		return o
	}
	fresh := create("fresh", "ex-fresh", f.now)
	stale := create("stale", "ex-stale", f.now.Add(-time.Hour))
	lost := create("lost", "", f.now.Add(-time.Hour))

	f.client.ClientStatusFunc = func(clientOrderID, symbol string) (*connectors.OrderResult, error) {
		return nil, connectors.NewFault(connectors.FaultOrderNotFound, "binance", "FetchOrderByClientID", errors.New("unknown order"))
	}
	f.client.StatusFunc = func(id, symbol string) (*connectors.OrderResult, error) {
		assert.Equal(t, "SOL/USDT:USDT", symbol)
		if id == "ex-fresh" {
			return &connectors.OrderResult{ID: id, Status: model.OrderStatusFilled, Filled: d("2"), Average: d("100")}, nil
		}
		return &connectors.OrderResult{ID: id, Status: model.OrderStatusOpen}, nil
	}

	filled, err := f.executor.Reconcile(ctx, f.account)
	require.NoError(t, err)
	assert.True(t, filled)
	assert.Equal(t, []string{"ex-stale"}, f.client.Canceled)

	for id, status := range map[uint]model.OrderStatus{
		fresh.ID: model.OrderStatusFilled,
		stale.ID: model.OrderStatusCanceled,
		lost.ID:  model.OrderStatusError,
	} {
		o, err := f.orders.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, status, o.Status)
	}

	filled, err = f.executor.Reconcile(ctx, f.account)
	require.NoError(t, err)
	assert.False(t, filled)
}

func TestExecuteTimeoutKeepsCurrencyBlockedUntilReconciled(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	route := f.marginRoute()
	f.client.OrderFunc = func(req connectors.OrderRequest) (*connectors.OrderResult, error) {
		return nil, connectors.NewFault(connectors.FaultTimeout, "binance", "CreateOrder", errors.New("request timed out"))
	}

	result, err := f.executor.Execute(ctx, f.account, []planner.Route{route}, f.state())
	require.NoError(t, err)
	require.Len(t, result.Orders, 1)
	assert.Equal(t, model.OrderStatusCreated, result.Orders[0].Status)
	sent := f.client.Calls("CreateOrder")

	// the exchange may hold the order, so nothing else goes out for ETH or SOL
	result, err = f.executor.Execute(ctx, f.account, []planner.Route{route}, f.state())
	require.NoError(t, err)
	assert.Empty(t, result.Orders)
	assert.Equal(t, ErrPendingOrder.Error(), result.Skipped["ETH"])
	assert.Equal(t, sent, f.client.Calls("CreateOrder"))

	f.client.ClientStatusFunc = func(clientOrderID, symbol string) (*connectors.OrderResult, error) {
		assert.Equal(t, "order-1", clientOrderID)
		return &connectors.OrderResult{ID: "x-late", ClientOrderID: clientOrderID, Status: model.OrderStatusFilled, Filled: d("0.25"), Average: d("2000")}, nil
	}
	filled, err := f.executor.Reconcile(ctx, f.account)
	require.NoError(t, err)
	assert.True(t, filled)

	orders := f.stored(t)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderStatusFilled, orders[0].Status)
	assert.Equal(t, "x-late", orders[0].ExchangeOrderID)
	assert.Zero(t, f.client.Calls("FetchOrder"))
}

func TestReconcileKeepsUnknownOrderUntilStale(t *testing.T) {
	f := newExecFixture(t)
	ctx := context.Background()
	order := &model.Order{
		AccountID: f.account.ID, MarketID: f.ethPerp.ID, ClientOrderID: "pending", Currency: "ETH",
		Side: model.OrderSideBuy, Type: model.OrderTypeMarket, Amount: d("1"), Status: model.OrderStatusCreated, CreatedAt: f.now,
	}
	require.NoError(t, f.orders.Create(ctx, order))
	f.client.ClientStatusFunc = func(clientOrderID, symbol string) (*connectors.OrderResult, error) {
		return nil, connectors.NewFault(connectors.FaultOrderNotFound, "binance", "FetchOrderByClientID", errors.New("unknown order"))
	}

	_, err := f.executor.Reconcile(ctx, f.account)
	require.NoError(t, err)
	stored, err := f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCreated, stored.Status)

	f.executor.now = func() time.Time { return f.now.Add(time.Hour) }
	_, err = f.executor.Reconcile(ctx, f.account)
	require.NoError(t, err)
	stored, err = f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusError, stored.Status)
}
