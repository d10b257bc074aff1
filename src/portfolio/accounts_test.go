package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/connectors"
	"marketrouter/src/connectors/connectorstest"
	"marketrouter/src/credit"
	"marketrouter/src/database"
	"marketrouter/src/model"
	"marketrouter/src/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type refreshFixture struct {
	db        *gorm.DB
	catalog   *catalog.Catalog
	refresher *Refresher
	client    *connectorstest.Client
	account   *model.Account
	market    *model.Market
	funds     *repository.GormFundRepository
	positions *repository.GormPositionRepository
}

func newRefreshFixture(t *testing.T) *refreshFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	exchanges := (&repository.GormExchangeRepository{}).WithDB(db)
	markets := (&repository.GormMarketRepository{}).WithDB(db)
	c := catalog.New(exchanges, (&repository.GormCurrencyRepository{}).WithDB(db), markets)

	exchange := &model.Exchange{
		Name:              "binance",
		Enabled:           true,
		Status:            model.ExchangeStatusOK,
		HasFetchPositions: true,
		RateLimitRequests: 100,
		RateLimitWindowMs: 60000,
		Wallets:           []model.Wallet{model.WalletSpot, model.WalletFuture},
	}
	require.NoError(t, exchanges.Upsert(ctx, exchange))

	market := perp(0, "BTC")
	market.ExchangeID = exchange.ID
	require.NoError(t, markets.Upsert(ctx, &market))
	_, err = c.Load(ctx)
	require.NoError(t, err)

	account := &model.Account{Name: "main", ExchangeID: exchange.ID, StrategyKey: "core", ReferenceCurrency: "USDT", TradingEnabled: true, CredentialsValid: true}
	require.NoError(t, db.Create(account).Error)
	account.Exchange = exchange

	client := connectorstest.New("binance")
	funds := (&repository.GormFundRepository{}).WithDB(db)
	positions := (&repository.GormPositionRepository{}).WithDB(db)
	r := NewRefresher(c, credit.NewGate(credit.NewLimiter()), func(*model.Account) (connectors.ExchangeClient, error) {
		return client, nil
	}, funds, positions)
	r.now = func() time.Time { return time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC) }

	return &refreshFixture{db: db, catalog: c, refresher: r, client: client, account: account, market: &market, funds: funds, positions: positions}
}

func TestRefreshStoresFundsAndPositions(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	f.client.Balances = map[model.Wallet]*connectors.Balance{
		model.WalletSpot: {
			Total: map[string]decimal.Decimal{"USDT": d("1000")},
			Free:  map[string]decimal.Decimal{"USDT": d("1000")},
		},
		model.WalletFuture: {
			Total: map[string]decimal.Decimal{"USDT": d("500")},
			Free:  map[string]decimal.Decimal{"USDT": d("300")},
			Used:  map[string]decimal.Decimal{"USDT": d("200")},
		},
	}
	f.client.Positions = []connectors.RawPosition{
		{Symbol: "BTC/USDT:USDT", Side: "short", Contracts: d("0.01"), UnrealizedPnl: d("-3"), Info: map[string]interface{}{"positionAmt": "-0.01"}},
		{Symbol: "ETH/USDT:USDT", Side: "long", Contracts: d("1")},
	}
	require.NoError(t, f.refresher.Refresh(ctx, f.account))

	latest, err := f.funds.Latest(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, model.WalletFuture, latest[0].Wallet)
	assert.True(t, d("300").Equal(latest[0].Free["USDT"]))
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), latest[0].Hour.UTC())

	open, err := f.positions.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, f.market.ID, open[0].MarketID)
	assert.Equal(t, model.PositionSideShort, open[0].Side)
	assert.JSONEq(t, `{"positionAmt":"-0.01"}`, open[0].Response)

	f.client.Positions = nil
	require.NoError(t, f.refresher.Refresh(ctx, f.account))
	open, err = f.positions.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRefreshRejectedKeysIsCredentialError(t *testing.T) {
	f := newRefreshFixture(t)
	f.client.ErrBalance = connectors.NewFault(connectors.FaultAuth, "binance", "FetchBalance", errors.New("invalid api key"))

	err := f.refresher.Refresh(context.Background(), f.account)
	require.ErrorIs(t, err, ErrCredentials)
	assert.Equal(t, 1, f.client.Calls("FetchBalance"))
}

func TestRefreshThenBuildFromStore(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	f.client.Balances = map[model.Wallet]*connectors.Balance{
		model.WalletFuture: {
			Total: map[string]decimal.Decimal{"USDT": d("1000")},
			Free:  map[string]decimal.Decimal{"USDT": d("1000")},
		},
	}
	f.client.Positions = []connectors.RawPosition{{Symbol: "BTC/USDT:USDT", Side: "long", Contracts: d("0.01"), UnrealizedPnl: d("20")}}
	require.NoError(t, f.refresher.Refresh(ctx, f.account))

	prices := testPrices(map[uint]string{f.market.ID: "50000"})
	b, _ := newTestBuilder(nil, nil, allocationStub{"BTC": d("0")}, f.catalog.Snapshot(), prices)
	b.Funds = f.funds
	b.Positions = f.positions

	state, err := b.Build(ctx, f.account)
	require.NoError(t, err)
	assertDecimal(t, "1020", state.Value)

	row, ok := state.PositionRow(f.market.ID)
	require.True(t, ok)
	assertDecimal(t, "500", row.Value)
	assert.Equal(t, InstructionCloseLong, row.Instruction)
	assertDecimal(t, "-500", row.DeltaValue)
}

func TestRefreshKeepsPositionsOfUnreadWallets(t *testing.T) {
	f := newRefreshFixture(t)
	ctx := context.Background()

	f.account.Exchange.Wallets = []model.Wallet{model.WalletFuture, model.WalletDelivery}
	inverse := perp(0, "BTC")
	inverse.ExchangeID = f.account.ExchangeID
	inverse.Symbol = "BTC/USD:BTC"
	inverse.Quote = "USD"
	inverse.MarginCurrency = "BTC"
	inverse.Wallet = model.WalletDelivery
	require.NoError(t, (&repository.GormMarketRepository{}).WithDB(f.db).Upsert(ctx, &inverse))
	_, err := f.catalog.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, f.positions.Save(ctx, &model.Position{AccountID: f.account.ID, MarketID: inverse.ID, Side: model.PositionSideLong, Size: d("100")}))
	require.NoError(t, f.positions.Save(ctx, &model.Position{AccountID: f.account.ID, MarketID: f.market.ID, Side: model.PositionSideLong, Size: d("1")}))

	f.client.Balances = map[model.Wallet]*connectors.Balance{model.WalletFuture: {}, model.WalletDelivery: {}}
	require.NoError(t, f.refresher.Refresh(ctx, f.account))

	open, err := f.positions.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	require.Len(t, open, 1, "the future position is gone, the delivery one was never read")
	assert.Equal(t, inverse.ID, open[0].MarketID)
	assert.Equal(t, 2, f.client.Calls("FetchPositions"))

	f.client.WalletPositions = map[model.Wallet][]connectors.RawPosition{model.WalletDelivery: nil}
	require.NoError(t, f.refresher.Refresh(ctx, f.account))
	open, err = f.positions.ListByAccount(ctx, f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}
