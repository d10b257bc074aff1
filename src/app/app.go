package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"marketrouter/src/audit"
	"marketrouter/src/catalog"
	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/database"
	"marketrouter/src/executors"
	"marketrouter/src/model"
	"marketrouter/src/normalizer"
	"marketrouter/src/planner"
	"marketrouter/src/portfolio"
	"marketrouter/src/pricefeed"
	"marketrouter/src/repository"
	"marketrouter/src/strategy"
	"marketrouter/src/tasks"
	"marketrouter/src/trade"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// App holds the wired components of one process.
type App struct {
	Config Config

	Exchanges *repository.GormExchangeRepository
	Markets   *repository.GormMarketRepository
	Accounts  *repository.GormAccountRepository
	Orders    *repository.OrderRepository

	Registry *connectors.Registry
	Gate     *credit.Gate
	Catalog  *catalog.Catalog
	Syncer   *catalog.Syncer
	Feed     *pricefeed.Feed
	Runner   *tasks.Runner
	Board    *executors.Board
	Loop     *executors.Loop
	Clients  portfolio.ClientSource

	Log *logger.Entry
}

// New wires every component on db. source supplies the target allocations.
func New(db *gorm.DB, source strategy.Source, config Config) *App {
	a := &App{
		Config:    config,
		Exchanges: repository.NewExchangeRepository().WithDB(db),
		Markets:   repository.NewMarketRepository().WithDB(db),
		Accounts:  repository.NewAccountRepository().WithDB(db),
		Orders:    repository.NewOrderRepository().WithDB(db),
		Registry:  connectors.DefaultRegistry(connectors.GetConfig()),
		Gate:      credit.NewGate(credit.NewLimiter()),
		Board:     executors.NewBoard(),
		Log:       logger.WithField("component", "app"),
	}
	currencies := repository.NewCurrencyRepository().WithDB(db)
	candles := repository.NewCandleRepository().WithDB(db)
	funds := repository.NewFundRepository().WithDB(db)
	positions := repository.NewPositionRepository().WithDB(db)
	recorder := audit.NewRecorder(repository.NewExceptionRepository().WithDB(db), config.ServiceName)

	n := normalizer.New(normalizer.DefaultRegistry(), normalizer.GetConfig())
	a.Catalog = catalog.New(a.Exchanges, currencies, a.Markets)
	a.Syncer = catalog.NewSyncer(a.Catalog, a.Gate, n, a.Registry.Public)
	a.Feed = pricefeed.New(a.Catalog, a.Gate, n, a.Registry.Public, candles, a.Markets, pricefeed.GetConfig())
	a.Runner = tasks.NewRunner(a.Catalog, a.Syncer, a.Feed, tasks.GetConfig())

	clients := executors.AccountClients(a.Registry)
	a.Clients = clients
	refresher := portfolio.NewRefresher(a.Catalog, a.Gate, clients, funds, positions)
	builder := portfolio.NewBuilder(funds, positions, source, a.Catalog, a.Feed, portfolio.GetConfig())
	executor := trade.NewExecutor(a.Gate, clients, a.Orders, a.Accounts, a.Markets, recorder, trade.GetConfig())
	a.Loop = executors.NewLoop(a.Accounts, refresher, builder, planner.New(planner.GetConfig()), executor,
		a.Catalog, a.Feed, a.Feed.Books, a.Board, executors.GetConfig())
	return a
}

// Bootstrap connects the databases and wires the App from the environment.
func Bootstrap() (*App, error) {
	if err := database.InitMainDB(); err != nil {
		return nil, err
	}
	config := strategy.GetConfig()
	if config.AllocationSource == "db" {
		if err := database.InitReadOnlyDB(); err != nil {
			return nil, err
		}
	}
	source, err := strategy.NewSource(config)
	if err != nil {
		return nil, err
	}
	return New(database.MainDB, source, GetConfig()), nil
}

// Seed upserts the exchanges of the seed file and loads the catalog.
func (a *App) Seed(ctx context.Context) error {
	seeded, err := catalog.SeedExchanges(ctx, a.Exchanges, a.Config.ExchangesFile)
	if err != nil {
		return err
	}
	a.Log.WithField("exchanges", len(seeded)).Info("exchanges seeded")

	_, err = a.Catalog.Load(ctx)
	return err
}

// ValidateCredentials checks the account keys with a balance call. Rejected keys return an
// error wrapping portfolio.ErrCredentials.
func (a *App) ValidateCredentials(ctx context.Context, account *model.Account) error {
	if account.Exchange == nil || len(account.Exchange.Wallets) == 0 {
		return fmt.Errorf("account %d: exchange without wallets", account.ID)
	}
	client, err := a.Clients(account)
	if err != nil {
		return err
	}
	_, err = credit.FetchAny(ctx, a.Gate, account.Exchange, account.Exchange.Wallets[0], 1, func(ctx context.Context) (*connectors.Balance, error) {
		return client.FetchBalance(ctx, account.Exchange.Wallets[0])
	})
	if connectors.KindOf(err) == connectors.FaultAuth {
		return fmt.Errorf("%w: %v", portfolio.ErrCredentials, err)
	}
	return err
}

// bookMarkets resolves the configured exchange:symbol pairs against the catalog.
func (a *App) bookMarkets() ([]*model.Exchange, []*model.Market, error) {
	snap := a.Catalog.Snapshot()
	var exchanges []*model.Exchange
	var markets []*model.Market

	for _, entry := range a.Config.BookMarkets {
		name, symbol, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			return nil, nil, fmt.Errorf("invalid BOOK_MARKETS entry %q, want exchange:symbol", entry)
		}
		exchange, ok := snap.Exchange(name)
		if !ok {
			return nil, nil, fmt.Errorf("BOOK_MARKETS: unknown exchange %q", name)
		}
		found := false
		for _, m := range snap.Markets(name) {
			if m.Symbol == symbol && m.Tradable() {
				exchanges = append(exchanges, exchange)
				markets = append(markets, m)
				found = true
			}
		}
		if !found {
			a.Log.WithFields(map[string]interface{}{"exchange": name, "symbol": symbol}).Warn("no tradable market for order book")
		}
	}
	return exchanges, markets, nil
}

// StreamBooks keeps the ladders of the configured markets current until ctx is done.
func (a *App) StreamBooks(ctx context.Context) error {
	exchanges, markets, err := a.bookMarkets()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range markets {
		ch := a.Feed.StreamOrderBook(ctx, exchanges[i], markets[i])
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			updates := 0
			for range ch {
				updates++
			}
			a.Log.WithFields(map[string]interface{}{"market": symbol, "updates": updates}).Info("order book stream closed")
		}(markets[i].Symbol)
	}
	wg.Wait()
	return nil
}

// RunTrader runs the control loop with the price data it needs: tickers at every top of the
// hour, status polls and the order book streams.
func (a *App) RunTrader(ctx context.Context) error {
	if _, err := a.Catalog.Load(ctx); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if err := a.Runner.TickersRefresh(ctx).Err(); err != nil {
		a.Log.WithError(err).Warn("initial tickers refresh incomplete")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Runner.RunHourly(ctx, tasks.UnitTickers, a.Runner.TickersRefresh) })
	g.Go(func() error { return a.Runner.RunHourly(ctx, tasks.UnitStatus, a.Runner.StatusPoll) })
	g.Go(func() error { return a.StreamBooks(ctx) })
	g.Go(func() error { return executors.StartLoop(ctx, a.Loop) })
	return g.Wait()
}
