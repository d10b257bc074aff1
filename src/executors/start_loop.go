package executors

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/model"
	"marketrouter/src/planner"
	"marketrouter/src/portfolio"
	"marketrouter/src/pricefeed"
	"marketrouter/src/trade"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type AccountLister interface {
	ListTradable(ctx context.Context) ([]model.Account, error)
	Suspend(ctx context.Context, id uint, reason string) error
}

type Refresher interface {
	Refresh(ctx context.Context, account *model.Account) error
}

type StateBuilder interface {
	Build(ctx context.Context, account *model.Account) (*portfolio.AccountState, error)
}

type RouteExecutor interface {
	Reconcile(ctx context.Context, account *model.Account) (bool, error)
	Execute(ctx context.Context, account *model.Account, routes []planner.Route, state *portfolio.AccountState) (*trade.Result, error)
}

type RoutePlanner interface {
	Plan(state *portfolio.AccountState, snap *catalog.Snapshot, prices *pricefeed.Prices, books planner.BookSource) []planner.Route
}

type Snapshots interface {
	Snapshot() *catalog.Snapshot
}

type PriceSource interface {
	Prices(exchange string) *pricefeed.Prices
}

// Loop runs the per-account control cycle: refresh, reconcile, build, plan, execute.
type Loop struct {
	Accounts  AccountLister
	Refresher Refresher
	Builder   StateBuilder
	Planner   RoutePlanner
	Executor  RouteExecutor
	Catalog   Snapshots
	Prices    PriceSource
	Books     planner.BookSource
	Board     *Board
	Config    Config
	Log       *logger.Entry

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
	now   func() time.Time
}

func NewLoop(accounts AccountLister, refresher Refresher, builder StateBuilder, p RoutePlanner, executor RouteExecutor, c Snapshots, prices PriceSource, books planner.BookSource, board *Board, config Config) *Loop {
	return &Loop{
		Accounts:  accounts,
		Refresher: refresher,
		Builder:   builder,
		Planner:   p,
		Executor:  executor,
		Catalog:   c,
		Prices:    prices,
		Books:     books,
		Board:     board,
		Config:    config,
		Log:       logger.WithField("component", "control_loop"),
		locks:     map[uint]*sync.Mutex{},
		now:       time.Now,
	}
}

// StartLoop runs a cycle for every tradable account on each tick until ctx is done.
// Accounts run in parallel. A cycle still running when the next tick fires is not doubled.
func StartLoop(ctx context.Context, l *Loop) error {
	ticker := time.NewTicker(l.Config.LoopPeriod)
	defer ticker.Stop()

	var g errgroup.Group
	if l.Config.MaxAccounts > 0 {
		g.SetLimit(l.Config.MaxAccounts)
	}

	l.dispatch(ctx, &g)
	for {
		select {
		case <-ctx.Done():
			l.Log.Info("loop stopped")
			_ = g.Wait()
			return nil

		case <-ticker.C:
			l.Log.Debug("loop tick")
			l.dispatch(ctx, &g)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, g *errgroup.Group) {
	accounts, err := l.Accounts.ListTradable(ctx)
	if err != nil {
		l.Log.WithError(err).Error("Failed to list tradable accounts")
		return
	}

	for i := range accounts {
		account := accounts[i]
		started := g.TryGo(func() error {
			if err := l.RunCycle(ctx, &account); err != nil && !errors.Is(err, context.Canceled) {
				l.Log.WithFields(map[string]interface{}{
					"account": account.ID,
					"name":    account.Name,
				}).WithError(err).Error("control cycle failed")
			}
			return nil
		})
		if !started {
			l.Log.WithField("account", account.ID).Warn("all account workers busy, cycle postponed")
		}
	}
}

func (l *Loop) lock(accountID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[accountID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[accountID] = m
	}
	return m
}

// RunCycle runs one control cycle for account. It returns nil without doing anything when a
// cycle for the same account is already running or the account is suspended.
func (l *Loop) RunCycle(ctx context.Context, account *model.Account) error {
	log := l.Log.WithFields(map[string]interface{}{
		"account": account.ID,
		"name":    account.Name,
	})

	m := l.lock(account.ID)
	if !m.TryLock() {
		log.Debug("cycle already running")
		return nil
	}
	defer m.Unlock()

	if account.SuspendedAt != nil || !account.CredentialsValid {
		log.WithField("reason", account.SuspendReason).Warn("account suspended, revalidate its keys")
		return nil
	}

	if err := l.Refresher.Refresh(ctx, account); err != nil {
		return l.refreshFailed(ctx, account, err)
	}
	if _, err := l.Executor.Reconcile(ctx, account); err != nil {
		if errors.Is(err, portfolio.ErrCredentials) {
			return err
		}
		log.WithError(err).Warn("reconcile incomplete")
	}

	for round := 0; ; round++ {
		state, err := l.Builder.Build(ctx, account)
		if errors.Is(err, portfolio.ErrNoAccountValue) {
			log.Info("account holds no value, nothing to plan")
			return nil
		}
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}

		routes := l.Planner.Plan(state, l.Catalog.Snapshot(), l.Prices.Prices(state.Exchange.Name), l.Books)
		l.Board.Publish(Plan{
			AccountID: account.ID,
			Value:     state.Value,
			Routes:    planner.Best(routes),
			PlannedAt: l.now(),
		})
		if len(routes) == 0 {
			log.Debug("portfolio on target")
			return nil
		}

		result, err := l.Executor.Execute(ctx, account, routes, state)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		log.WithFields(map[string]interface{}{
			"round":     round,
			"orders":    len(result.Orders),
			"transfers": result.Transfers,
			"skipped":   len(result.Skipped),
		}).Info("routes executed")

		if !result.Filled || round >= l.Config.MaxReplans {
			return nil
		}
		// fills moved balances, replan from fresh exchange data
		if err := l.Refresher.Refresh(ctx, account); err != nil {
			return l.refreshFailed(ctx, account, err)
		}
	}
}

// refreshFailed suspends the account when the exchange rejected its credentials.
func (l *Loop) refreshFailed(ctx context.Context, account *model.Account, err error) error {
	if !errors.Is(err, portfolio.ErrCredentials) {
		return fmt.Errorf("refresh: %w", err)
	}
	if serr := l.Accounts.Suspend(ctx, account.ID, err.Error()); serr != nil {
		return fmt.Errorf("suspend account %d: %w (cause: %v)", account.ID, serr, err)
	}
	now := l.now()
	account.SuspendedAt = &now
	account.CredentialsValid = false
	account.SuspendReason = err.Error()
	return fmt.Errorf("refresh: %w", err)
}
