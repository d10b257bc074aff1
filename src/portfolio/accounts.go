package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
)

// ErrCredentials marks a refresh rejected by the exchange for the account keys.
var ErrCredentials = errors.New("account credentials rejected")

// ClientSource returns the authenticated client of an account.
type ClientSource func(account *model.Account) (connectors.ExchangeClient, error)

type FundStore interface {
	Create(ctx context.Context, fund *model.Fund) error
}

type PositionStore interface {
	Save(ctx context.Context, position *model.Position) error
	DeleteMissing(ctx context.Context, accountID uint, wallets []model.Wallet, keepMarketIDs []uint) error
}

// Refresher stores fresh balances and positions of an account.
type Refresher struct {
	Catalog   SnapshotSource
	Gate      *credit.Gate
	Clients   ClientSource
	Funds     FundStore
	Positions PositionStore
	Log       *logger.Entry

	now func() time.Time
}

func NewRefresher(c SnapshotSource, gate *credit.Gate, clients ClientSource, funds FundStore, positions PositionStore) *Refresher {
	return &Refresher{
		Catalog:   c,
		Gate:      gate,
		Clients:   clients,
		Funds:     funds,
		Positions: positions,
		Log:       logger.WithField("component", "account_refresh"),
		now:       time.Now,
	}
}

// Refresh appends one Fund per wallet and syncs the open positions. It returns an error
// wrapping ErrCredentials when the exchange rejects the account keys.
func (r *Refresher) Refresh(ctx context.Context, account *model.Account) error {
	exchange := account.Exchange
	if exchange == nil {
		return ErrNoExchange
	}
	client, err := r.Clients(account)
	if err != nil {
		return fmt.Errorf("client for account %d: %w", account.ID, err)
	}
	log := r.Log.WithFields(map[string]interface{}{"account": account.ID, "exchange": exchange.Name})

	now := r.now().UTC()
	for _, wallet := range exchange.Wallets {
		wallet := wallet
		balance, err := credit.Fetch(ctx, r.Gate, exchange, wallet, 1, func(ctx context.Context) (*connectors.Balance, error) {
			return client.FetchBalance(ctx, wallet)
		})
		if err != nil {
			return r.classify(account, "FetchBalance", err)
		}
		fund := &model.Fund{
			AccountID: account.ID,
			Wallet:    wallet,
			Hour:      now.Truncate(time.Hour),
			TakenAt:   now,
			Total:     balance.Total,
			Free:      balance.Free,
			Used:      balance.Used,
		}
		if err := r.Funds.Create(ctx, fund); err != nil {
			return err
		}
	}

	if !exchange.HasFetchPositions {
		return nil
	}
	snap := r.Catalog.Snapshot()
	count := 0
	for _, wallet := range exchange.Wallets {
		if !wallet.IsDerivative() {
			continue
		}
		n, err := r.syncPositions(ctx, snap, client, account, wallet, log)
		if err != nil {
			return err
		}
		count += n
	}
	log.WithField("positions", count).Debug("account refreshed")
	return nil
}

// syncPositions stores the open positions of one derivative wallet and drops the stored
// ones the exchange no longer reports. Wallets the client cannot read are left untouched.
func (r *Refresher) syncPositions(ctx context.Context, snap *catalog.Snapshot, client connectors.ExchangeClient, account *model.Account, wallet model.Wallet, log *logger.Entry) (int, error) {
	exchange := account.Exchange
	raw, err := credit.Fetch(ctx, r.Gate, exchange, wallet, 1, func(ctx context.Context) ([]connectors.RawPosition, error) {
		return client.FetchPositions(ctx, wallet)
	})
	if err != nil {
		if connectors.KindOf(err) == connectors.FaultNotSupported {
			return 0, nil
		}
		return 0, r.classify(account, "FetchPositions", err)
	}

	bySymbol := map[string]*model.Market{}
	for _, m := range snap.Markets(exchange.Name) {
		if m.Wallet == wallet {
			bySymbol[m.Symbol] = m
		}
	}

	keep := []uint{}
	for _, p := range raw {
		if p.Contracts.IsZero() {
			continue
		}
		market, ok := bySymbol[p.Symbol]
		if !ok {
			log.WithFields(map[string]interface{}{"symbol": p.Symbol, "wallet": wallet}).Warn("position on unknown market")
			continue
		}
		side := p.Side
		if side != model.PositionSideShort {
			side = model.PositionSideLong
		}
		position := &model.Position{
			AccountID:        account.ID,
			MarketID:         market.ID,
			Side:             side,
			Size:             p.Contracts.Abs(),
			Notional:         p.Notional,
			EntryPrice:       p.EntryPrice,
			Leverage:         p.Leverage,
			MarginMode:       p.MarginMode,
			LiquidationPrice: p.LiquidationPrice,
			RealizedPnl:      p.RealizedPnl,
			UnrealizedPnl:    p.UnrealizedPnl,
		}
		if p.Info != nil {
			payload, err := json.Marshal(p.Info)
			if err != nil {
				return 0, fmt.Errorf("position %s response: %w", p.Symbol, err)
			}
			position.Response = string(payload)
		}
		if err := r.Positions.Save(ctx, position); err != nil {
			return 0, err
		}
		keep = append(keep, market.ID)
	}

	if err := r.Positions.DeleteMissing(ctx, account.ID, []model.Wallet{wallet}, keep); err != nil {
		return 0, err
	}
	return len(keep), nil
}

func (r *Refresher) classify(account *model.Account, op string, err error) error {
	if connectors.KindOf(err) == connectors.FaultAuth {
		return fmt.Errorf("account %d %s: %w: %v", account.ID, op, ErrCredentials, err)
	}
	return fmt.Errorf("account %d %s: %w", account.ID, op, err)
}
