package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"
	"marketrouter/src/normalizer"

	logger "github.com/sirupsen/logrus"
)

// ClientSource returns the public client of an exchange.
type ClientSource func(exchange *model.Exchange) (connectors.ExchangeClient, error)

// SyncResult counts what one markets refresh did.
type SyncResult struct {
	Currencies  int
	Upserted    int
	Rejected    int
	Deactivated int64
}

// Syncer refreshes the catalog from the exchanges.
type Syncer struct {
	Catalog    *Catalog
	Gate       *credit.Gate
	Normalizer *normalizer.Normalizer
	Clients    ClientSource
	Log        *logger.Entry

	now func() time.Time
}

func NewSyncer(catalog *Catalog, gate *credit.Gate, n *normalizer.Normalizer, clients ClientSource) *Syncer {
	return &Syncer{
		Catalog:    catalog,
		Gate:       gate,
		Normalizer: n,
		Clients:    clients,
		Log:        logger.WithField("component", "catalog_syncer"),
		now:        time.Now,
	}
}

// SyncStatus polls the exchange status and stores it. It runs whatever the current status is,
// so a maintenance window can end. exchange is updated in place.
func (s *Syncer) SyncStatus(ctx context.Context, exchange *model.Exchange) error {
	client, err := s.Clients(exchange)
	if err != nil {
		return &ConfigError{Exchange: exchange.Name, Reason: err.Error()}
	}

	status, err := credit.FetchAny(ctx, s.Gate, exchange, model.WalletSpot, 1, client.FetchStatus)
	if err != nil {
		return fmt.Errorf("fetch status %s: %w", exchange.Name, err)
	}

	at := status.Updated
	if at.IsZero() {
		at = s.now().UTC()
	}
	if err := s.Catalog.Exchanges.UpdateStatus(ctx, exchange.ID, status.Status, at, status.ETA); err != nil {
		return fmt.Errorf("store status %s: %w", exchange.Name, err)
	}

	if exchange.Status != status.Status {
		s.Log.WithFields(map[string]interface{}{
			"exchange": exchange.Name,
			"from":     exchange.Status,
			"to":       status.Status,
			"eta":      status.ETA,
		}).Info("exchange status changed")
	}
	exchange.Status = status.Status
	exchange.StatusAt = &at
	exchange.StatusETA = status.ETA
	return nil
}

// SyncCurrencies stores the currencies the exchange lists and links them to it.
func (s *Syncer) SyncCurrencies(ctx context.Context, exchange *model.Exchange) (int, error) {
	client, err := s.Clients(exchange)
	if err != nil {
		return 0, &ConfigError{Exchange: exchange.Name, Reason: err.Error()}
	}

	raws, err := credit.Fetch(ctx, s.Gate, exchange, model.WalletSpot, 1, client.FetchCurrencies)
	if err != nil {
		if connectors.KindOf(err) == connectors.FaultNotSupported {
			return 0, nil
		}
		return 0, fmt.Errorf("fetch currencies %s: %w", exchange.Name, err)
	}

	stored := 0
	for _, raw := range raws {
		currency, ok := s.Normalizer.Currency(exchange, raw)
		if !ok {
			continue
		}
		if err := s.storeCurrency(ctx, exchange, currency); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

func (s *Syncer) storeCurrency(ctx context.Context, exchange *model.Exchange, currency *model.Currency) error {
	if err := s.Catalog.Currencies.Upsert(ctx, currency); err != nil {
		return fmt.Errorf("store currency %s: %w", currency.Code, err)
	}
	if err := s.Catalog.Currencies.LinkExchange(ctx, currency, exchange); err != nil {
		return fmt.Errorf("link currency %s: %w", currency.Code, err)
	}
	return nil
}

// SyncMarkets normalizes and upserts the listed markets. Markets missing from the listing
// are marked inactive, never deleted.
func (s *Syncer) SyncMarkets(ctx context.Context, exchange *model.Exchange) (SyncResult, error) {
	var result SyncResult

	quotes, err := s.Catalog.Currencies.CountQuoteEligible(ctx)
	if err != nil {
		return result, fmt.Errorf("count quote currencies: %w", err)
	}
	if quotes == 0 {
		return result, &ConfigError{Exchange: exchange.Name, Reason: "no quote currency configured"}
	}

	client, err := s.Clients(exchange)
	if err != nil {
		return result, &ConfigError{Exchange: exchange.Name, Reason: err.Error()}
	}

	raws, err := credit.Fetch(ctx, s.Gate, exchange, model.WalletSpot, 1, client.FetchMarkets)
	if err != nil {
		return result, fmt.Errorf("fetch markets %s: %w", exchange.Name, err)
	}

	ensured := map[string]bool{}
	keep := make([]uint, 0, len(raws))
	for _, raw := range raws {
		market, ok, err := s.Normalizer.Market(exchange, raw)
		if err != nil {
			if errors.Is(err, normalizer.ErrNoRules) {
				return result, &ConfigError{Exchange: exchange.Name, Reason: err.Error()}
			}
			return result, err
		}
		if !ok {
			result.Rejected++
			continue
		}

		for _, code := range []string{market.Base, market.Quote, market.MarginCurrency} {
			if code == "" || ensured[code] {
				continue
			}
			currency, ok := s.Normalizer.Currency(exchange, connectors.RawCurrency{Code: code})
			if !ok {
				continue
			}
			if err := s.storeCurrency(ctx, exchange, currency); err != nil {
				return result, err
			}
			ensured[code] = true
		}

		if err := s.Catalog.Markets.Upsert(ctx, market); err != nil {
			return result, fmt.Errorf("store market %s: %w", market.Symbol, err)
		}
		keep = append(keep, market.ID)
		result.Upserted++
	}
	result.Currencies = len(ensured)

	deactivated, err := s.Catalog.Markets.DeactivateMissing(ctx, exchange.ID, keep)
	if err != nil {
		return result, fmt.Errorf("deactivate missing markets %s: %w", exchange.Name, err)
	}
	result.Deactivated = deactivated

	s.Log.WithFields(map[string]interface{}{
		"exchange":    exchange.Name,
		"upserted":    result.Upserted,
		"rejected":    result.Rejected,
		"deactivated": deactivated,
	}).Info("markets synced")
	return result, nil
}

// Refresh runs the whole markets refresh of one exchange and republishes the snapshot.
// An exchange that is not active after the status poll is left alone.
func (s *Syncer) Refresh(ctx context.Context, exchange *model.Exchange) (SyncResult, error) {
	var result SyncResult

	if err := s.SyncStatus(ctx, exchange); err != nil {
		return result, err
	}
	if !exchange.IsActive() {
		s.Log.WithFields(map[string]interface{}{
			"exchange": exchange.Name,
			"status":   exchange.Status,
			"enabled":  exchange.Enabled,
		}).Info("exchange not active, skipping markets refresh")
		return result, nil
	}

	currencies, err := s.SyncCurrencies(ctx, exchange)
	if err != nil {
		return result, err
	}

	result, err = s.SyncMarkets(ctx, exchange)
	result.Currencies += currencies
	if err != nil {
		return result, err
	}

	if _, err := s.Catalog.Load(ctx); err != nil {
		return result, err
	}
	return result, nil
}
