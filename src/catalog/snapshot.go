package catalog

import (
	"sort"
	"time"

	"marketrouter/src/model"
)

// Snapshot is an immutable view of the catalog. Records returned from it are shared
// between readers and must not be modified.
type Snapshot struct {
	exchanges     map[string]*model.Exchange
	exchangesByID map[uint]*model.Exchange
	currencies    map[string]*model.Currency
	markets       map[model.MarketKey]*model.Market
	marketsByID   map[uint]*model.Market
	byExchange    map[string][]*model.Market
	byBase        map[string]map[string][]*model.Market
	LoadedAt      time.Time
}

func NewSnapshot(exchanges []model.Exchange, currencies []model.Currency, markets []model.Market) *Snapshot {
	s := &Snapshot{
		exchanges:     make(map[string]*model.Exchange, len(exchanges)),
		exchangesByID: make(map[uint]*model.Exchange, len(exchanges)),
		currencies:    make(map[string]*model.Currency, len(currencies)),
		markets:       make(map[model.MarketKey]*model.Market, len(markets)),
		marketsByID:   make(map[uint]*model.Market, len(markets)),
		byExchange:    map[string][]*model.Market{},
		byBase:        map[string]map[string][]*model.Market{},
		LoadedAt:      time.Now().UTC(),
	}
	for i := range exchanges {
		e := &exchanges[i]
		s.exchanges[e.Name] = e
		s.exchangesByID[e.ID] = e
	}
	for i := range currencies {
		c := &currencies[i]
		s.currencies[c.Code] = c
	}
	for i := range markets {
		m := &markets[i]
		e, ok := s.exchangesByID[m.ExchangeID]
		if !ok {
			continue
		}
		m.Exchange = e
		s.markets[m.Key(e.Name)] = m
		s.marketsByID[m.ID] = m
		s.byExchange[e.Name] = append(s.byExchange[e.Name], m)
		if s.byBase[e.Name] == nil {
			s.byBase[e.Name] = map[string][]*model.Market{}
		}
		s.byBase[e.Name][m.Base] = append(s.byBase[e.Name][m.Base], m)
	}
	return s
}

func (s *Snapshot) Exchange(name string) (*model.Exchange, bool) {
	e, ok := s.exchanges[name]
	return e, ok
}

// Exchanges returns every exchange sorted by name.
func (s *Snapshot) Exchanges() []*model.Exchange {
	out := make([]*model.Exchange, 0, len(s.exchanges))
	for _, e := range s.exchanges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveExchanges returns the exchanges new calls may be scheduled against.
func (s *Snapshot) ActiveExchanges() []*model.Exchange {
	var out []*model.Exchange
	for _, e := range s.Exchanges() {
		if e.IsActive() {
			out = append(out, e)
		}
	}
	return out
}

func (s *Snapshot) Currency(code string) (*model.Currency, bool) {
	c, ok := s.currencies[code]
	return c, ok
}

func (s *Snapshot) Market(key model.MarketKey) (*model.Market, bool) {
	m, ok := s.markets[key]
	return m, ok
}

func (s *Snapshot) MarketByID(id uint) (*model.Market, bool) {
	m, ok := s.marketsByID[id]
	return m, ok
}

// Markets returns the markets of an exchange in symbol order.
func (s *Snapshot) Markets(exchange string) []*model.Market {
	return s.byExchange[exchange]
}

// MarketsByBase returns the markets of an exchange whose base is the currency.
func (s *Snapshot) MarketsByBase(exchange, base string) []*model.Market {
	return s.byBase[exchange][base]
}

// TradableMarkets returns the active, non-excluded markets of an exchange.
func (s *Snapshot) TradableMarkets(exchange string) []*model.Market {
	var out []*model.Market
	for _, m := range s.byExchange[exchange] {
		if m.Tradable() {
			out = append(out, m)
		}
	}
	return out
}
