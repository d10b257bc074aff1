package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const krakenPingInterval = 30 * time.Second

type krakenBookLevel struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

type krakenBookMessage struct {
	Event     string            `json:"event"`
	Feed      string            `json:"feed"`
	ProductID string            `json:"product_id"`
	Message   string            `json:"message"`
	Seq       int64             `json:"seq"`
	Timestamp int64             `json:"timestamp"`
	Bids      []krakenBookLevel `json:"bids"`
	Asks      []krakenBookLevel `json:"asks"`
	Side      string            `json:"side"`
	Price     float64           `json:"price"`
	Qty       float64           `json:"qty"`
}

// krakenLocalBook keeps the book assembled from a snapshot and its deltas.
type krakenLocalBook struct {
	bids map[float64]float64
	asks map[float64]float64
	seq  int64
}

func newKrakenLocalBook() *krakenLocalBook {
	return &krakenLocalBook{bids: map[float64]float64{}, asks: map[float64]float64{}}
}

func (b *krakenLocalBook) snapshot(msg krakenBookMessage) {
	b.bids = make(map[float64]float64, len(msg.Bids))
	b.asks = make(map[float64]float64, len(msg.Asks))
	for _, l := range msg.Bids {
		b.bids[l.Price] = l.Qty
	}
	for _, l := range msg.Asks {
		b.asks[l.Price] = l.Qty
	}
	b.seq = msg.Seq
}

// apply returns false when a sequence gap makes the local book unusable.
func (b *krakenLocalBook) apply(msg krakenBookMessage) bool {
	if b.seq != 0 && msg.Seq != 0 && msg.Seq != b.seq+1 {
		return false
	}
	b.seq = msg.Seq
	side := b.asks
	if msg.Side == "buy" {
		side = b.bids
	}
	if msg.Qty == 0 {
		delete(side, msg.Price)
	} else {
		side[msg.Price] = msg.Qty
	}
	return true
}

func (b *krakenLocalBook) top(symbol string, depth int) OrderBook {
	book := OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	book.Bids = sortedLevels(b.bids, true, depth)
	book.Asks = sortedLevels(b.asks, false, depth)
	return book
}

func sortedLevels(side map[float64]float64, desc bool, depth int) []BookLevel {
	prices := make([]float64, 0, len(side))
	for p := range side {
		prices = append(prices, p)
	}
	if desc {
		sort.Sort(sort.Reverse(sort.Float64Slice(prices)))
	} else {
		sort.Float64s(prices)
	}
	if depth > 0 && len(prices) > depth {
		prices = prices[:depth]
	}
	out := make([]BookLevel, 0, len(prices))
	for _, p := range prices {
		out = append(out, BookLevel{Price: decimal.NewFromFloat(p), Amount: decimal.NewFromFloat(side[p])})
	}
	return out
}

// WatchOrderBook subscribes to the public book feed and pushes the local book after each update.
func (c *KrakenFuturesClient) WatchOrderBook(ctx context.Context, symbol string, depth int, handler func(OrderBook)) error {
	m, err := c.market(ctx, "WatchOrderBook", symbol)
	if err != nil {
		return err
	}
	log := logger.WithFields(map[string]interface{}{"exchange": KrakenFuturesID, "op": "WatchOrderBook", "symbol": symbol})

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return wrapTransport(KrakenFuturesID, "WatchOrderBook", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{"event": "subscribe", "feed": "book", "product_ids": []string{m.ID}}
	if err := conn.WriteJSON(sub); err != nil {
		return NewFault(FaultNetwork, KrakenFuturesID, "WatchOrderBook", err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(krakenPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					log.WithError(err).Debug("ping failed")
				}
			}
		}
	}()

	book := newKrakenLocalBook()
	ready := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return NewFault(FaultNetwork, KrakenFuturesID, "WatchOrderBook", err)
		}

		var msg krakenBookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.WithError(err).Debug("failed to decode message")
			continue
		}
		if msg.Event == "error" || msg.Event == "alert" {
			return NewFault(FaultExchange, KrakenFuturesID, "WatchOrderBook", errors.New(msg.Message))
		}
		if !strings.EqualFold(msg.ProductID, m.ID) {
			continue
		}

		switch msg.Feed {
		case "book_snapshot":
			book.snapshot(msg)
			ready = true
		case "book":
			if !ready {
				continue
			}
			if !book.apply(msg) {
				return NewFault(FaultNetwork, KrakenFuturesID, "WatchOrderBook", fmt.Errorf("sequence gap at %d", msg.Seq))
			}
		default:
			continue
		}
		handler(book.top(symbol, depth))
	}
}
