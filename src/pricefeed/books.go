package pricefeed

import "sync"

// Books holds the latest ladder of every watched market.
type Books struct {
	mu      sync.RWMutex
	ladders map[uint]*Ladder
}

func NewBooks() *Books {
	return &Books{ladders: map[uint]*Ladder{}}
}

func (b *Books) Set(l *Ladder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladders[l.MarketID] = l
}

func (b *Books) Get(marketID uint) (*Ladder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ladders[marketID]
	return l, ok
}

func (b *Books) Delete(marketID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ladders, marketID)
}

func (b *Books) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ladders)
}
