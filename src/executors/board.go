package executors

import (
	"sync"
	"time"

	"marketrouter/src/planner"

	"github.com/shopspring/decimal"
)

// Plan is the last set of routes planned for an account.
type Plan struct {
	AccountID uint            `json:"account_id"`
	Value     decimal.Decimal `json:"value"`
	Routes    []planner.Route `json:"routes"`
	PlannedAt time.Time       `json:"planned_at"`
}

// Board keeps the latest Plan per account for readers outside the control loop.
type Board struct {
	mu    sync.RWMutex
	plans map[uint]Plan
}

func NewBoard() *Board {
	return &Board{plans: map[uint]Plan{}}
}

func (b *Board) Publish(p Plan) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plans[p.AccountID] = p
}

func (b *Board) Get(accountID uint) (Plan, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.plans[accountID]
	return p, ok
}
