package memory

import (
	"context"
	"sync"

	"adaptive-assessment-service/internal/domain"
)

// Ledger is an in-memory currency ledger. Re-issuing an event id is a no-op.
type Ledger struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	events   []domain.RewardEvent
	balances map[string]int
	failNext error
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{}), balances: make(map[string]int)}
}

func (l *Ledger) Issue(_ context.Context, event domain.RewardEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failNext; err != nil {
		l.failNext = nil
		return err
	}
	if _, ok := l.seen[event.ID]; ok {
		return nil
	}
	l.seen[event.ID] = struct{}{}
	l.events = append(l.events, event)
	l.balances[event.Owner] += event.Amount
	return nil
}

// FailNext makes the next Issue call return err.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Events returns issued events in issue order.
func (l *Ledger) Events() []domain.RewardEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.RewardEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Balance returns the currency issued to owner.
func (l *Ledger) Balance(owner string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner]
}
