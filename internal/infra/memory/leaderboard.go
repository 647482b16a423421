package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
)

// Leaderboard keeps total correct answers per owner in memory.
type Leaderboard struct {
	now func() time.Time

	mu      sync.RWMutex
	scores  map[string]int
	reached map[string]time.Time
}

func NewLeaderboard() *Leaderboard {
	return NewLeaderboardWithClock(time.Now)
}

// NewLeaderboardWithClock is test-only for deterministic tie-breaks.
func NewLeaderboardWithClock(now func() time.Time) *Leaderboard {
	return &Leaderboard{now: now, scores: make(map[string]int), reached: make(map[string]time.Time)}
}

func (l *Leaderboard) RecordScore(_ context.Context, owner string, points int) error {
	if points <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[owner] += points
	l.reached[owner] = l.now()
	return nil
}

// Top orders by score desc, then by who reached the score earlier, then user id.
func (l *Leaderboard) Top(_ context.Context, limit int) (domain.Leaderboard, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]domain.LeaderboardEntry, 0, len(l.scores))
	for owner, score := range l.scores {
		entries = append(entries, domain.LeaderboardEntry{UserID: owner, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ri, rj := l.reached[entries[i].UserID], l.reached[entries[j].UserID]
		if !ri.Equal(rj) {
			return ri.Before(rj)
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return domain.Leaderboard{Entries: entries, UpdatedAt: l.now()}, nil
}
