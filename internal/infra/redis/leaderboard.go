package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const leaderboardKey = "leaderboard:correct"

// Leaderboard keeps per-owner totals in a sorted set so every instance shares one board.
type Leaderboard struct {
	client *redis.Client
	clock  func() time.Time
}

func NewLeaderboard(client *redis.Client) *Leaderboard {
	return &Leaderboard{client: client, clock: time.Now}
}

func (l *Leaderboard) RecordScore(ctx context.Context, owner string, points int) error {
	if points <= 0 {
		return nil
	}
	pipe := l.client.TxPipeline()
	pipe.ZIncrBy(ctx, leaderboardKey, float64(points), owner)
	pipe.Set(ctx, leaderboardKey+":updated", l.clock().UnixMilli(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}

func (l *Leaderboard) Top(ctx context.Context, limit int) (domain.Leaderboard, error) {
	if limit <= 0 {
		return domain.Leaderboard{Entries: []domain.LeaderboardEntry{}}, nil
	}
	members, err := l.client.ZRevRangeWithScores(ctx, leaderboardKey, 0, int64(limit-1)).Result()
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("read leaderboard: %w", err)
	}
	board := domain.Leaderboard{Entries: make([]domain.LeaderboardEntry, 0, len(members))}
	for _, m := range members {
		board.Entries = append(board.Entries, domain.LeaderboardEntry{
			UserID: fmt.Sprint(m.Member),
			Score:  int(m.Score),
		})
	}
	updated, err := l.client.Get(ctx, leaderboardKey+":updated").Result()
	if err == nil {
		if ms, err := strconv.ParseInt(updated, 10, 64); err == nil {
			board.UpdatedAt = time.UnixMilli(ms).UTC()
		}
	}
	return board, nil
}
