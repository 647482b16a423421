package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

const rewardBatchSize = 100

// RewardDispatcher delivers the reward outbox to the ledger. Delivery is
// at-least-once; the ledger deduplicates on the event id.
type RewardDispatcher struct {
	store   Store
	ledger  Ledger
	metrics Recorder
	log     logrus.FieldLogger
	now     func() time.Time

	mu sync.Mutex
}

func NewRewardDispatcher(store Store, ledger Ledger, metrics Recorder, log logrus.FieldLogger) *RewardDispatcher {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &RewardDispatcher{store: store, ledger: ledger, metrics: metrics, log: log, now: time.Now}
}

// Flush delivers pending events and returns how many were delivered. Events the
// ledger rejects stay pending; their errors are joined into the returned error.
func (d *RewardDispatcher) Flush(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending, err := d.store.PendingRewards(ctx, rewardBatchSize)
	if err != nil {
		return 0, fmt.Errorf("pending rewards: %w", err)
	}

	var errs []error
	delivered := 0
	for _, ev := range pending {
		if err := d.ledger.Issue(ctx, ev); err != nil {
			d.metrics.RewardFailed()
			d.log.WithError(err).WithFields(logrus.Fields{
				"owner":    ev.Owner,
				"quest_id": ev.Reason,
				"event_id": ev.ID,
			}).Error("reward issuance failed")
			errs = append(errs, fmt.Errorf("issue %s: %w", ev.ID, err))
			continue
		}
		if err := d.store.MarkRewardDelivered(ctx, ev.ID, d.now()); err != nil {
			errs = append(errs, fmt.Errorf("mark %s delivered: %w", ev.ID, err))
			continue
		}
		d.metrics.RewardDelivered()
		delivered++
	}
	return delivered, errors.Join(errs...)
}

// Run flushes every interval until ctx is done.
func (d *RewardDispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Flush(ctx); err != nil && ctx.Err() == nil {
				d.log.WithError(err).Warn("reward dispatch incomplete")
			}
		}
	}
}

// rewardFor is the reward event a completed quest issues.
func rewardFor(q domain.Quest, id string, at time.Time) domain.RewardEvent {
	return domain.RewardEvent{ID: id, Owner: q.Owner, Amount: q.Reward, Reason: q.ID, CreatedAt: at}
}
