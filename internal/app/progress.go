package app

import (
	"context"
	"fmt"
	"math"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// QuestUpdate describes how one quest changed after a score record was applied.
type QuestUpdate struct {
	Quest     domain.Quest        `json:"quest"`
	Completed bool                `json:"completed"`
	Reward    *domain.RewardEvent `json:"reward,omitempty"`
}

// RecordProgress applies record to the owner's active quests. Applying the same
// record twice changes nothing the second time.
func (e *Engine) RecordProgress(ctx context.Context, owner string, record domain.ScoreRecord) ([]QuestUpdate, error) {
	switch {
	case owner == "":
		return nil, domain.InvalidRequest("owner is required")
	case record.ID == "":
		return nil, domain.InvalidRequest("score record id is required")
	case record.Owner != owner:
		return nil, domain.ErrNotOwner
	}

	var updates []QuestUpdate
	var expired int
	err := e.store.WithinOwner(ctx, owner, func(ctx context.Context, tx Tx) error {
		history, err := tx.ScoreHistory(ctx, owner)
		if err != nil {
			return fmt.Errorf("score history: %w", err)
		}
		if !containsRecord(history, record.ID) {
			history = append(history, record)
		}
		updates, expired, err = e.applyProgress(ctx, tx, owner, record, history)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.QuestsExpired(expired)
	e.afterProgress(ctx, owner, updates)
	return updates, nil
}

// applyProgress runs inside the owner transaction. history must already contain record.
func (e *Engine) applyProgress(ctx context.Context, tx Tx, owner string, record domain.ScoreRecord, history []domain.ScoreRecord) ([]QuestUpdate, int, error) {
	now := e.now()
	active, expired, err := e.expireOverdue(ctx, tx, owner, now)
	if err != nil {
		return nil, 0, err
	}
	if len(active) == 0 {
		return nil, expired, nil
	}

	touched := make(map[string]struct{})
	for _, topic := range record.Topics() {
		touched[topic] = struct{}{}
	}
	mastery := make(map[string]float64)
	for _, s := range Summaries(history, e.policy.HistoryWindow, 0) {
		mastery[s.TopicID] = s.AverageScore
	}
	overall := mean(tail(RecentQuizScores(history, 0), e.policy.HistoryWindow))

	var updates []QuestUpdate
	for _, q := range active {
		fresh, err := tx.MarkProgressApplied(ctx, q.ID, record.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("mark progress applied: %w", err)
		}
		if !fresh {
			continue
		}

		changed := false
		for i := range q.Objectives {
			o := &q.Objectives[i]
			if o.Completed {
				continue
			}
			if o.TopicID != "" {
				if _, ok := touched[o.TopicID]; !ok {
					continue
				}
			}
			next := nextProgress(*o, record, mastery, overall)
			if next <= o.Progress {
				continue
			}
			o.Progress = next
			o.Completed = o.Progress >= o.Target
			if err := tx.UpdateObjective(ctx, *o); err != nil {
				return nil, 0, fmt.Errorf("update objective: %w", err)
			}
			changed = true
		}
		if !changed {
			continue
		}

		update := QuestUpdate{}
		if allObjectivesMet(q) {
			ok, err := tx.CompleteQuest(ctx, q.ID, now)
			if err != nil {
				return nil, 0, fmt.Errorf("complete quest: %w", err)
			}
			if ok {
				completedAt := now
				q.Status = domain.QuestCompleted
				q.CompletedAt = &completedAt
				reward := rewardFor(q, e.newID(), now)
				if err := tx.EnqueueReward(ctx, reward); err != nil {
					return nil, 0, fmt.Errorf("enqueue reward: %w", err)
				}
				update.Completed = true
				update.Reward = &reward
			}
		}
		update.Quest = q
		updates = append(updates, update)
	}
	return updates, expired, nil
}

// nextProgress is the candidate progress of o after record. Callers keep the max.
func nextProgress(o domain.QuestObjective, record domain.ScoreRecord, mastery map[string]float64, overall float64) int {
	switch o.Metric {
	case domain.MetricAttempts:
		return min(o.Progress+record.Answered(o.TopicID), o.Target)
	case domain.MetricScoreThreshold:
		score := record.Score
		if o.TopicID != "" {
			score, _ = record.TopicScore(o.TopicID)
		}
		return max(o.Progress, percent(score))
	case domain.MetricTopicMastery:
		avg := overall
		if o.TopicID != "" {
			avg = mastery[o.TopicID]
		}
		return max(o.Progress, percent(avg))
	default:
		return o.Progress
	}
}

func percent(v float64) int {
	return int(math.Round(v * 100))
}

func allObjectivesMet(q domain.Quest) bool {
	for _, o := range q.Objectives {
		if !o.Completed {
			return false
		}
	}
	return len(q.Objectives) > 0
}

func containsRecord(history []domain.ScoreRecord, id string) bool {
	for _, r := range history {
		if r.ID == id {
			return true
		}
	}
	return false
}

// afterProgress publishes quest events and flushes rewards once the transaction committed.
func (e *Engine) afterProgress(ctx context.Context, owner string, updates []QuestUpdate) {
	completed := 0
	for _, u := range updates {
		if u.Completed {
			completed++
			e.metrics.QuestCompleted()
			e.feed.Publish(owner, FeedEvent{Type: EventQuestCompleted, Payload: u})
			e.log.WithFields(logrus.Fields{
				"owner":    owner,
				"quest_id": u.Quest.ID,
				"reward":   u.Quest.Reward,
			}).Info("quest completed")
			continue
		}
		e.feed.Publish(owner, FeedEvent{Type: EventQuestProgress, Payload: u})
	}
	if completed > 0 && e.rewards != nil {
		if _, err := e.rewards.Flush(ctx); err != nil {
			e.log.WithError(err).WithField("owner", owner).Error("reward flush failed, dispatcher will retry")
		}
	}
}
