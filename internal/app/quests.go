package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	practiceReward  = 50
	interveneReward = 100

	practiceAttempts  = 3
	interveneAttempts = 5
)

// GenerateQuests creates quests for the owner's weakest uncovered topics. The stored
// assessment is used while no score record arrived since it was made; otherwise the
// history is analyzed again first. Returns an empty result when the owner is at the
// active quest cap.
func (e *Engine) GenerateQuests(ctx context.Context, owner string) ([]domain.Quest, error) {
	if owner == "" {
		return nil, domain.InvalidRequest("owner is required")
	}

	run, ok, err := e.store.LatestAssessment(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("latest assessment: %w", err)
	}
	assessments := run.Assessments
	if ok {
		history, err := e.store.ScoreHistory(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("score history: %w", err)
		}
		ok = run.Records == len(history)
	}
	if !ok {
		// Analysis calls the judge, so it stays outside the owner transaction.
		if assessments, err = e.AnalyzeWeakness(ctx, owner, nil); err != nil {
			return nil, err
		}
	}

	var created []domain.Quest
	var expired int
	err = e.store.WithinOwner(ctx, owner, func(ctx context.Context, tx Tx) error {
		created, expired = nil, 0
		now := e.now()
		active, n, err := e.expireOverdue(ctx, tx, owner, now)
		if err != nil {
			return err
		}
		expired = n

		free := e.policy.MaxActiveQuests - len(active)
		if free <= 0 {
			return nil
		}
		slots := min(e.policy.MaxNewQuests, free)

		covered := make(map[string]struct{})
		for _, q := range active {
			for _, topic := range q.Topics() {
				covered[topic] = struct{}{}
			}
		}
		for _, a := range assessments {
			if len(created) == slots {
				break
			}
			if a.Action < domain.ActionPractice || a.Probability < e.policy.MinWeaknessProbability {
				continue
			}
			if _, ok := covered[a.TopicID]; ok {
				continue
			}
			quest := e.newQuest(owner, a, now)
			if err := tx.InsertQuest(ctx, quest); err != nil {
				return fmt.Errorf("insert quest: %w", err)
			}
			covered[a.TopicID] = struct{}{}
			created = append(created, quest)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.QuestsExpired(expired)
	e.metrics.QuestsGenerated(len(created))
	if len(created) > 0 {
		e.feed.Publish(owner, FeedEvent{Type: EventQuestsCreated, Payload: created})
	}
	e.log.WithFields(logrus.Fields{"owner": owner, "created": len(created)}).Info("quests generated")
	if created == nil {
		created = []domain.Quest{}
	}
	return created, nil
}

func (e *Engine) newQuest(owner string, a domain.WeaknessAssessment, now time.Time) domain.Quest {
	q := domain.Quest{
		ID:        e.newID(),
		Owner:     owner,
		Name:      "Strengthen Your Skills: " + a.TopicID,
		Status:    domain.QuestActive,
		CreatedAt: now,
		ExpiresAt: now.Add(e.policy.QuestTTL),
	}
	objective := func(metric domain.ObjectiveMetric, target int) domain.QuestObjective {
		return domain.QuestObjective{
			ID:       e.newID(),
			QuestID:  q.ID,
			Position: len(q.Objectives),
			TopicID:  a.TopicID,
			Metric:   metric,
			Target:   target,
		}
	}

	if a.Action == domain.ActionIntervene {
		mastery := int(math.Round(e.policy.MasteryThreshold * 100))
		q.Reward = interveneReward
		q.Description = fmt.Sprintf("Answer %d questions on %s and raise your mastery to %d%%.", interveneAttempts, a.TopicID, mastery)
		q.Objectives = append(q.Objectives, objective(domain.MetricAttempts, interveneAttempts))
		q.Objectives = append(q.Objectives, objective(domain.MetricTopicMastery, mastery))
	} else {
		q.Reward = practiceReward
		q.Description = fmt.Sprintf("Answer %d questions on %s.", practiceAttempts, a.TopicID)
		q.Objectives = append(q.Objectives, objective(domain.MetricAttempts, practiceAttempts))
	}
	if e.policy.RewardBonusMax > 0 {
		q.Reward += e.intn(e.policy.RewardBonusMax + 1)
	}
	return q
}

// ListActiveQuests returns the owner's ACTIVE quests, newest first.
func (e *Engine) ListActiveQuests(ctx context.Context, owner string) ([]domain.Quest, error) {
	return e.ListQuests(ctx, owner, domain.QuestActive)
}

// ListQuests returns the owner's quests with the given status (all when empty), newest first.
// Overdue quests are expired before listing.
func (e *Engine) ListQuests(ctx context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	if owner == "" {
		return nil, domain.InvalidRequest("owner is required")
	}
	switch status {
	case "", domain.QuestActive, domain.QuestCompleted, domain.QuestExpired:
	default:
		return nil, domain.InvalidRequest("unknown quest status %q", status)
	}

	var quests []domain.Quest
	var expired int
	err := e.store.WithinOwner(ctx, owner, func(ctx context.Context, tx Tx) error {
		var err error
		if _, expired, err = e.expireOverdue(ctx, tx, owner, e.now()); err != nil {
			return err
		}
		quests, err = tx.ListQuests(ctx, owner, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.QuestsExpired(expired)
	if quests == nil {
		quests = []domain.Quest{}
	}
	return quests, nil
}

// expireOverdue moves overdue ACTIVE quests to EXPIRED and returns the remaining active ones.
func (e *Engine) expireOverdue(ctx context.Context, tx Tx, owner string, now time.Time) ([]domain.Quest, int, error) {
	quests, err := tx.ListQuests(ctx, owner, domain.QuestActive)
	if err != nil {
		return nil, 0, fmt.Errorf("list active quests: %w", err)
	}
	active := quests[:0]
	expired := 0
	for _, q := range quests {
		if q.ExpiresAt.IsZero() || now.Before(q.ExpiresAt) {
			active = append(active, q)
			continue
		}
		ok, err := tx.ExpireQuest(ctx, q.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("expire quest %s: %w", q.ID, err)
		}
		if ok {
			expired++
		}
	}
	return active, expired, nil
}
