package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WeaknessFeatures is a caller-supplied feature vector. Topics are the keys of
// AverageScorePerTopic; minutes for other topics are ignored.
type WeaknessFeatures struct {
	AverageScorePerTopic     map[string]float64 `json:"averageScorePerTopic"`
	RecentQuizScores         []float64          `json:"recentQuizScores"`
	TimeSpentPerTopicMinutes map[string]float64 `json:"timeSpentPerTopicMinutes"`
}

func (f WeaknessFeatures) validate() error {
	for topic, avg := range f.AverageScorePerTopic {
		if topic == "" {
			return domain.InvalidRequest("blank topic id in features")
		}
		if math.IsNaN(avg) || avg < 0 || avg > 1 {
			return domain.InvalidRequest("average score for %q must be within 0..1", topic)
		}
	}
	for _, s := range f.RecentQuizScores {
		if math.IsNaN(s) || s < 0 || s > 1 {
			return domain.InvalidRequest("recent quiz scores must be within 0..1")
		}
	}
	for topic, m := range f.TimeSpentPerTopicMinutes {
		if math.IsNaN(m) || m < 0 {
			return domain.InvalidRequest("minutes for %q must not be negative", topic)
		}
	}
	return nil
}

// AnalyzeWeakness judges every topic and returns assessments most-weak first.
// With features == nil the features are derived from the owner's score history and the
// result replaces the owner's stored assessment. Explicit features are never stored.
// Topics whose judgment is unavailable are omitted.
func (e *Engine) AnalyzeWeakness(ctx context.Context, owner string, features *WeaknessFeatures) ([]domain.WeaknessAssessment, error) {
	if owner == "" {
		return nil, domain.InvalidRequest("owner is required")
	}

	var inputs []TopicFeatures
	records := 0
	if features != nil {
		if err := features.validate(); err != nil {
			return nil, err
		}
		inputs = explicitFeatures(*features)
	} else {
		history, err := e.store.ScoreHistory(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("score history: %w", err)
		}
		inputs = e.historyFeatures(history)
		records = len(history)
	}

	assessments, err := e.judgeTopics(ctx, owner, inputs)
	if err != nil {
		return nil, err
	}

	if features == nil {
		run := domain.AssessmentRun{Records: records, Assessments: assessments}
		if err := e.store.SaveAssessment(ctx, owner, run); err != nil {
			return nil, fmt.Errorf("save assessment: %w", err)
		}
	}
	e.log.WithFields(logrus.Fields{
		"owner":    owner,
		"topics":   len(inputs),
		"assessed": len(assessments),
		"explicit": features != nil,
	}).Info("weakness analyzed")
	return assessments, nil
}

func (e *Engine) historyFeatures(history []domain.ScoreRecord) []TopicFeatures {
	summaries := Summaries(history, e.policy.HistoryWindow, e.policy.RecentScores)
	recent := RecentQuizScores(history, e.policy.RecentQuizScores)
	out := make([]TopicFeatures, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, TopicFeatures{
			TopicID:           s.TopicID,
			AverageScore:      s.AverageScore,
			RecentTopicScores: s.RecentScores,
			RecentQuizScores:  recent,
			Minutes:           s.TotalMinutes,
			Attempts:          s.Attempts,
		})
	}
	return out
}

func explicitFeatures(f WeaknessFeatures) []TopicFeatures {
	out := make([]TopicFeatures, 0, len(f.AverageScorePerTopic))
	for topic, avg := range f.AverageScorePerTopic {
		out = append(out, TopicFeatures{
			TopicID:          topic,
			AverageScore:     avg,
			RecentQuizScores: f.RecentQuizScores,
			Minutes:          f.TimeSpentPerTopicMinutes[topic],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// judgeTopics runs one bounded-concurrency judgment per topic.
func (e *Engine) judgeTopics(ctx context.Context, owner string, inputs []TopicFeatures) ([]domain.WeaknessAssessment, error) {
	results := make([]*domain.WeaknessAssessment, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	if e.policy.JudgeConcurrency > 0 {
		g.SetLimit(e.policy.JudgeConcurrency)
	}
	for i, in := range inputs {
		g.Go(func() error {
			jctx, cancel := e.withInferenceTimeout(gctx)
			defer cancel()
			j, err := e.judge.JudgeWeakness(jctx, in)
			if err == nil && math.IsNaN(j.Probability) {
				err = fmt.Errorf("judge returned NaN: %w", domain.ErrJudgeUnavailable)
			}
			if err != nil {
				e.metrics.JudgmentUnavailable()
				e.log.WithError(err).WithFields(logrus.Fields{"owner": owner, "topic": in.TopicID}).
					Warn("weakness judgment unavailable, topic omitted")
				return nil
			}
			p := clamp01(j.Probability)
			action := j.Action
			if !action.Valid() {
				action = domain.ActionLevelFor(p)
			}
			results[i] = &domain.WeaknessAssessment{
				Owner:        owner,
				TopicID:      in.TopicID,
				Probability:  round4(p),
				Action:       action,
				AverageScore: in.AverageScore,
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.WeaknessAssessment, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	SortAssessments(out)
	return out, nil
}

// SortAssessments orders by probability descending, then average score ascending, then topic id.
func SortAssessments(a []domain.WeaknessAssessment) {
	sort.SliceStable(a, func(i, j int) bool {
		if a[i].Probability != a[j].Probability {
			return a[i].Probability > a[j].Probability
		}
		if a[i].AverageScore != a[j].AverageScore {
			return a[i].AverageScore < a[j].AverageScore
		}
		return a[i].TopicID < a[j].TopicID
	})
}
