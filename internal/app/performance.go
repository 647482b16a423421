package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"adaptive-assessment-service/internal/domain"
)

// recommendBelow is the rolling average under which a topic is recommended for practice.
const recommendBelow = 0.6

// PerformanceReport is an owner's per-topic performance derived from score history.
type PerformanceReport struct {
	Owner            string                           `json:"owner"`
	Topics           []domain.TopicPerformanceSummary `json:"topics"`
	RecentQuizScores []float64                        `json:"recentQuizScores"`
	Recommended      []TopicRecommendation            `json:"recommended"`
}

// TopicRecommendation flags a topic that needs practice.
type TopicRecommendation struct {
	TopicID      string  `json:"topicId"`
	Reason       string  `json:"reason"`
	AverageScore float64 `json:"averageScore"`
	Attempts     int     `json:"attempts"`
}

// Performance summarizes the owner's score history. Recommended lists topics whose
// rolling average is below 0.6, weakest first.
func (e *Engine) Performance(ctx context.Context, owner string) (PerformanceReport, error) {
	if owner == "" {
		return PerformanceReport{}, domain.InvalidRequest("owner is required")
	}
	history, err := e.store.ScoreHistory(ctx, owner)
	if err != nil {
		return PerformanceReport{}, fmt.Errorf("score history: %w", err)
	}

	report := PerformanceReport{
		Owner:            owner,
		Topics:           Summaries(history, e.policy.HistoryWindow, e.policy.RecentScores),
		RecentQuizScores: RecentQuizScores(history, e.policy.RecentQuizScores),
		Recommended:      []TopicRecommendation{},
	}
	for _, s := range report.Topics {
		if s.AverageScore >= recommendBelow {
			continue
		}
		report.Recommended = append(report.Recommended, TopicRecommendation{
			TopicID:      s.TopicID,
			Reason:       fmt.Sprintf("average score below %d%%", percent(recommendBelow)),
			AverageScore: s.AverageScore,
			Attempts:     s.Attempts,
		})
	}
	sort.SliceStable(report.Recommended, func(i, j int) bool {
		return report.Recommended[i].AverageScore < report.Recommended[j].AverageScore
	})
	return report, nil
}

// Summaries derives per-topic performance from history, which must be oldest first.
// The rolling average covers the last window topic scores (all when window <= 0) and
// RecentScores keeps the last recent of them. Output is ordered by topic id.
func Summaries(history []domain.ScoreRecord, window, recent int) []domain.TopicPerformanceSummary {
	scores := make(map[string][]float64)
	minutes := make(map[string]float64)
	for _, rec := range history {
		for _, topic := range rec.Topics() {
			score, _ := rec.TopicScore(topic)
			scores[topic] = append(scores[topic], score)
		}
		for _, res := range rec.Results {
			if res.TopicID != "" && res.Elapsed > 0 {
				minutes[res.TopicID] += res.Elapsed.Minutes()
			}
		}
	}

	out := make([]domain.TopicPerformanceSummary, 0, len(scores))
	for topic, s := range scores {
		out = append(out, domain.TopicPerformanceSummary{
			TopicID:      topic,
			AverageScore: round4(mean(tail(s, window))),
			TotalMinutes: round4(minutes[topic]),
			Attempts:     len(s),
			RecentScores: append([]float64(nil), tail(s, recent)...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// RecentQuizScores returns the overall scores of the last n records, oldest first.
func RecentQuizScores(history []domain.ScoreRecord, n int) []float64 {
	scores := make([]float64, len(history))
	for i, rec := range history {
		scores[i] = rec.Score
	}
	return append([]float64(nil), tail(scores, n)...)
}

func tail(s []float64, n int) []float64 {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
