// Package inference provides the judges the engine consults for weakness and
// free-text grading decisions.
package inference

import (
	"context"
	"math"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
)

// Heuristic weights. They sum to 1 so p stays within 0..1 before clamping.
const (
	weightAverage = 0.6
	weightRecent  = 0.25
	weightTime    = 0.15

	// minutes per attempt at which the time factor saturates
	slowAttemptMinutes = 10.0

	// topics averaging below this are always at least PRACTICE
	weakAverage      = 0.6
	weakAverageFloor = 0.5
)

// Heuristic is a deterministic judge that needs no model. It cannot grade free text.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (Heuristic) JudgeWeakness(ctx context.Context, f app.TopicFeatures) (app.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return app.Judgment{}, err
	}
	p := HeuristicProbability(f)
	return app.Judgment{Probability: p, Action: domain.ActionLevelFor(p)}, nil
}

func (Heuristic) JudgeFreeText(context.Context, domain.Question, string) (bool, error) {
	return false, domain.ErrJudgeUnavailable
}

// HeuristicProbability blends low average, low recent results and slow answering.
func HeuristicProbability(f app.TopicFeatures) float64 {
	recent := f.AverageScore
	switch {
	case len(f.RecentTopicScores) > 0:
		recent = meanOf(f.RecentTopicScores)
	case len(f.RecentQuizScores) > 0:
		recent = meanOf(f.RecentQuizScores)
	}
	attempts := math.Max(1, float64(f.Attempts))
	timeFactor := clamp01(f.Minutes / attempts / slowAttemptMinutes)

	p := clamp01(weightAverage*(1-f.AverageScore) + weightRecent*(1-recent) + weightTime*timeFactor)
	if f.AverageScore < weakAverage {
		p = math.Max(p, weakAverageFloor)
	}
	return math.Round(p*10000) / 10000
}

func meanOf(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
