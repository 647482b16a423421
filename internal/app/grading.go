package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// normalizeText lowercases and collapses every whitespace run to one space.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// matchExact reports whether answer equals any canonical answer after normalization.
func matchExact(answer string, canonical []string) bool {
	got := normalizeText(answer)
	for _, c := range canonical {
		if got == normalizeText(c) {
			return true
		}
	}
	return false
}

// parseNumber accepts decimals and simple fractions such as "3/4".
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid numerator: %w", err)
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid denominator: %w", err)
		}
		if d == 0 {
			return 0, errors.New("zero denominator")
		}
		return n / d, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return f, nil
}

// matchNumeric compares within a relative tolerance of the canonical value.
// A canonical zero requires the answer to be zero.
func matchNumeric(answer string, canonical []string, tolerance float64) bool {
	got, err := parseNumber(answer)
	if err != nil {
		return false
	}
	for _, c := range canonical {
		want, err := parseNumber(c)
		if err != nil {
			continue
		}
		if want == 0 {
			if math.Abs(got) < 1e-9 {
				return true
			}
			continue
		}
		if math.Abs(got-want) <= tolerance*math.Abs(want) {
			return true
		}
	}
	return false
}

// grade decides one answer. It never fails: inference problems and unknown match
// modes are logged and graded as incorrect.
func (e *Engine) grade(ctx context.Context, q domain.Question, answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return false
	}
	switch q.Mode {
	case domain.MatchExact, "":
		return matchExact(answer, q.Answers)
	case domain.MatchNumeric:
		return matchNumeric(answer, q.Answers, e.policy.NumericTolerance)
	case domain.MatchFreeText:
		jctx, cancel := e.withInferenceTimeout(ctx)
		defer cancel()
		ok, err := e.judge.JudgeFreeText(jctx, q, answer)
		if err != nil {
			e.metrics.GradingFallback(q.Mode)
			e.log.WithError(err).WithField("question_id", q.ID).Warn("free-text judgment unavailable, grading as incorrect")
			return false
		}
		return ok
	default:
		e.metrics.GradingFallback(q.Mode)
		e.log.WithError(domain.ErrUnknownMatchMode).
			WithFields(logrus.Fields{"question_id": q.ID, "mode": q.Mode}).
			Warn("grading as incorrect")
		return false
	}
}
