package inference

import (
	"context"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/llm"
	"github.com/sirupsen/logrus"
)

// New returns the heuristic judge for provider "heuristic" (or empty) and an
// LLM-backed judge otherwise.
func New(ctx context.Context, cfg llm.Config, log logrus.FieldLogger) (app.Judge, error) {
	if cfg.Provider == "" || cfg.Provider == "heuristic" {
		return NewHeuristic(), nil
	}
	provider, err := llm.NewProvider(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return NewLLMJudge(provider), nil
}
