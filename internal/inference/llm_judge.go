package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/llm"
)

// WeaknessSchema constrains weakness judgments.
var WeaknessSchema = &llm.Schema{
	Name:        "topic-weakness",
	Description: "Probability that a learner is weak on a topic and the recommended action",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"probability": map[string]any{
				"type":        "number",
				"minimum":     0.0,
				"maximum":     1.0,
				"description": "Probability (0.0-1.0) that the learner is weak on the topic",
			},
			"action": map[string]any{
				"type":        "string",
				"enum":        []any{"MONITOR", "PRACTICE", "INTERVENE"},
				"description": "Recommended intervention tier",
			},
			"reasoning": map[string]any{
				"type":        "string",
				"description": "One sentence explaining the judgment",
			},
		},
		"required":             []any{"probability", "action", "reasoning"},
		"additionalProperties": false,
	},
}

// FreeTextSchema constrains free-text grading.
var FreeTextSchema = &llm.Schema{
	Name:        "free-text-grade",
	Description: "Whether a learner's free-text answer is correct",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"correct":   map[string]any{"type": "boolean"},
			"reasoning": map[string]any{"type": "string"},
		},
		"required":             []any{"correct", "reasoning"},
		"additionalProperties": false,
	},
}

const weaknessSystemPrompt = `You assess a learner's weakness on one curriculum topic from performance features.
Scores are fractions between 0 and 1. Respond only with the requested JSON.`

const freeTextSystemPrompt = `You grade a learner's free-text answer against reference answers.
Accept answers that express the same meaning; ignore spelling and formatting differences.
Respond only with the requested JSON.`

var weaknessTmpl = template.Must(template.New("weakness").Parse(`Topic: {{.TopicID}}
Average score: {{printf "%.2f" .AverageScore}}
Recent topic scores (oldest first): {{range $i, $s := .RecentTopicScores}}{{if $i}}, {{end}}{{printf "%.2f" $s}}{{else}}none{{end}}
Recent quiz scores (oldest first): {{range $i, $s := .RecentQuizScores}}{{if $i}}, {{end}}{{printf "%.2f" $s}}{{else}}none{{end}}
Minutes spent: {{printf "%.1f" .Minutes}}
Attempts: {{.Attempts}}`))

var freeTextTmpl = template.Must(template.New("free-text").Parse(`Question: {{.Prompt}}
Reference answers:
{{range .Answers}}- {{.}}
{{end}}Learner answer: {{.Answer}}`))

// LLMJudge asks a hosted model for judgments.
type LLMJudge struct {
	provider    llm.Provider
	maxTokens   int
	temperature float64
}

func NewLLMJudge(provider llm.Provider) *LLMJudge {
	return &LLMJudge{provider: provider, maxTokens: 256, temperature: 0.2}
}

type weaknessOutput struct {
	Probability float64 `json:"probability"`
	Action      string  `json:"action"`
	Reasoning   string  `json:"reasoning"`
}

type freeTextOutput struct {
	Correct   bool   `json:"correct"`
	Reasoning string `json:"reasoning"`
}

func (j *LLMJudge) JudgeWeakness(ctx context.Context, f app.TopicFeatures) (app.Judgment, error) {
	var prompt bytes.Buffer
	if err := weaknessTmpl.Execute(&prompt, f); err != nil {
		return app.Judgment{}, fmt.Errorf("build weakness prompt: %w", err)
	}
	var out weaknessOutput
	if err := j.generate(ctx, weaknessSystemPrompt, prompt.String(), WeaknessSchema, &out); err != nil {
		return app.Judgment{}, err
	}
	return app.Judgment{Probability: out.Probability, Action: parseAction(out.Action)}, nil
}

func (j *LLMJudge) JudgeFreeText(ctx context.Context, q domain.Question, answer string) (bool, error) {
	var prompt bytes.Buffer
	err := freeTextTmpl.Execute(&prompt, struct {
		Prompt  string
		Answers []string
		Answer  string
	}{q.Prompt, q.Answers, strings.TrimSpace(answer)})
	if err != nil {
		return false, fmt.Errorf("build free-text prompt: %w", err)
	}
	var out freeTextOutput
	if err := j.generate(ctx, freeTextSystemPrompt, prompt.String(), FreeTextSchema, &out); err != nil {
		return false, err
	}
	return out.Correct, nil
}

func (j *LLMJudge) generate(ctx context.Context, system, user string, schema *llm.Schema, out any) error {
	resp, err := j.provider.Generate(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: user}},
		Schema:      schema,
		MaxTokens:   j.maxTokens,
		Temperature: j.temperature,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}
	if err := json.Unmarshal(resp.Content, out); err != nil {
		return fmt.Errorf("%w: parse %s response: %v", domain.ErrJudgeUnavailable, schema.Name, err)
	}
	return nil
}

// parseAction maps a level name to an ActionLevel. Unknown names yield an invalid
// level, which the engine repairs from the probability.
func parseAction(s string) domain.ActionLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MONITOR":
		return domain.ActionMonitor
	case "PRACTICE":
		return domain.ActionPractice
	case "INTERVENE":
		return domain.ActionIntervene
	default:
		return 0
	}
}
