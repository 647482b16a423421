package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

const defaultQuizName = "Generated Quiz"

// QuizRequest asks for a new quiz.
type QuizRequest struct {
	Owner        string
	Name         string
	TopicIDs     []string
	Difficulties []int
	Count        int
}

func (r QuizRequest) validate() error {
	switch {
	case r.Owner == "":
		return domain.InvalidRequest("owner is required")
	case len(r.TopicIDs) == 0:
		return domain.InvalidRequest("at least one topic is required")
	case r.Count <= 0:
		return domain.InvalidRequest("question count must be positive, got %d", r.Count)
	}
	for _, id := range r.TopicIDs {
		if strings.TrimSpace(id) == "" {
			return domain.InvalidRequest("topic id must not be blank")
		}
	}
	for _, d := range r.Difficulties {
		if d < 1 || d > 5 {
			return domain.InvalidRequest("difficulty %d outside 1..5", d)
		}
	}
	return nil
}

// GenerateQuiz draws req.Count questions uniformly without replacement from the
// questions matching the topic and difficulty filter. A smaller pool yields a short
// quiz holding the whole pool.
func (e *Engine) GenerateQuiz(ctx context.Context, req QuizRequest) (domain.QuizInstance, error) {
	if err := req.validate(); err != nil {
		return domain.QuizInstance{}, err
	}
	topics := dedupe(req.TopicIDs)
	difficulties := dedupe(req.Difficulties)

	found, err := e.inventory.FindQuestions(ctx, topics, difficulties)
	if err != nil {
		return domain.QuizInstance{}, fmt.Errorf("find questions: %w", err)
	}
	pool := filterPool(found, topics, difficulties)
	if len(pool) == 0 {
		return domain.QuizInstance{}, domain.ErrNoQuestionsAvailable
	}

	n := min(req.Count, len(pool))
	// Partial Fisher-Yates: the first n slots end up a uniform sample.
	for i := 0; i < n; i++ {
		j := i + e.intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = pool[i].ID
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultQuizName
	}
	quiz := domain.QuizInstance{
		ID:          e.newID(),
		Owner:       req.Owner,
		Name:        name,
		QuestionIDs: ids,
		Requested:   req.Count,
		State:       domain.QuizOpen,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateQuiz(ctx, quiz); err != nil {
		return domain.QuizInstance{}, fmt.Errorf("create quiz: %w", err)
	}

	e.metrics.QuizGenerated(quiz.Short())
	e.log.WithFields(logrus.Fields{
		"owner":     req.Owner,
		"quiz_id":   quiz.ID,
		"requested": req.Count,
		"actual":    n,
	}).Info("quiz generated")
	return quiz, nil
}

// GetQuiz returns one of the owner's quizzes.
func (e *Engine) GetQuiz(ctx context.Context, owner, quizID string) (domain.QuizInstance, error) {
	quiz, err := e.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizInstance{}, err
	}
	if quiz.Owner != owner {
		return domain.QuizInstance{}, domain.ErrNotOwner
	}
	return quiz, nil
}

// filterPool drops duplicates and anything outside the filter, keeping inventory order.
func filterPool(questions []domain.Question, topics []string, difficulties []int) []domain.Question {
	seen := make(map[string]struct{}, len(questions))
	pool := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if _, dup := seen[q.ID]; dup {
			continue
		}
		if !slices.Contains(topics, q.TopicID) {
			continue
		}
		if len(difficulties) > 0 && !slices.Contains(difficulties, q.Difficulty) {
			continue
		}
		seen[q.ID] = struct{}{}
		pool = append(pool, q)
	}
	return pool
}

func dedupe[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
