package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

func TestSubmitQuizGradesAndNormalizes(t *testing.T) {
	h := newHarness(t, []domain.Question{
		question("capital", "geo", 1, domain.MatchExact, "Paris"),
		question("sum", "math", 1, domain.MatchNumeric, "4"),
	}, nil)
	ctx := context.Background()

	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"geo", "math"}, Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	record, err := h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{
		QuizID:  quiz.ID,
		Answers: map[string]string{"capital": "paris ", "sum": "five", "foreign": "x"},
		Elapsed: map[string]time.Duration{"capital": 30 * time.Second},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.TotalCorrect != 1 || record.Total != 2 || record.Score != 0.5 {
		t.Fatalf("expected 1/2, got %+v", record)
	}
	if len(record.Results) != 2 {
		t.Fatalf("foreign answers must not add results: %+v", record.Results)
	}
	for i, res := range record.Results {
		if res.QuestionID != quiz.QuestionIDs[i] {
			t.Fatalf("results must follow quiz order: %+v", record.Results)
		}
		if res.QuestionID == "capital" && (!res.Correct || res.Elapsed != 30*time.Second || res.TopicID != "geo") {
			t.Fatalf("unexpected capital result %+v", res)
		}
	}

	stored, err := h.engine.GetQuiz(ctx, "u1", quiz.ID)
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if stored.State != domain.QuizSubmitted || stored.Score == nil || *stored.Score != 0.5 || stored.SubmittedAt == nil {
		t.Fatalf("quiz not marked submitted: %+v", stored)
	}
}

func TestSubmitQuizTwiceKeepsFirstRecord(t *testing.T) {
	h := newHarness(t, mathQuestions(2), nil)
	ctx := context.Background()
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}, Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	first, err := h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{QuizID: quiz.ID, Answers: map[string]string{"math-00": "0"}})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err = h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{QuizID: quiz.ID, Answers: map[string]string{"math-00": "0", "math-01": "1"}})
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	history, err := h.store.ScoreHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ID != first.ID || history[0].TotalCorrect != 1 {
		t.Fatalf("history changed after resubmission: %+v", history)
	}
}

func TestSubmitQuizConcurrentlyHasOneWinner(t *testing.T) {
	h := newHarness(t, mathQuestions(3), nil)
	ctx := context.Background()
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}, Count: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{QuizID: quiz.ID})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrAlreadySubmitted):
				conflicts++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != 7 {
		t.Fatalf("expected 1 win and 7 conflicts, got %d/%d", wins, conflicts)
	}
}

func TestSubmitQuizRejectsOtherOwnersAndUnknownQuizzes(t *testing.T) {
	h := newHarness(t, mathQuestions(1), nil)
	ctx := context.Background()
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}, Count: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := h.engine.SubmitQuiz(ctx, "u2", domain.AnswerSubmission{QuizID: quiz.ID}); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{QuizID: "nope"}); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
	if _, err := h.engine.SubmitQuiz(ctx, "", domain.AnswerSubmission{QuizID: quiz.ID}); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestSubmitQuizFreeTextFallsBackToIncorrect(t *testing.T) {
	judge := &stubJudge{}
	h := newHarness(t, []domain.Question{
		question("essay", "writing", 3, domain.MatchFreeText, "photosynthesis turns light into chemical energy"),
		question("odd", "writing", 3, domain.MatchMode("regex"), "a+"),
	}, judge)
	ctx := context.Background()

	record := h.takeQuiz(t, "u1", []string{"writing"}, 2, map[string]string{
		"essay": "plants make food from light",
		"odd":   "a+",
	})
	if record.TotalCorrect != 0 {
		t.Fatalf("expected fallback to incorrect, got %+v", record)
	}
	warnings := 0
	for _, e := range h.logs.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings < 2 {
		t.Fatalf("expected a warning per fallback, got %d", warnings)
	}

	judge.freeText = func(q domain.Question, answer string) (bool, error) {
		return answer != "", nil
	}
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"writing"}, Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	record, err = h.engine.SubmitQuiz(ctx, "u1", domain.AnswerSubmission{
		QuizID:  quiz.ID,
		Answers: map[string]string{"essay": "plants make food from light"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if record.TotalCorrect != 1 {
		t.Fatalf("expected judged free-text answer to count, got %+v", record)
	}
}
