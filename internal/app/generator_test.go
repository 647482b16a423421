package app_test

import (
	"context"
	"errors"
	"testing"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
)

func TestGenerateQuizShortPoolReturnsWholePool(t *testing.T) {
	questions := []domain.Question{
		question("t1-a", "T1", 2, domain.MatchExact, "a"),
		question("t1-b", "T1", 2, domain.MatchExact, "b"),
		question("t1-c", "T1", 2, domain.MatchExact, "c"),
		question("t1-d", "T1", 4, domain.MatchExact, "d"),
		question("t2-a", "T2", 2, domain.MatchExact, "a"),
	}
	h := newHarness(t, questions, nil)

	quiz, err := h.engine.GenerateQuiz(context.Background(), app.QuizRequest{
		Owner: "u1", TopicIDs: []string{"T1"}, Difficulties: []int{2}, Count: 10,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(quiz.QuestionIDs) != 3 || !quiz.Short() || quiz.Requested != 10 {
		t.Fatalf("expected short quiz of 3, got %+v", quiz)
	}
	got := map[string]bool{}
	for _, id := range quiz.QuestionIDs {
		got[id] = true
	}
	for _, id := range []string{"t1-a", "t1-b", "t1-c"} {
		if !got[id] {
			t.Fatalf("expected %s in quiz, got %v", id, quiz.QuestionIDs)
		}
	}
	if quiz.State != domain.QuizOpen || quiz.Name != "Generated Quiz" || quiz.Owner != "u1" {
		t.Fatalf("unexpected quiz metadata %+v", quiz)
	}
}

func TestGenerateQuizSamplesWithoutReplacementWithinFilter(t *testing.T) {
	questions := append(mathQuestions(12),
		question("geo-1", "geo", 2, domain.MatchExact, "x"),
		question("math-hard", "math", 5, domain.MatchNumeric, "9"),
	)
	h := newHarness(t, questions, nil)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{
			Owner: "u1", TopicIDs: []string{"math"}, Difficulties: []int{2}, Count: 5,
		})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(quiz.QuestionIDs) != 5 || quiz.Short() {
			t.Fatalf("expected 5 questions, got %v", quiz.QuestionIDs)
		}
		seen := map[string]bool{}
		for _, id := range quiz.QuestionIDs {
			if seen[id] {
				t.Fatalf("duplicate question %s in %v", id, quiz.QuestionIDs)
			}
			seen[id] = true
			if id == "geo-1" || id == "math-hard" {
				t.Fatalf("question %s is outside the filter", id)
			}
		}
	}
}

func TestGenerateQuizCoversWholePoolAcrossDraws(t *testing.T) {
	h := newHarness(t, mathQuestions(6), nil)
	counts := map[string]int{}
	for i := 0; i < 300; i++ {
		quiz, err := h.engine.GenerateQuiz(context.Background(), app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}, Count: 1})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		counts[quiz.QuestionIDs[0]]++
	}
	if len(counts) != 6 {
		t.Fatalf("expected every question to be drawn at least once, got %v", counts)
	}
}

func TestGenerateQuizValidation(t *testing.T) {
	h := newHarness(t, mathQuestions(3), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  app.QuizRequest
		want domain.Kind
	}{
		{"no owner", app.QuizRequest{TopicIDs: []string{"math"}, Count: 1}, domain.KindInvalidRequest},
		{"no topics", app.QuizRequest{Owner: "u1", Count: 1}, domain.KindInvalidRequest},
		{"blank topic", app.QuizRequest{Owner: "u1", TopicIDs: []string{" "}, Count: 1}, domain.KindInvalidRequest},
		{"zero count", app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}}, domain.KindInvalidRequest},
		{"bad difficulty", app.QuizRequest{Owner: "u1", TopicIDs: []string{"math"}, Difficulties: []int{6}, Count: 1}, domain.KindInvalidRequest},
		{"empty pool", app.QuizRequest{Owner: "u1", TopicIDs: []string{"history"}, Count: 1}, domain.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.GenerateQuiz(ctx, tc.req)
			if got := domain.KindOf(err); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, err)
			}
		})
	}

	_, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", TopicIDs: []string{"history"}, Count: 1})
	if !errors.Is(err, domain.ErrNoQuestionsAvailable) {
		t.Fatalf("expected ErrNoQuestionsAvailable, got %v", err)
	}
}

func TestGetQuizChecksOwnership(t *testing.T) {
	h := newHarness(t, mathQuestions(2), nil)
	ctx := context.Background()
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: "u1", Name: "  Warmup ", TopicIDs: []string{"math"}, Count: 2})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if quiz.Name != "Warmup" {
		t.Fatalf("expected trimmed name, got %q", quiz.Name)
	}

	got, err := h.engine.GetQuiz(ctx, "u1", quiz.ID)
	if err != nil || got.ID != quiz.ID {
		t.Fatalf("get quiz: %+v %v", got, err)
	}
	if _, err := h.engine.GetQuiz(ctx, "u2", quiz.ID); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, err := h.engine.GetQuiz(ctx, "u1", "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}
