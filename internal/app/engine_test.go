package app_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/infra/memory"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type harness struct {
	engine      *app.Engine
	store       *memory.Store
	ledger      *memory.Ledger
	leaderboard *memory.Leaderboard
	judge       *stubJudge
	clock       *fakeClock
	logs        *test.Hook
}

func newHarness(t *testing.T, questions []domain.Question, judge *stubJudge) *harness {
	t.Helper()
	inv, err := memory.NewStaticInventory(nil, questions)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if judge == nil {
		judge = &stubJudge{}
	}
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		store:       memory.NewStore(),
		ledger:      memory.NewLedger(),
		leaderboard: memory.NewLeaderboard(),
		judge:       judge,
		clock:       &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		logs:        hook,
	}
	var seq atomic.Int64
	h.engine = app.NewEngine(h.store, inv, judge, app.Options{
		Ledger:      h.ledger,
		Leaderboard: h.leaderboard,
		Logger:      logger,
		Clock:       h.clock.Now,
		Rand:        rand.New(rand.NewSource(7)),
		NewID:       func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) },
	})
	return h
}

// takeQuiz generates a quiz over topics and submits answers for it.
func (h *harness) takeQuiz(t *testing.T, owner string, topics []string, count int, answers map[string]string) domain.ScoreRecord {
	t.Helper()
	ctx := context.Background()
	quiz, err := h.engine.GenerateQuiz(ctx, app.QuizRequest{Owner: owner, TopicIDs: topics, Count: count})
	if err != nil {
		t.Fatalf("generate quiz: %v", err)
	}
	record, err := h.engine.SubmitQuiz(ctx, owner, domain.AnswerSubmission{QuizID: quiz.ID, Answers: answers})
	if err != nil {
		t.Fatalf("submit quiz: %v", err)
	}
	return record
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubJudge returns fixed judgments per topic. Topics without an entry get 0.2.
type stubJudge struct {
	mu        sync.Mutex
	weakness  map[string]app.Judgment
	failTopic map[string]bool
	freeText  func(q domain.Question, answer string) (bool, error)
	calls     int
}

func (j *stubJudge) JudgeWeakness(_ context.Context, f app.TopicFeatures) (app.Judgment, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	if j.failTopic[f.TopicID] {
		return app.Judgment{}, domain.ErrJudgeUnavailable
	}
	if jd, ok := j.weakness[f.TopicID]; ok {
		return jd, nil
	}
	return app.Judgment{Probability: 0.2}, nil
}

func (j *stubJudge) JudgeFreeText(_ context.Context, q domain.Question, answer string) (bool, error) {
	if j.freeText == nil {
		return false, domain.ErrJudgeUnavailable
	}
	return j.freeText(q, answer)
}

func (j *stubJudge) weaknessCalls() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

func question(id, topic string, difficulty int, mode domain.MatchMode, answers ...string) domain.Question {
	return domain.Question{ID: id, TopicID: topic, Difficulty: difficulty, Prompt: "prompt " + id, Answers: answers, Mode: mode}
}

func mathQuestions(n int) []domain.Question {
	out := make([]domain.Question, n)
	for i := range out {
		out[i] = question(fmt.Sprintf("math-%02d", i), "math", 2, domain.MatchNumeric, fmt.Sprint(i))
	}
	return out
}

func TestEngineLeaderboardCountsCorrectAnswers(t *testing.T) {
	h := newHarness(t, []domain.Question{
		question("q1", "math", 1, domain.MatchNumeric, "1"),
		question("q2", "math", 1, domain.MatchNumeric, "2"),
	}, nil)

	h.takeQuiz(t, "u1", []string{"math"}, 2, map[string]string{"q1": "1", "q2": "2"})
	h.takeQuiz(t, "u2", []string{"math"}, 2, map[string]string{"q1": "1"})

	board, err := h.engine.Leaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board.Entries) != 2 || board.Entries[0].UserID != "u1" || board.Entries[0].Score != 2 {
		t.Fatalf("unexpected leaderboard %+v", board.Entries)
	}
}

func TestEngineSubscribeStartsWithSnapshot(t *testing.T) {
	h := newHarness(t, []domain.Question{question("q1", "math", 1, domain.MatchNumeric, "1")}, nil)
	ctx := context.Background()

	if _, _, err := h.engine.Subscribe(ctx, ""); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid request for blank owner, got %v", err)
	}

	events, cancel, err := h.engine.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	first := <-events
	if first.Type != app.EventSnapshot {
		t.Fatalf("expected snapshot first, got %s", first.Type)
	}
	if quests, ok := first.Payload.([]domain.Quest); !ok || len(quests) != 0 {
		t.Fatalf("expected empty quest snapshot, got %#v", first.Payload)
	}

	h.takeQuiz(t, "u1", []string{"math"}, 1, map[string]string{"q1": "1"})
	select {
	case ev := <-events:
		record, ok := ev.Payload.(domain.ScoreRecord)
		if ev.Type != app.EventScore || !ok || record.TotalCorrect != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no score event")
	}
}

func TestEnginePerformanceRecommendsWeakTopics(t *testing.T) {
	h := newHarness(t, []domain.Question{
		question("m1", "math", 1, domain.MatchNumeric, "1"),
		question("g1", "geo", 1, domain.MatchExact, "Paris"),
		question("h1", "history", 1, domain.MatchExact, "1066"),
	}, nil)
	ctx := context.Background()

	if _, err := h.engine.Performance(ctx, ""); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("expected invalid request for blank owner, got %v", err)
	}

	h.takeQuiz(t, "u1", []string{"math"}, 1, map[string]string{"m1": "1"})
	h.takeQuiz(t, "u1", []string{"math"}, 1, nil)
	h.takeQuiz(t, "u1", []string{"history"}, 1, map[string]string{"h1": "1066"})
	h.takeQuiz(t, "u1", []string{"geo"}, 1, nil)

	report, err := h.engine.Performance(ctx, "u1")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(report.Topics) != 3 || report.Topics[0].TopicID != "geo" || report.Topics[2].TopicID != "math" {
		t.Fatalf("expected summaries ordered by topic, got %+v", report.Topics)
	}
	if math := report.Topics[2]; math.AverageScore != 0.5 || math.Attempts != 2 {
		t.Fatalf("unexpected math summary %+v", math)
	}
	if got := report.RecentQuizScores; len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 0 {
		t.Fatalf("expected the last three quiz scores, got %v", got)
	}

	if len(report.Recommended) != 2 {
		t.Fatalf("expected geo and math to be recommended, got %+v", report.Recommended)
	}
	geo, math := report.Recommended[0], report.Recommended[1]
	if geo.TopicID != "geo" || geo.AverageScore != 0 || math.TopicID != "math" || math.AverageScore != 0.5 {
		t.Fatalf("expected weakest first, got %+v", report.Recommended)
	}
	if geo.Reason != "average score below 60%" {
		t.Fatalf("unexpected reason %q", geo.Reason)
	}

	empty, err := h.engine.Performance(ctx, "u2")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if len(empty.Topics) != 0 || len(empty.Recommended) != 0 {
		t.Fatalf("expected an empty report, got %+v", empty)
	}
}
