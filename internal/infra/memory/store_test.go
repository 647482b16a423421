package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
)

func TestStoreQuizLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quiz := domain.QuizInstance{ID: "quiz-1", Owner: "u1", QuestionIDs: []string{"q1"}, Requested: 1, State: domain.QuizOpen}
	if err := store.CreateQuiz(ctx, quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	if err := store.CreateQuiz(ctx, quiz); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		return tx.MarkSubmitted(ctx, "quiz-1", 1, time.Now())
	})
	if err != nil {
		t.Fatalf("mark submitted: %v", err)
	}
	err = store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		return tx.MarkSubmitted(ctx, "quiz-1", 1, time.Now())
	})
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}

	got, err := store.GetQuiz(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if got.State != domain.QuizSubmitted || got.Score == nil || *got.Score != 1 {
		t.Fatalf("unexpected quiz %+v", got)
	}
	if _, err := store.GetQuiz(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreRollsBackFailedTransaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")

	err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		if err := tx.InsertScoreRecord(ctx, domain.ScoreRecord{ID: "r1", Owner: "u1"}); err != nil {
			return err
		}
		if err := tx.InsertQuest(ctx, sampleQuest("quest-1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	history, _ := store.ScoreHistory(ctx, "u1")
	quests, _ := store.ListQuests(ctx, "u1", "")
	if len(history) != 0 || len(quests) != 0 {
		t.Fatalf("expected rollback, got %d records %d quests", len(history), len(quests))
	}
}

func TestStoreQuestTransitionsAreConditional(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now()

	err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		if err := tx.InsertQuest(ctx, sampleQuest("quest-1", now)); err != nil {
			return err
		}
		ok, err := tx.CompleteQuest(ctx, "quest-1", now)
		if err != nil || !ok {
			t.Fatalf("first completion: ok=%v err=%v", ok, err)
		}
		ok, err = tx.CompleteQuest(ctx, "quest-1", now)
		if err != nil || ok {
			t.Fatalf("second completion should be a no-op: ok=%v err=%v", ok, err)
		}
		ok, err = tx.ExpireQuest(ctx, "quest-1")
		if err != nil || ok {
			t.Fatalf("expiring a completed quest should be a no-op: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within owner: %v", err)
	}
	completed, _ := store.ListQuests(ctx, "u1", domain.QuestCompleted)
	if len(completed) != 1 || completed[0].CompletedAt == nil {
		t.Fatalf("expected one completed quest, got %+v", completed)
	}
}

func TestStoreObjectiveProgressNeverDecreases(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quest := sampleQuest("quest-1", time.Now())

	err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		if err := tx.InsertQuest(ctx, quest); err != nil {
			return err
		}
		o := quest.Objectives[0]
		o.Progress = 2
		if err := tx.UpdateObjective(ctx, o); err != nil {
			return err
		}
		o.Progress = 1
		return tx.UpdateObjective(ctx, o)
	})
	if err != nil {
		t.Fatalf("within owner: %v", err)
	}
	quests, _ := store.ListQuests(ctx, "u1", domain.QuestActive)
	if quests[0].Objectives[0].Progress != 2 {
		t.Fatalf("expected progress 2, got %d", quests[0].Objectives[0].Progress)
	}
}

func TestStoreProgressAppliedOnce(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for i, want := range []bool{true, false} {
		err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
			got, err := tx.MarkProgressApplied(ctx, "quest-1", "r1")
			if err != nil {
				return err
			}
			if got != want {
				t.Fatalf("call %d: expected %v, got %v", i, want, got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("within owner: %v", err)
		}
	}
}

func TestStoreRewardOutbox(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ev := domain.RewardEvent{ID: "ev-1", Owner: "u1", Amount: 50, Reason: "quest-1", CreatedAt: time.Now()}

	if err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		return tx.EnqueueReward(ctx, ev)
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	err := store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
		dup := ev
		dup.ID = "ev-2"
		return tx.EnqueueReward(ctx, dup)
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for a second reward on the same quest, got %v", err)
	}

	pending, _ := store.PendingRewards(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(pending))
	}
	if err := store.MarkRewardDelivered(ctx, "ev-1", time.Now()); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	pending, _ = store.PendingRewards(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending, got %d", len(pending))
	}
}

func TestStoreSerializesOwnerTransactions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.WithinOwner(ctx, "u1", func(ctx context.Context, tx app.Tx) error {
				return tx.InsertScoreRecord(ctx, domain.ScoreRecord{ID: string(rune('a' + i%26)), Owner: "u1"})
			})
		}(i)
	}
	wg.Wait()

	history, _ := store.ScoreHistory(ctx, "u1")
	if len(history) != 50 {
		t.Fatalf("expected 50 records, got %d", len(history))
	}
	if store.locks.Len() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", store.locks.Len())
	}
}

func TestStoreAssessment(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if _, ok, _ := store.LatestAssessment(ctx, "u1"); ok {
		t.Fatalf("expected no assessment")
	}
	if err := store.SaveAssessment(ctx, "u1", domain.AssessmentRun{Records: 2}); err != nil {
		t.Fatalf("save: %v", err)
	}
	run, ok, _ := store.LatestAssessment(ctx, "u1")
	if !ok || run.Records != 2 || len(run.Assessments) != 0 {
		t.Fatalf("expected an empty run over two records, got %+v ok=%v", run, ok)
	}
}

func sampleQuest(id string, now time.Time) domain.Quest {
	return domain.Quest{
		ID:        id,
		Owner:     "u1",
		Name:      "Strengthen Your Skills: fractions",
		Status:    domain.QuestActive,
		Reward:    50,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		Objectives: []domain.QuestObjective{
			{ID: id + "-o1", QuestID: id, TopicID: "fractions", Metric: domain.MetricAttempts, Target: 3},
		},
	}
}

func sampleReward() domain.RewardEvent {
	return domain.RewardEvent{ID: "ev-1", Owner: "u1", Amount: 50, Reason: "quest-1", CreatedAt: time.Now()}
}
