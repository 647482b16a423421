package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/uptrace/bun"
)

// sqlTx implements app.Tx on one bun transaction.
type sqlTx struct {
	db    bun.IDB
	owner string
}

func (t *sqlTx) MarkSubmitted(ctx context.Context, quizID string, score float64, at time.Time) error {
	res, err := t.db.NewUpdate().Model((*quizModel)(nil)).
		Set("state = ?", string(domain.QuizSubmitted)).
		Set("score = ?", score).
		Set("submitted_at = ?", at.UTC()).
		Where("id = ?", quizID).
		Where("state = ?", string(domain.QuizOpen)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	exists, err := t.db.NewSelect().Model((*quizModel)(nil)).Where("id = ?", quizID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	if !exists {
		return domain.ErrQuizNotFound
	}
	return domain.ErrAlreadySubmitted
}

func (t *sqlTx) InsertScoreRecord(ctx context.Context, record domain.ScoreRecord) error {
	seq, err := t.db.NewSelect().Model((*scoreRecordModel)(nil)).Where("owner = ?", record.Owner).Count(ctx)
	if err != nil {
		return fmt.Errorf("insert score record: %w", err)
	}
	if _, err := t.db.NewInsert().Model(fromRecord(record, seq+1)).Exec(ctx); err != nil {
		return fmt.Errorf("insert score record: %w", err)
	}
	return nil
}

func (t *sqlTx) ScoreHistory(ctx context.Context, owner string) ([]domain.ScoreRecord, error) {
	if owner != t.owner {
		return nil, domain.ErrNotOwner
	}
	return scoreHistory(ctx, t.db, owner)
}

func (t *sqlTx) ListQuests(ctx context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	if owner != t.owner {
		return nil, domain.ErrNotOwner
	}
	return listQuests(ctx, t.db, owner, status)
}

func (t *sqlTx) InsertQuest(ctx context.Context, quest domain.Quest) error {
	if quest.Owner != t.owner {
		return domain.ErrNotOwner
	}
	seq, err := t.db.NewSelect().Model((*questModel)(nil)).Where("owner = ?", quest.Owner).Count(ctx)
	if err != nil {
		return fmt.Errorf("insert quest: %w", err)
	}
	model, objectives := fromQuest(quest, seq+1)
	if _, err := t.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return fmt.Errorf("insert quest: %w", err)
	}
	if len(objectives) > 0 {
		if _, err := t.db.NewInsert().Model(&objectives).Exec(ctx); err != nil {
			return fmt.Errorf("insert objectives: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) UpdateObjective(ctx context.Context, objective domain.QuestObjective) error {
	res, err := t.db.NewUpdate().Model((*objectiveModel)(nil)).
		Set("progress = CASE WHEN ? > progress THEN ? ELSE progress END", objective.Progress, objective.Progress).
		Set("completed = (completed OR ?)", objective.Completed).
		Where("id = ?", objective.ID).
		Where("quest_id = ?", objective.QuestID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update objective: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("objective %s: %w", objective.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *sqlTx) CompleteQuest(ctx context.Context, questID string, at time.Time) (bool, error) {
	res, err := t.db.NewUpdate().Model((*questModel)(nil)).
		Set("status = ?", string(domain.QuestCompleted)).
		Set("completed_at = ?", at.UTC()).
		Where("id = ?", questID).
		Where("status = ?", string(domain.QuestActive)).
		Exec(ctx)
	return t.transitioned(ctx, res, err, questID)
}

func (t *sqlTx) ExpireQuest(ctx context.Context, questID string) (bool, error) {
	res, err := t.db.NewUpdate().Model((*questModel)(nil)).
		Set("status = ?", string(domain.QuestExpired)).
		Where("id = ?", questID).
		Where("status = ?", string(domain.QuestActive)).
		Exec(ctx)
	return t.transitioned(ctx, res, err, questID)
}

// transitioned turns a conditional status update into (changed, err).
func (t *sqlTx) transitioned(ctx context.Context, res sql.Result, err error, questID string) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("quest transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	exists, err := t.db.NewSelect().Model((*questModel)(nil)).Where("id = ?", questID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("quest transition: %w", err)
	}
	if !exists {
		return false, domain.ErrQuestNotFound
	}
	return false, nil
}

func (t *sqlTx) MarkProgressApplied(ctx context.Context, questID, recordID string) (bool, error) {
	res, err := t.db.NewInsert().
		Model(&progressModel{QuestID: questID, RecordID: recordID}).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark progress applied: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (t *sqlTx) EnqueueReward(ctx context.Context, event domain.RewardEvent) error {
	var existing rewardModel
	err := t.db.NewSelect().Model(&existing).Where("reason = ?", event.Reason).Scan(ctx)
	switch {
	case err == nil:
		return fmt.Errorf("reward for quest %s: %w", event.Reason, domain.ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("enqueue reward: %w", err)
	}
	_, err = t.db.NewInsert().Model(&rewardModel{
		ID:        event.ID,
		Owner:     event.Owner,
		Amount:    event.Amount,
		Reason:    event.Reason,
		CreatedAt: event.CreatedAt.UTC(),
	}).Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue reward: %w", err)
	}
	return nil
}
