package sqlstore

import (
	"context"
	"fmt"

	"adaptive-assessment-service/internal/domain"
	"github.com/uptrace/bun"
)

// Inventory reads topics and questions from the store's own tables.
type Inventory struct {
	db *bun.DB
}

func NewInventory(db *bun.DB) *Inventory {
	return &Inventory{db: db}
}

func (i *Inventory) FindQuestions(ctx context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	var rows []questionModel
	q := i.db.NewSelect().Model(&rows).Where("topic_id IN (?)", bun.In(topicIDs)).Order("id ASC")
	if len(difficulties) > 0 {
		q = q.Where("difficulty IN (?)", bun.In(difficulties))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	out := make([]domain.Question, len(rows))
	for idx, r := range rows {
		out[idx] = r.toDomain()
	}
	return out, nil
}

func (i *Inventory) Lookup(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []questionModel
	if err := i.db.NewSelect().Model(&rows).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("lookup questions: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toDomain()
	}
	return out, nil
}

// Seed upserts topics and questions, replacing existing rows with the same id.
func Seed(ctx context.Context, db *bun.DB, topics []domain.Topic, questions []domain.Question) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(topics) > 0 {
			rows := make([]topicModel, len(topics))
			for i, t := range topics {
				rows[i] = topicModel{ID: t.ID, Subject: t.Subject, Name: t.Name}
			}
			_, err := tx.NewInsert().Model(&rows).
				On("CONFLICT (id) DO UPDATE").
				Set("subject = EXCLUDED.subject").
				Set("name = EXCLUDED.name").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("seed topics: %w", err)
			}
		}
		if len(questions) > 0 {
			rows := make([]questionModel, len(questions))
			for i, q := range questions {
				rows[i] = questionModel{
					ID:         q.ID,
					TopicID:    q.TopicID,
					Difficulty: q.Difficulty,
					Prompt:     q.Prompt,
					Answers:    q.Answers,
					Mode:       string(q.Mode),
				}
			}
			_, err := tx.NewInsert().Model(&rows).
				On("CONFLICT (id) DO UPDATE").
				Set("topic_id = EXCLUDED.topic_id").
				Set("difficulty = EXCLUDED.difficulty").
				Set("prompt = EXCLUDED.prompt").
				Set("answers = EXCLUDED.answers").
				Set("mode = EXCLUDED.mode").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("seed questions: %w", err)
			}
		}
		return nil
	})
}
