package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"adaptive-assessment-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader reads the question inventory from Postgres. The tables are created by
// the sqlstore migrations; answers are a JSON array.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

const questionColumns = `id, topic_id, difficulty, prompt, answers::text, mode`

func (l *QuestionLoader) FindQuestions(ctx context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error) {
	if len(topicIDs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString(`SELECT ` + questionColumns + ` FROM questions WHERE topic_id = ANY($1)`)
	args := []interface{}{topicIDs}
	if len(difficulties) > 0 {
		levels := make([]int64, len(difficulties))
		for i, d := range difficulties {
			levels[i] = int64(d)
		}
		b.WriteString(` AND difficulty = ANY($2)`)
		args = append(args, levels)
	}
	b.WriteString(` ORDER BY id`)

	rows, err := l.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find questions: %w", err)
	}
	return scanQuestions(rows)
}

func (l *QuestionLoader) Lookup(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := l.pool.Query(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup questions: %w", err)
	}
	questions, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		out[q.ID] = q
	}
	return out, nil
}

func scanQuestions(rows pgx.Rows) ([]domain.Question, error) {
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		var (
			q       domain.Question
			answers string
			mode    string
		)
		if err := rows.Scan(&q.ID, &q.TopicID, &q.Difficulty, &q.Prompt, &answers, &mode); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(answers), &q.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers of %s: %w", q.ID, err)
		}
		q.Mode = domain.MatchMode(mode)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return out, nil
}
