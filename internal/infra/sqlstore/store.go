// Package sqlstore persists engine state with bun on Postgres or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects a bun database for driver. SQLite connections are limited to one so
// that transactions never see SQLITE_BUSY.
func Open(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		if err := applyPragmas(sqldb); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("apply pragmas: %w", err)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Store implements app.Store. Owner transactions are serialized in-process and, on
// Postgres, across instances with a transaction-scoped advisory lock.
type Store struct {
	db    *bun.DB
	locks *app.OwnerLocks
}

func New(db *bun.DB) *Store {
	return &Store{db: db, locks: app.NewOwnerLocks()}
}

func (s *Store) DB() *bun.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithinOwner(ctx context.Context, owner string, fn func(ctx context.Context, tx app.Tx) error) error {
	unlock, err := s.locks.Lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if s.db.Dialect().Name() == dialect.PG {
			if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", owner); err != nil {
				return fmt.Errorf("lock owner: %w", err)
			}
		}
		return fn(ctx, &sqlTx{db: tx, owner: owner})
	})
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.QuizInstance) error {
	res, err := s.db.NewInsert().Model(fromQuiz(quiz)).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("quiz %s: %w", quiz.ID, domain.ErrConflict)
	}
	return nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.QuizInstance, error) {
	var m quizModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", quizID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuizInstance{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizInstance{}, fmt.Errorf("get quiz: %w", err)
	}
	return m.toDomain(), nil
}

func (s *Store) ScoreHistory(ctx context.Context, owner string) ([]domain.ScoreRecord, error) {
	return scoreHistory(ctx, s.db, owner)
}

func (s *Store) ListQuests(ctx context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	return listQuests(ctx, s.db, owner, status)
}

func (s *Store) LatestAssessment(ctx context.Context, owner string) (domain.AssessmentRun, bool, error) {
	run := new(assessmentRunModel)
	err := s.db.NewSelect().Model(run).Where("owner = ?", owner).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssessmentRun{}, false, nil
	}
	if err != nil {
		return domain.AssessmentRun{}, false, fmt.Errorf("latest assessment: %w", err)
	}
	var rows []assessmentModel
	err = s.db.NewSelect().Model(&rows).Where("owner = ?", owner).Order("position ASC").Scan(ctx)
	if err != nil {
		return domain.AssessmentRun{}, false, fmt.Errorf("latest assessment: %w", err)
	}
	out := make([]domain.WeaknessAssessment, len(rows))
	for i, r := range rows {
		out[i] = domain.WeaknessAssessment{
			Owner:        r.Owner,
			TopicID:      r.TopicID,
			Probability:  r.Probability,
			Action:       domain.ActionLevel(r.Action),
			AverageScore: r.AverageScore,
		}
	}
	return domain.AssessmentRun{Records: run.Records, Assessments: out}, true, nil
}

// SaveAssessment replaces the owner's latest assessment. A run without assessments is still saved.
func (s *Store) SaveAssessment(ctx context.Context, owner string, in domain.AssessmentRun) error {
	assessments := in.Assessments
	unlock, err := s.locks.Lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*assessmentModel)(nil)).Where("owner = ?", owner).Exec(ctx); err != nil {
			return fmt.Errorf("clear assessment: %w", err)
		}
		if len(assessments) > 0 {
			rows := make([]assessmentModel, len(assessments))
			for i, a := range assessments {
				rows[i] = assessmentModel{
					Owner:        owner,
					TopicID:      a.TopicID,
					Position:     i,
					Probability:  a.Probability,
					Action:       int(a.Action),
					AverageScore: a.AverageScore,
				}
			}
			if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
				return fmt.Errorf("insert assessment: %w", err)
			}
		}
		run := &assessmentRunModel{Owner: owner, Records: in.Records, UpdatedAt: time.Now().UTC()}
		_, err := tx.NewInsert().Model(run).
			On("CONFLICT (owner) DO UPDATE").
			Set("records = EXCLUDED.records").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
}

func (s *Store) PendingRewards(ctx context.Context, limit int) ([]domain.RewardEvent, error) {
	var rows []rewardModel
	q := s.db.NewSelect().Model(&rows).Where("delivered_at IS NULL").Order("created_at ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("pending rewards: %w", err)
	}
	out := make([]domain.RewardEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) MarkRewardDelivered(ctx context.Context, eventID string, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*rewardModel)(nil)).
		Set("delivered_at = ?", at.UTC()).
		Where("id = ?", eventID).
		Where("delivered_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark reward delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*rewardModel)(nil)).Where("id = ?", eventID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("mark reward delivered: %w", err)
	}
	if !exists {
		return fmt.Errorf("reward event %s: %w", eventID, domain.ErrNotFound)
	}
	return nil
}

// Rewards returns every reward event ever enqueued, oldest first.
func (s *Store) Rewards(ctx context.Context) ([]domain.RewardEvent, error) {
	var rows []rewardModel
	if err := s.db.NewSelect().Model(&rows).Order("created_at ASC", "id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.RewardEvent, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func scoreHistory(ctx context.Context, db bun.IDB, owner string) ([]domain.ScoreRecord, error) {
	var rows []scoreRecordModel
	err := db.NewSelect().Model(&rows).Where("owner = ?", owner).Order("seq ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("score history: %w", err)
	}
	out := make([]domain.ScoreRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func listQuests(ctx context.Context, db bun.IDB, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	var rows []questModel
	q := db.NewSelect().Model(&rows).
		Relation("Objectives", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("position ASC")
		}).
		Where("?TableAlias.owner = ?", owner).
		Order("created_at DESC", "seq DESC")
	if status != "" {
		q = q.Where("?TableAlias.status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	out := make([]domain.Quest, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}
