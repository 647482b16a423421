package sqlstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(createEngineTables, dropTables(
		(*assessmentModel)(nil),
		(*assessmentRunModel)(nil),
		(*rewardModel)(nil),
		(*progressModel)(nil),
		(*objectiveModel)(nil),
		(*questModel)(nil),
		(*scoreRecordModel)(nil),
		(*quizModel)(nil),
	))
}

func createEngineTables(ctx context.Context, db *bun.DB) error {
	err := createTables(ctx, db,
		(*quizModel)(nil),
		(*scoreRecordModel)(nil),
		(*questModel)(nil),
		(*objectiveModel)(nil),
		(*progressModel)(nil),
		(*rewardModel)(nil),
		(*assessmentRunModel)(nil),
		(*assessmentModel)(nil),
	)
	if err != nil {
		return err
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*quizModel)(nil), "quizzes_owner_idx", []string{"owner"}},
		{(*scoreRecordModel)(nil), "score_records_owner_seq_idx", []string{"owner", "seq"}},
		{(*questModel)(nil), "quests_owner_status_idx", []string{"owner", "status"}},
		{(*objectiveModel)(nil), "quest_objectives_quest_idx", []string{"quest_id"}},
		{(*rewardModel)(nil), "reward_events_pending_idx", []string{"delivered_at", "created_at"}},
	}
	for _, idx := range indexes {
		_, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
