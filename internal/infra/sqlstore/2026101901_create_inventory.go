package sqlstore

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(createInventory, dropTables((*questionModel)(nil), (*topicModel)(nil)))
}

func createInventory(ctx context.Context, db *bun.DB) error {
	if err := createTables(ctx, db, (*topicModel)(nil), (*questionModel)(nil)); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*questionModel)(nil)).
		Index("questions_topic_difficulty_idx").
		Column("topic_id", "difficulty").
		IfNotExists().
		Exec(ctx)
	return err
}
