package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillUserSequences = "2026-07-28_backfill_user_sequences"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillUserSequences, apply: backfillUserSequences},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillUserSequences seeds counter rows for users whose log entries
// predate the user_sequences table, so the next push continues from the
// stored maximum instead of restarting at one.
func backfillUserSequences(db *gorm.DB) error {
	const statement = `
INSERT INTO user_sequences (user_id, last_sequence, updated_at)
SELECT user_id, MAX(sequence), CURRENT_TIMESTAMP
FROM vault_log_entries
GROUP BY user_id
ON CONFLICT (user_id) DO NOTHING;`
	return db.Exec(statement).Error
}
