package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/haexhub/haex-sync/internal/identity"
	"github.com/haexhub/haex-sync/internal/vault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// TranslateError is enabled so unique-index violations surface as
// gorm.ErrDuplicatedKey, which the vault service maps to conflicts.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&identity.Identity{},
		&vault.VaultKey{},
		&vault.VaultLogEntry{},
		&vault.UserSequence{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
