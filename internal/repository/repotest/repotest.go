// Package repotest opens throwaway SQLite-backed stores for tests.
package repotest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ragdesk/internal/repository"
)

// NewStore returns a migrated in-memory store. A single connection keeps
// every query on the same in-memory database.
func NewStore(t testing.TB) *repository.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := repository.NewStore(db)
	require.NoError(t, store.AutoMigrate(context.Background()))
	return store
}
