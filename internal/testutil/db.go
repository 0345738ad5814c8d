// Package testutil provides the in-memory database used by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pharmagest/license-server/internal/models"
)

// NewDB opens a migrated in-memory SQLite database. The pool is pinned to a
// single connection so the file-less database is shared and concurrent test
// writers serialize instead of hitting lock errors.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db))
	return db
}
