// Package storagetest provides a migrated in-memory SQLite storage for tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"parley/backend/internal/models"
	"parley/backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
)

// New opens a fresh database private to the test.
func New(t testing.TB) *storage.Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := storage.Open(sqlite.Open(dsn), logger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrate(db))
	return storage.NewStorageService(db)
}

// CreateUser inserts a user named name with email name@example.com.
func CreateUser(t testing.TB, s *storage.Service, name string) models.User {
	t.Helper()
	u := models.User{Name: name, Email: name + "@example.com", PasswordHash: "x", Picture: "p"}
	require.NoError(t, s.CreateUser(context.Background(), &u))
	return u
}
