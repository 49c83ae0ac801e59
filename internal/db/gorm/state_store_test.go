package gorm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/emostate/internal/db"
	"github.com/thebtf/emostate/internal/db/dbtest"
)

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "gorm_state_test_*")
	require.NoError(t, err)

	store, err := NewStore(Config{
		Path:     filepath.Join(tmpDir, "test.db"),
		LogLevel: logger.Silent,
	})
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("NewStore failed: %v", err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestGormRecordStoreSuite(t *testing.T) {
	suite.Run(t, &dbtest.RecordStoreSuite{
		NewStore: func() (db.RecordStore, func()) {
			store, cleanup := testStore(t)
			return NewRecordStore(store), cleanup
		},
	})
}

func TestNewStore_RequiresTarget(t *testing.T) {
	_, err := NewStore(Config{})
	require.Error(t, err)
}

func TestStore_HealthCheck(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	info := store.HealthCheck(t.Context())
	require.NotNil(t, info)
	require.NotEqual(t, HealthUnhealthy, info.Status)
	require.Equal(t, "sqlite", store.Dialect())
	require.Equal(t, "sqlite", info.Dialect)
	require.Equal(t, 1, info.PoolStats.MaxOpen)
	require.NoError(t, store.Ping(t.Context()))

	// Cached within TTL.
	require.Same(t, info, store.HealthCheck(t.Context()))
}

func TestStore_HealthFailsWhenClosed(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	store.healthCacheTTL = 0

	require.NoError(t, store.Ping(t.Context()))
	require.NoError(t, store.Close())

	err := store.Ping(t.Context())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sqlite")
	require.Equal(t, HealthUnhealthy, store.HealthCheck(t.Context()).Status)
}

func TestMigrations_Idempotent(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	require.NoError(t, runMigrations(store.DB))
	require.True(t, store.DB.Migrator().HasTable(&StateRecord{}))
	require.True(t, store.DB.Migrator().HasTable(&Transition{}))
}
