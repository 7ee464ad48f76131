package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/rebroadcastr/internal/config"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		ConnMaxLifetime: time.Hour,
		LogLevel:        "silent",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), &Options{PrepareStmt: false})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["max_open_connections"])
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "invalid", DSN: ":memory:"}, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_Close(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, nil, nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

type txRow struct {
	ID   uint `gorm:"primarykey"`
	Name string
}

func TestDB_Transaction(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.AutoMigrate(&txRow{}))

	err := db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Create(&txRow{Name: "kept"}).Error
	})
	require.NoError(t, err)

	rollback := errors.New("rollback")
	err = db.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&txRow{Name: "discarded"}).Error; err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)

	var count int64
	require.NoError(t, db.WithContext(ctx).Model(&txRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGormLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"silent":  logger.Silent,
		"error":   logger.Error,
		"warn":    logger.Warn,
		"info":    logger.Info,
		"unknown": logger.Warn,
	}
	for in, want := range tests {
		assert.Equal(t, want, gormLogLevel(in), in)
	}
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := make([]byte, maxSQLLogLength+50)
	for i := range long {
		long[i] = 'x'
	}
	out := truncateSQL(string(long))
	assert.Len(t, out, maxSQLLogLength+len("... (truncated)"))
}

func TestIsMemoryDSN(t *testing.T) {
	assert.True(t, isMemoryDSN(":memory:"))
	assert.True(t, isMemoryDSN("file:test?mode=memory&cache=shared"))
	assert.False(t, isMemoryDSN("rebroadcastr.db"))
}
