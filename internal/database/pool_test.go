package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/graphflow/config"
	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// gorm 打开时会 ping 一次
	mock.ExpectPing()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

type recordedQuery struct {
	database, operation string
}

type fakeRecorder struct {
	mu          sync.Mutex
	queries     []recordedQuery
	connections int
}

func (r *fakeRecorder) RecordDBConnections(string, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections++
}

func (r *fakeRecorder) RecordDBQuery(database, operation string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, recordedQuery{database, operation})
}

func (r *fakeRecorder) connectionSamples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, "postgres", manager.Driver())
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)
}

func TestNewPoolManager_RejectsInvalidConfig(t *testing.T) {
	_, err := NewPoolManager(nil, "postgres", testPoolConfig(), nil)
	assert.Error(t, err)

	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()
	_, err = NewPoolManager(gormDB, "postgres", PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	rec := &fakeRecorder{}
	manager.SetRecorder(rec)

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, manager.WithTransaction(context.Background(), "save_run", func(tx *gorm.DB) error {
		return nil
	}))

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransaction(context.Background(), "save_run", func(tx *gorm.DB) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []recordedQuery{{"postgres", "save_run"}, {"postgres", "save_run"}}, rec.queries)
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err = manager.WithTransactionRetry(context.Background(), "save_run", 3, func(tx *gorm.DB) error {
		calls++
		if calls == 1 {
			return errors.New("ERROR: deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err = manager.WithTransactionRetry(context.Background(), "save_run", 3, func(tx *gorm.DB) error {
		calls++
		return errors.New("unique constraint violated")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupMockDB(t)

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), "x", func(*gorm.DB) error { return nil }), ErrPoolClosed)
}

func TestOpen_SQLiteHealthLoopReportsStats(t *testing.T) {
	manager, err := Open(config.DatabaseConfig{Driver: "sqlite", Name: "file::memory:"}, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	rec := &fakeRecorder{}
	manager.SetRecorder(rec)
	require.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, 1, manager.GetStats().MaxOpenConnections)

	manager.checkOnce()
	assert.Equal(t, 1, rec.connectionSamples())
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "graphflow"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid config", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, false},
		{"invalid max open conns", PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, true},
		{"invalid max idle conns", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, true},
		{"idle > open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	pc := PoolConfigFrom(config.DatabaseConfig{MaxOpenConns: 7, MaxIdleConns: 3, ConnMaxLifetime: time.Minute})
	assert.Equal(t, 7, pc.MaxOpenConns)
	assert.Equal(t, 3, pc.MaxIdleConns)
	assert.Equal(t, time.Minute, pc.ConnMaxLifetime)

	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, PoolConfigFrom(config.DatabaseConfig{}).MaxOpenConns)
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("database is locked")))
	assert.True(t, isRetryableError(errors.New("pq: could not serialize access (SQLSTATE 40001)")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
	assert.False(t, isRetryableError(context.DeadlineExceeded))
	assert.True(t, isRetryableError(fmt.Errorf("save: %w", driver.ErrBadConn)))

	assert.True(t, isRetryableError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"}))
	assert.False(t, isRetryableError(&pgconn.PgError{Code: "23505", Message: "duplicate key"}))
	assert.True(t, isRetryableError(fmt.Errorf("tx: %w", &gomysql.MySQLError{Number: 1213})))
	assert.False(t, isRetryableError(&gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
}

func TestPoolManager_WithTransactionRetry_GivesUp(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	for range 2 {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err = manager.WithTransactionRetry(context.Background(), "save_run", 2, func(tx *gorm.DB) error {
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_StopsOnCancel(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, "postgres", testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	mock.ExpectBegin()
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	err = manager.WithTransactionRetry(ctx, "save_run", 5, func(tx *gorm.DB) error {
		cancel()
		return errors.New("deadlock")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
