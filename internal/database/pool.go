package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/graphflow/config"
	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrPoolClosed Close 之后的操作返回
var ErrPoolClosed = errors.New("pool is closed")

// StatsRecorder 接收连接池与事务统计；*metrics.Collector 满足该接口
type StatsRecorder interface {
	RecordDBConnections(database string, open, idle int)
	RecordDBQuery(database, operation string, duration time.Duration)
}

// PoolConfig database/sql 连接池参数。HealthCheckInterval 为 0 时不启动后台探活。
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns        int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        25,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	case c.MaxIdleConns <= 0:
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) exceeds max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// PoolConfigFrom 应用配置里的非零值覆盖默认值
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	pc.MaxOpenConns = positiveOr(cfg.MaxOpenConns, pc.MaxOpenConns)
	pc.MaxIdleConns = positiveOr(cfg.MaxIdleConns, pc.MaxIdleConns)
	pc.ConnMaxLifetime = positiveOr(cfg.ConnMaxLifetime, pc.ConnMaxLifetime)
	return pc
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// Dialector 按驱动名选择 GORM 方言。sqlite 未给文件名时使用共享内存库。
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn := cfg.DSN()
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cmpOr(dsn, "file::memory:?cache=shared")), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %q (supported: postgres, mysql, sqlite)", cfg.Driver)
}

func cmpOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// PoolManager 持有 GORM 实例与底层连接池，负责探活、统计与事务重试
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	cfg    PoolConfig
	logger *zap.Logger

	mu       sync.RWMutex
	closed   bool
	recorder StatsRecorder

	stop chan struct{}
	done chan struct{}
}

// Open 连接数据库。sqlite 只允许单写者，连接池固定为 1。
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*PoolManager, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	pc := PoolConfigFrom(cfg)
	if cfg.Driver == "sqlite" {
		pc.MaxOpenConns, pc.MaxIdleConns = 1, 1
	}
	return NewPoolManager(db, cfg.Driver, pc, logger)
}

func NewPoolManager(db *gorm.DB, driver string, cfg PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	cfg.apply(sqlDB)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		driver: driver,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "db_pool"), zap.String("driver", driver)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go pm.watch(cfg.HealthCheckInterval)
	} else {
		close(pm.done)
	}

	pm.logger.Info("database pool ready",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime))
	return pm, nil
}

// SetRecorder 可在运行期间替换
func (pm *PoolManager) SetRecorder(r StatsRecorder) {
	pm.mu.Lock()
	pm.recorder = r
	pm.mu.Unlock()
}

// acquire 返回 db 与当前 recorder；已关闭时返回 ErrPoolClosed
func (pm *PoolManager) acquire() (*gorm.DB, StatsRecorder, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return nil, nil, ErrPoolClosed
	}
	return pm.db, pm.recorder, nil
}

func (pm *PoolManager) DB() *gorm.DB { return pm.db }

func (pm *PoolManager) Driver() string { return pm.driver }

func (pm *PoolManager) Ping(ctx context.Context) error {
	if _, _, err := pm.acquire(); err != nil {
		return err
	}
	return pm.sqlDB.PingContext(ctx)
}

func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// PoolStats 健康检查接口返回的连接池快照
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

func (pm *PoolManager) GetStats() PoolStats {
	s := pm.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}

// Close 停止后台探活并关闭连接池；重复调用返回 nil
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	pm.mu.Unlock()

	close(pm.stop)
	<-pm.done
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

func (pm *PoolManager) watch(every time.Duration) {
	defer close(pm.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
			pm.checkOnce()
		}
	}
}

// checkOnce 探活成功后上报连接数
func (pm *PoolManager) checkOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		if !errors.Is(err, ErrPoolClosed) {
			pm.logger.Error("database health check failed", zap.Error(err))
		}
		return
	}
	s := pm.Stats()
	if _, rec, err := pm.acquire(); err == nil && rec != nil {
		rec.RecordDBConnections(pm.driver, s.OpenConnections, s.Idle)
	}
	pm.logger.Debug("database health check passed",
		zap.Int("open", s.OpenConnections), zap.Int("in_use", s.InUse), zap.Int("idle", s.Idle))
}

// TransactionFunc 在事务内执行；返回错误时回滚
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction operation 作为耗时统计的标签
func (pm *PoolManager) WithTransaction(ctx context.Context, operation string, fn TransactionFunc) error {
	db, rec, err := pm.acquire()
	if err != nil {
		return err
	}
	start := time.Now()
	err = db.WithContext(ctx).Transaction(fn)
	if rec != nil {
		rec.RecordDBQuery(pm.driver, operation, time.Since(start))
	}
	return err
}

// WithTransactionRetry 最多执行 attempts 次，仅对瞬时错误重试，
// 退避从 100ms 开始翻倍，上限 2s。
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, operation string, attempts int, fn TransactionFunc) error {
	attempts = max(attempts, 1)
	delay := 100 * time.Millisecond

	var err error
	for attempt := 1; ; attempt++ {
		if err = pm.WithTransaction(ctx, operation, fn); err == nil || !isRetryableError(err) {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("transaction %s failed after %d attempts: %w", operation, attempts, err)
		}
		pm.logger.Warn("transaction failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, 2*time.Second)
	}
}

// SQLSTATE 40001 serialization_failure, 40P01 deadlock_detected, 55P03 lock_not_available
var retryablePGCodes = map[string]bool{"40001": true, "40P01": true, "55P03": true}

// MySQL 1213 ER_LOCK_DEADLOCK, 1205 ER_LOCK_WAIT_TIMEOUT
var retryableMySQLCodes = map[uint16]bool{1213: true, 1205: true}

// isRetryableError 先按驱动错误码判断，sqlite 与网络错误按消息匹配
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryablePGCodes[pgErr.Code]
	}
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return retryableMySQLCodes[myErr.Number]
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"deadlock",
		"40001",
		"connection reset",
		"connection refused",
		"broken pipe",
		"lock wait timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
