package migration

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/graphflow/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// 每个方言目录下是成对的 NNNNNN_name.{up,down}.sql
//
//go:embed migrations
var migrationsFS embed.FS

// Migration 一个内嵌的迁移
type Migration struct {
	Version uint
	Name    string
}

// MigrationStatus 某个迁移在目标库上的状态
type MigrationStatus struct {
	Migration
	Applied bool
	Dirty   bool
}

// MigrationInfo 迁移状态汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator CLI 依赖的迁移操作
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// Options 可选参数
type Options struct {
	// 版本表，默认 schema_migrations
	Table string
	// 等待迁移锁的上限，默认 15s
	LockTimeout time.Duration
}

// Runner 基于 golang-migrate 的 Migrator
type Runner struct {
	dialect Dialect
	m       *migrate.Migrate
}

// Open 连接 dsn 并加载 dialect 对应的内嵌迁移
func Open(dialect Dialect, dsn string, opts Options) (*Runner, error) {
	if dsn == "" {
		return nil, errors.New("migration: database URL is required")
	}
	if opts.Table == "" {
		opts.Table = "schema_migrations"
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 15 * time.Second
	}

	db, err := sql.Open(dialect.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("migration: open %s: %w", dialect, err)
	}
	m, err := newMigrate(db, dialect, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Runner{dialect: dialect, m: m}, nil
}

// OpenConfig 从数据库配置构造连接串后 Open
func OpenConfig(cfg config.DatabaseConfig) (*Runner, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := DSN(dialect, cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialect, dsn, Options{})
}

// OpenURL 使用给定的方言名和连接串
func OpenURL(dialect, dsn string) (*Runner, error) {
	d, err := ParseDialect(dialect)
	if err != nil {
		return nil, err
	}
	return Open(d, dsn, Options{})
}

func newMigrate(db *sql.DB, dialect Dialect, opts Options) (*migrate.Migrate, error) {
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("migration: ping %s: %w", dialect, err)
	}

	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case Postgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: opts.Table})
	case MySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: opts.Table})
	case SQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: opts.Table})
	default:
		return nil, fmt.Errorf("unsupported database type %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("migration: %s driver: %w", dialect, err)
	}

	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("migration: embedded source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("migration: %w", err)
	}
	m.LockTimeout = opts.LockTimeout
	return m, nil
}

func (r *Runner) Up(ctx context.Context) error {
	return r.run(ctx, "up", r.m.Up)
}

// Down 回滚最近一个迁移
func (r *Runner) Down(ctx context.Context) error {
	return r.Steps(ctx, -1)
}

// Steps n > 0 前进 n 个，n < 0 回滚 -n 个
func (r *Runner) Steps(ctx context.Context, n int) error {
	return r.run(ctx, "steps "+strconv.Itoa(n), func() error { return r.m.Steps(n) })
}

// run 执行 op；ctx 取消时请求 golang-migrate 在当前迁移结束后停下
func (r *Runner) run(ctx context.Context, what string, op func() error) error {
	stop := context.AfterFunc(ctx, func() {
		select {
		case r.m.GracefulStop <- true:
		default:
		}
	})
	defer stop()

	if err := op(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", what, err)
	}
	return nil
}

// Force 直接写入版本号并清除 dirty 标记，不执行任何 SQL
func (r *Runner) Force(_ context.Context, version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("migrate force %d: %w", version, err)
	}
	return nil
}

// Version 当前版本；尚未执行任何迁移时为 0
func (r *Runner) Version(context.Context) (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return v, dirty, nil
}

func (r *Runner) Status(ctx context.Context) ([]MigrationStatus, error) {
	statuses, _, err := r.summary(ctx)
	return statuses, err
}

func (r *Runner) Info(ctx context.Context) (*MigrationInfo, error) {
	_, info, err := r.summary(ctx)
	return info, err
}

func (r *Runner) summary(ctx context.Context) ([]MigrationStatus, *MigrationInfo, error) {
	current, dirty, err := r.Version(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := Catalog(r.dialect)
	if err != nil {
		return nil, nil, err
	}
	statuses, info := summarize(all, current, dirty)
	return statuses, info, nil
}

// Close 关闭源与数据库连接
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Catalog 列出方言内嵌的迁移，按版本升序；不需要数据库连接
func Catalog(d Dialect) ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, d.dir())
	if err != nil {
		return nil, fmt.Errorf("no migrations for %q: %w", d, err)
	}

	var out []Migration
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		num, name, ok := strings.Cut(base, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, Migration{Version: uint(v), Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return slices.CompactFunc(out, func(a, b Migration) bool { return a.Version == b.Version }), nil
}

// summarize 版本号不大于 current 的迁移视为已执行
func summarize(all []Migration, current uint, dirty bool) ([]MigrationStatus, *MigrationInfo) {
	statuses := make([]MigrationStatus, len(all))
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(all)}
	for i, m := range all {
		applied := m.Version <= current
		statuses[i] = MigrationStatus{Migration: m, Applied: applied, Dirty: dirty && m.Version == current}
		if applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return statuses, info
}
