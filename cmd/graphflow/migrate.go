package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BaSui01/graphflow/internal/migration"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

// runMigrate 执行数据库迁移子命令：
//
//	graphflow migrate up --config config.yaml
//	graphflow migrate steps -1 --db-type sqlite --db-url graphflow.db
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing migrate command\n%s", errUsage, migration.Usage)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(stdout, migration.Usage)
		return nil
	}

	// 位置参数（如 steps -1）可能以 "-" 开头，先于 flag 解析取出
	command := []string{args[0]}
	rest := args[1:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "--") {
		command = append(command, rest[0])
		rest = rest[1:]
	}

	var common commonFlags
	fs := newFlagSet("migrate "+args[0], &common)
	dbType := fs.String("db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	dbURL := fs.String("db-url", "", "Database connection URL (default: from config)")
	if err := parseFlags(fs, rest); err != nil {
		return err
	}
	command = append(command, fs.Args()...)

	migrator, err := newMigrator(common.configPath, *dbType, *dbURL)
	if err != nil {
		return err
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	cli.SetOutput(stdout)
	if err := cli.Run(ctx, command); err != nil {
		if errors.Is(err, migration.ErrUsage) {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return err
	}
	return nil
}

// newMigrator 优先使用 --db-type/--db-url，否则读取配置文件中的数据库设置
func newMigrator(configPath, dbType, dbURL string) (*migration.Runner, error) {
	if dbType != "" && dbURL != "" {
		return migration.OpenURL(dbType, dbURL)
	}
	if dbURL != "" {
		return nil, fmt.Errorf("%w: --db-url requires --db-type", errUsage)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbType != "" {
		cfg.Database.Driver = dbType
	}
	return migration.OpenConfig(cfg.Database)
}
