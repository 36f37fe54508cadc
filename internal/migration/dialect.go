package migration

import (
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/BaSui01/graphflow/config"
	gomysql "github.com/go-sql-driver/mysql"
)

// Dialect 运行日志库的 SQL 方言，对应 migrations/ 下的一个目录
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// Dialects 全部受支持的方言
var Dialects = []Dialect{Postgres, MySQL, SQLite}

// ParseDialect 接受常见别名，大小写不敏感
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database type %q", s)
}

// sqlDriver database/sql 注册名
func (d Dialect) sqlDriver() string {
	if d == SQLite {
		return "sqlite3"
	}
	return string(d)
}

func (d Dialect) dir() string {
	return path.Join("migrations", string(d))
}

// DSN 按方言拼出迁移用的连接串。凭据会被正确转义；
// MySQL 打开 multiStatements，迁移文件里一个文件可以有多条语句。
func DSN(d Dialect, cfg config.DatabaseConfig) (string, error) {
	switch d {
	case Postgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "require"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:     "/" + cfg.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return u.String(), nil
	case MySQL:
		mc := gomysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Name
		mc.ParseTime = true
		mc.MultiStatements = true
		return mc.FormatDSN(), nil
	case SQLite:
		if cfg.Name == "" {
			return "", fmt.Errorf("sqlite database path is empty")
		}
		return "file:" + cfg.Name + "?mode=rwc&_foreign_keys=on", nil
	}
	return "", fmt.Errorf("unsupported database type %q", d)
}
