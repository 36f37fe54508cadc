// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理运行日志存储（workflow_runs / workflow_run_entries）
的数据库 Schema，支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌在二进制中，由
`graphflow migrate` 子命令驱动。开发与测试环境也可以直接使用
runstore.Store.AutoMigrate，两者生成的表结构保持一致。

# 核心类型

  - Dialect：postgres / mysql / sqlite，决定使用哪一组内嵌 SQL。
  - Migrator：迁移器接口（Up/Down/Steps/Force/Version/Status/Info/Close）。
  - Runner：基于 golang-migrate 的实现。
  - CLI：命令行层，Run 按子命令表分发并格式化输出。
  - Catalog：无需数据库连接即可列出内嵌迁移。

# 连接

OpenConfig 用 DSN 从 config.DatabaseConfig 拼出连接串（凭据经过转义，
MySQL 通过 go-sql-driver 的 Config.FormatDSN 生成）；OpenURL 直接使用给定连接串。
*/
package migration
