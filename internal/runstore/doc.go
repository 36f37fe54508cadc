// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 runstore 持久化工作流运行日志，供 CLI 的 runs 子命令与
HTTP API 的 /v1/runs 查询。

# 核心类型

  - Store：基于 database.PoolManager 的 GORM 存储，提供
    Save、Get、List、Prune 与 AutoMigrate。
  - Observer：workflow.Observer 实现，在 OnRunComplete 时保存日志，
    保存失败只记录日志。
  - RunRecord / EntryRecord：workflow_runs 与 workflow_run_entries 表，
    表结构同时由 internal/migration 的 SQL 迁移维护。
*/
package runstore
