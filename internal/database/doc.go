// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接池管理，为运行日志存储
（internal/runstore）提供连接、健康检查与事务重试。

# 概述

Open 根据 config.DatabaseConfig 选择方言（postgres、mysql、
纯 Go 的 glebarez/sqlite），创建 PoolManager 并配置连接池。
后台健康检查定时探活，并把连接数上报给 StatsRecorder。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲/打开连接数、连接生命周期与健康检查间隔。
  - StatsRecorder：连接数与查询耗时的接收者，*metrics.Collector 实现它。

# 主要能力

  - 多驱动：postgres、mysql、sqlite，sqlite 固定为单连接。
  - 事务管理：WithTransaction 单次执行并统计耗时，
    WithTransactionRetry 只重试瞬时错误：postgres 按 SQLSTATE（40001、40P01、55P03），
    mysql 按错误号（1213、1205），其余按 driver.ErrBadConn 与 sqlite 写锁等消息判断。
    退避从 100ms 翻倍，上限 2s。
*/
package database
