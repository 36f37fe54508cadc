// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 GraphFlow 的命令行程序入口。

# 概述

cmd/graphflow 装配工作流执行器、实体抽取流水线与发布信息流水线，
并以子命令的形式对外提供：HTTP API、一次性抽取与发布、图可视化、
运行日志查询、数据库迁移以及 stdio MCP 工具服务。

# 核心类型

  - App: 一次进程生命周期内装配好的全部组件
  - Server: HTTP API 服务，管理 API 与 Metrics 双端口及优雅关闭
  - Middleware: HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、extract、publish、graph、runs、migrate、mcp、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、MetricsMiddleware、CORS、JWTAuth、APIKeyAuth、RateLimiter
  - 可选依赖降级：Redis 与数据库不可用时记录警告并继续运行
  - 退出码：0 成功，1 运行错误，2 参数错误
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
