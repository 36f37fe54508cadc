// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 graphflow HTTP API 的请求处理器实现。

# 核心类型

  - ExtractionHandler: POST /api/v1/extract，运行实体抽取图
  - PublicationHandler: POST /api/v1/publish，运行带修订循环的发布信息图
  - GraphHandler: GET /api/v1/graphs[/{name}]，返回图的 Mermaid 与 YAML 定义
  - RunsHandler: GET /api/v1/runs[/{id}]，查询运行日志存储
  - HealthHandler: /health 与 /healthz（存活）、/ready（就绪，区分关键与可选依赖）、/version
  - Response / ErrorInfo: 统一 JSON 响应结构

# 错误映射

WriteError 按 types.ErrorCode 映射 HTTP 状态码；WriteRunError 额外识别
工作流错误（初始状态非法 → 400，步数上限/路由/写冲突 → 422，超时 → 504）。
节点级失败不会使请求失败，而是出现在响应的 failures 字段中。
*/
package handlers
