// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、工作流、
LLM、缓存与数据库五个维度。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer，
测试中可使用独立的 prometheus.NewRegistry 避免重复注册。
Collector 实现 workflow.Observer，可直接通过 workflow.WithObserver
挂到执行器上。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 工作流指标：运行次数与耗时、超步数、前沿大小、节点结果与重试次数、评审轮次。
  - LLM 指标：请求总数、耗时、Token 用量（prompt/completion）。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
