// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 GraphFlow 各任务适配器共享的底层类型。

# 概述

types 是最底层的公共包，不依赖任何内部包。llm、tasks 与 workflow
通过这里的结构化错误和 context 键交换元数据，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - MapHTTPStatus: 将上游非 2xx 响应映射为 *Error
  - IsRetryable: 沿错误链判断是否可重试，可直接作为重试策略的 RetryIf

# Context 传播

执行器在调用节点前写入 WithRunID 与 WithNodeName，下游 LLM 调用用它们
标注 trace 属性与日志字段。WithLLMModel 允许单次调用覆盖默认模型。
*/
package types
