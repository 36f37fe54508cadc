// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package llm 提供 GraphFlow 任务节点使用的最小 LLM 调用层。

# 概述

llm 定义统一的 Provider 接口，以及一个面向 OpenAI 兼容接口的实现。
抽取、摘要、标题、评审等节点都只依赖 Provider，测试时可用
testutil/mocks 中的 MockProvider 替换。

# 核心类型

  - Provider: Completion + Name 的最小接口
  - OpenAIProvider: OpenAI 兼容 /chat/completions 客户端，错误映射为 types.Error
  - CachedProvider: 基于 Redis 的响应缓存装饰器
  - InstrumentedProvider: OpenTelemetry trace 与指标装饰器

# 结构化输出

CompleteJSON 以 json_object 模式请求模型，剥离代码块围栏后解码到目标
结构体；解码失败返回 DECODE_FAILED 错误码，由调用节点决定降级。
*/
package llm
