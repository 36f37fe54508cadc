// Copyright 2026 GraphFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 GraphFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为任务适配器、流水线与 CLI 的测试提供统一的辅助能力，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext，自动注册 Cleanup 防止泄漏
  - HTTP 辅助: NewJSONServer 以泛型方式启动 JSON 桩服务，
    用于 NER、网页搜索与 OpenAI 兼容接口的测试

# 子包

  - testutil/mocks: MockProvider（LLM Provider，支持按序响应与错误注入）、
    MemoryStore（llm.Store 内存实现）
  - testutil/fixtures: 样例论文摘要与词典

# 使用示例

	ctx := testutil.TestContext(t)
	provider := mocks.NewMockProvider().WithResponses(`{"entities":[]}`)
	resp, err := provider.Completion(ctx, req)
*/
package testutil
