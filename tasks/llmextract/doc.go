// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package llmextract 使用 LLM 从长文档中抽取带类型的实体。

文档先由 textsplit 切成带重叠的片段，实体类型按 BatchSize 分批，
每个 (片段, 批次) 组合发出一次请求，并发数由 Workers 限制。
模型可以返回 "none of the above"，这类实体会被丢弃。结果不在此去重，
由聚合节点统一处理；只有全部请求都失败时才返回错误。
*/
package llmextract
