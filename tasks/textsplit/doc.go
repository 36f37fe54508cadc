// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package textsplit 提供递归字符切分器，把长文档切成带重叠的片段。

切分按段落、换行、空格、单字符的顺序尝试分隔符，片段长度以 rune 计，
不超过 ChunkSize；相邻片段共享最多 ChunkOverlap 个字符的上下文。
LLM 抽取默认使用 4024/256。
*/
package textsplit
