// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package ner 通过 HTTP 调用统计命名实体识别服务。

服务预期包装 spaCy en_core_web_trf 之类的 transformer 流水线，接收
{"text": ...}，返回带 label 的实体片段。请求的实体类型会被忽略，
服务使用自己的标签体系；DefaultExcludedLabels 中的 DATE、CARDINAL
等标签会被过滤。
*/
package ner
