// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

// Package entity 定义所有抽取器产出的实体记录，以及按 (name, type)
// 去重、合并、截断的工具函数。
package entity
