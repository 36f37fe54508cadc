// Package config 提供 GraphFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的优先级加载一次，
// 之后以显式结构体的形式传给各流水线构造函数。
package config
