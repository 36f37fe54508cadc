// Package telemetry 初始化 OpenTelemetry SDK。
//
// 支持两种导出器：otlp 通过 gRPC 上报 trace 与指标；stdout 把 span 以
// JSON 写到标准输出，适合本地调试。未启用时全局 provider 保持 noop，
// 工作流执行器与 LLM 调用的埋点不产生任何开销。
package telemetry
