// Package telemetry 初始化 OpenTelemetry SDK：OTLP gRPC 导出 trace 与 metric，
// 供 HTTP 追踪中间件与求值管线的批次 span、scoreflow.batch.* 指标使用。
package telemetry
