// Package api 描述 ScoreFlow HTTP API 的线上格式。
//
// # API Overview
//
// ScoreFlow 提供以下 REST 端点：
//
//	GET    /model                 列出已部署模型
//	PUT    /model/{id}            以请求体（YAML 模型文档）部署模型
//	GET    /model/{id}            模型信息
//	DELETE /model/{id}            下线模型
//	GET    /model/{id}/source     部署时的原始模型文档
//	GET    /model/{id}/metrics    模型指标快照
//	POST   /model/{id}            单条求值（JSON）
//	POST   /model/{id}/batch      批量求值（JSON）
//	POST   /model/{id}/csv        批量求值（CSV 进，CSV 出）
//	GET    /health, /healthz, /ready, /version
//
// 除 source 与 csv 端点外，所有响应都使用统一信封：
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//	{"success": false, "error": {"code": "MODEL_NOT_FOUND", "message": "...", "model": "fraud"}, ...}
//
// 单条记录的求值失败不会让请求失败：响应为 200，失败记录带 error 标记。
//
// # Base URL
//
// 默认地址为：
//
//	http://localhost:8080
//
// Prometheus 指标在独立端口暴露（默认 9091）：
//
//	http://localhost:9091/metrics
package api
