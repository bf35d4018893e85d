// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ScoreFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现模型部署、查询与求值端点，以及健康检查和统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路由使用 Go 1.22 的 ServeMux 模式。

# 核心类型

  - ModelHandler    : 部署、下线、信息、源文档、指标，以及 JSON/CSV 求值
  - HealthHandler   : 服务健康检查（/health, /healthz, /ready, /version）
  - Response        : 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       : 结构化错误信息，含 code、message 与 model
  - ResponseWriter  : 包装 http.ResponseWriter 以捕获状态码与响应字节数
  - Probe           : 可插拔健康探针（归档存储 Ping、模型数量等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）、请求体大小限制（413）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（4xx/5xx）
  - CSV 求值：自动识别制表符、分号或逗号分隔，按相同分隔符输出
  - 记录级失败以 200 + error 标记返回，不影响批次中的其他记录
*/
package handlers
