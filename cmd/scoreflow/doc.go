// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ScoreFlow 服务端程序与模型管理 CLI 入口。

# 概述

cmd/scoreflow 是 ScoreFlow 的可执行入口，提供 HTTP 评分服务，
以及部署、下线、列出模型和 CSV 批量评分等客户端子命令。
服务端支持 YAML 配置文件与 SCOREFLOW_ 环境变量、结构化日志（zap）、
Prometheus 指标、OpenTelemetry 追踪、模型源存档与目录部署。

# 核心类型

  - Server          : 主服务器，组装注册表、求值管线、存档、目录部署器与双端口 HTTP
  - Middleware      : HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、deploy、undeploy、list、csv、health、version
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    Metrics、RequestLogger、CORS、RateLimiter（基于 IP）
  - 启动：打开存档 → 恢复已存档模型 → 扫描模型目录 → 启动 API 与 Metrics 服务器
  - 优雅关闭：信号 → 停止目录监听 → 关闭 HTTP → 关闭 Metrics → 下线模型 → 关闭存档
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
