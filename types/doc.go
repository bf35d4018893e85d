/*
Package types 提供 scoreflow 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 engine、registry、pipeline、
api、client 等上层模块提供统一的类型契约。

# 核心类型

  - Value / Record       : 封闭的带标签值变体（null、string、number、boolean、sequence）及字段映射
  - EvaluationRequest    : 单条评估请求（调用方指定的 ID + 参数）
  - EvaluationResponse   : 单条评估结果或逐条错误标记
  - Batch*               : 有序的批量请求与响应
  - Schema / Field       : 模型输入输出描述，含可选的聚合字段
  - ModelInfo / ModelMetrics: 已部署模型的描述与指标快照
  - Error / ErrorCode    : 结构化错误体系，含 HTTP 状态码与模型 ID

# 错误工具链

AsError / GetErrorCode / IsErrorCode 透过 fmt.Errorf("%w") 包装识别 *Error，
WrapError 将任意错误归入指定错误码。
*/
package types
