/*
Package engine 定义模型求值引擎契约，并提供基于 YAML 模型文档的参考实现。

# 概述

Loader 将原始模型字节解析为 Evaluator；Evaluator 对单条 types.Record 求值。
Evaluator 构造后不可变，可被任意数量的 goroutine 并发调用。

# 模型文档

	kind: regression          # regression | tree | association | expression
	summary: churn score
	inputs:
	  - {name: age, type: number, required: true}
	output: probability
	group_field: ""           # 非空时批量请求先按该字段聚合
	spec: {...}               # 各 kind 的专属参数

文档使用 go-playground/validator 校验，所有解析、校验、编译失败均返回
INVALID_MODEL_SOURCE；求值失败返回 EVALUATION_ERROR。

新模型类型通过 Register(kind, Builder) 注册。
*/
package engine
