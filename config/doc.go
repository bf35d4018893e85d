// Package config 提供 ScoreFlow 的配置加载。
//
// 配置按 默认值 → YAML 文件 → SCOREFLOW_ 前缀环境变量 的顺序叠加，
// 加载后由 Config.Validate 校验端口、并发度、存档驱动等设置。
package config
