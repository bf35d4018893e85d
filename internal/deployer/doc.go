// Package deployer 监听模型目录，把目录中的 YAML 模型文件同步部署到注册表。
package deployer
