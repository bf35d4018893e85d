// Package archive 持久化已部署模型的源，使服务重启后可以恢复部署状态。
//
// 后端有内存、Redis（哈希）与 SQL（GORM：postgres / mysql / sqlite）三种。
// Listener 把注册表的 deploy/undeploy 同步到存档；Restore 在启动时按有限并发重新部署存档中的模型。
package archive
