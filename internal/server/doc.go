/*
包 server 管理 ScoreFlow 的 HTTP 监听器：API 端口与 Prometheus 指标端口各一个 Manager。

Start/StartTLS 非阻塞启动，Errors/Wait 暴露服务异常退出。Shutdown 先排空在途请求
（大批量 CSV 评分可能持续数秒），超过 ShutdownTimeout 后强制关闭剩余连接。
ActiveConnections 通过 http.Server.ConnState 统计当前连接数。
*/
package server
