/*
Package registry 管理已部署模型的生命周期。

Registry 将模型 ID 映射到不可变的 Handle，负责 deploy/undeploy 状态机：

  - Deploy 在锁外解析模型源码，随后在该 ID 的锁内复查、注册指标并发布 Handle；
    已存在的 ID 返回 ALREADY_DEPLOYED，不会静默覆盖。
  - Undeploy 在该 ID 的锁内移除 Handle 并删除该 ID 下的全部指标；
    已取得 Handle 的在途求值继续完成（drain），不会被强制取消。
  - Get 无锁，基于 sync.Map；不同 ID 的部署与求值互不阻塞。

Listener 在状态变更后收到通知，用于模型源码归档等旁路逻辑。
*/
package registry
