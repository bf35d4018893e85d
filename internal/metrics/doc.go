/*
包 metrics 提供基于 Prometheus 的指标采集能力。

# 概述

本包包含两类指标：Collector 记录服务级指标（HTTP、模型生命周期、
归档存储），Sink 记录按模型 ID 划分的求值指标。指标通过 promauto
注册，按 namespace 隔离。

# 核心类型

  - Collector：HTTP 请求、deploy/undeploy 结果、归档操作的 Counter 与 Histogram。
  - Sink：按 model_id 标签划分的求值次数、错误数、批次数与延迟分布；
    Register 预先创建序列，Remove 删除该 ID 下的全部序列。
  - Recorder：单个模型的指标句柄，附带原子计数镜像供 Snapshot 读取。

# 生命周期约束

Sink 的键集合始终等于已部署模型 ID 集合。模型下线后，仍持有旧 Recorder
的在途求值写入已脱离 registry 的序列，不会让已删除的序列重新出现。
*/
package metrics
