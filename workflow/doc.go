// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供基于状态图的工作流编排与执行引擎。

# 概述

workflow 包以同步超步（superstep）方式执行有向图：每一步取出当前
frontier 中的全部节点并发执行，节点读取状态快照并返回增量 Delta，
执行器在该步结束后按节点名排序合并增量，再根据无条件边、路由器与
修订循环计算下一步 frontier，直到 frontier 为空或超过步数上限。

# 核心接口与类型

  - State / Delta: 共享状态与节点返回的部分更新
  - Schema / Field: 固定字段集合，每个字段带声明类型，MergeReplace / MergeAppend 合并策略
  - TaskFunc: 节点统一契约 (ctx, State) -> (Delta, error)
  - GraphBuilder: Fluent API 构建图并在 Build 时完成全部校验
  - Route: 路由结果枚举：Continue / Fork / End
  - Executor: BSP 执行器（并发、超时、重试、fallback、步数上限）
  - RevisionController: 评审驱动的有界修订循环，强制在 MaxRounds 收敛
  - RunLog: 每个节点每一步的执行记录
  - Definition: YAML/JSON 声明式图定义，节点 kind 在构建时解析

# 主要能力

  - 构建期校验：边引用、START 出边、可达性、到 END 的路径、重复边、
    兄弟节点写字段不相交
  - 节点失败隔离：错误、panic、超时均转为 fallback 增量并写入 RunLog
  - 同一步内多个节点写同一字段视为致命错误，不做静默覆盖
  - 扇入去重：同一步多条边指向同一目标时只调度一次
  - 可观测性：zap 日志、OpenTelemetry span、Observer 钩子
  - Mermaid 图导出
*/
package workflow
