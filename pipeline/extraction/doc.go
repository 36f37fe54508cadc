// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package extraction 实现 entity_extraction 流水线：三个抽取器并行运行，
聚合节点合并结果并挑选最重要的实体。

# 图结构

图定义嵌入在 graph.yaml 中，由 workflow.ParseDefinition 解析：

	START -> {llm_extract, ner_extract, gazetteer_extract} -> aggregate -> END

三个抽取节点写各自的字段（llm_entities、ner_entities、gazetteer_entities），
互不冲突；aggregate 在下一个超步读取三者并写入 entities。

# 降级

抽取节点失败时以空实体列表作为 fallback，运行继续。聚合时 LLM 排序
失败或未配置 Aggregator，则退回按 (name, type) 去重后的并集，截断到
MaxEntities。

# 核心类型

  - Pipeline: 构建并运行图，Run 返回 Result
  - Deps: LLM、NER、词典三个 entity.Extractor 以及可选的聚合 Provider
  - Kind: 节点种类的闭集合，由 resolver 映射到任务函数
*/
package extraction
