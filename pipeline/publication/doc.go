// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package publication 实现 publication_info 流水线：根据项目描述生成标题、
TLDR、标签和参考链接，并由评审节点驱动有上限的修订循环。

# 图结构

manager 先给出写作指导，随后 tldr、title、tags、references 在同一超步
并行生成，reviewer 逐项审批。未通过的组件回到对应生成节点重做，
轮次由 workflow.RevisionController 计数，达到 MaxRounds 时强制通过。
tags 不参与修订。

# 降级

manager 失败时使用 "No specific guidance"，references 失败时为空列表，
其余生成节点失败保留上一轮的值。所有失败都记录在 Result.Run.Log 中。
*/
package publication
