// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 mcpserver 通过 Model Context Protocol（stdio 传输）暴露实体抽取能力，
供 IDE 与代理客户端直接调用。

# 工具

  - extract_entities：运行完整的 entity_extraction 图，返回 run_id、
    聚合实体与失败节点
  - extract_llm / extract_ner / extract_gazetteer：单独调用某个抽取器
  - get_graph：列出已注册的图，或以 Mermaid 文本返回指定图

未配置的抽取器不注册对应工具。参数错误与抽取失败以工具错误结果返回
（IsError），不会中断 MCP 会话。

cmd/graphflow 的 mcp 子命令负责装配依赖并调用 ServeStdio。
*/
package mcpserver
