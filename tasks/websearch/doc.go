// Copyright (c) GraphFlow Authors.
// Licensed under the MIT License.

/*
Package websearch 提供参考文献生成节点使用的网页搜索与页面抓取。

# 核心能力

  - Search：调用 Tavily 兼容的搜索接口，使用 x/time/rate 令牌桶限流
  - Fetch：抓取单个页面，HTML 通过 x/net/html 分词器提取可见文本与标题
  - FetchAll：以 errgroup 限制并发批量抓取，失败页面记录日志后跳过，结果保持输入顺序

错误统一映射为 types.Error，429 与 5xx 标记为可重试。
*/
package websearch
