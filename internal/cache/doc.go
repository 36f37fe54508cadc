// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的 LLM 响应缓存存储。

Manager 封装 go-redis 客户端：所有键自动加上 KeyPrefix，GetJSON/SetJSON
满足 llm.Store 接口，超过 MaxValueBytes 的值不写入（ErrValueTooLarge），
后台定时 Ping，连通状态翻转时记录日志，最近结果由 Healthy 读取。未命中返回 ErrCacheMiss，
Close 之后的调用返回 ErrClosed。命中与未命中次数通过 Counts 读取，
Close 时写入日志。
*/
package cache
