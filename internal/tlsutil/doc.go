// Package tlsutil 集中维护出站与入站连接的 TLS 参数。
//
// LLM、NER 与网页搜索客户端通过 SecureHTTPClient 取得加固的 Transport，
// Redis 连接使用 DefaultTLSConfig，API 服务在监听前用 ServerTLSConfig 加载证书。
package tlsutil
