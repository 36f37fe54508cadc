// 版权所有 2024 GraphFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动、
阻塞式服务与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
cmd/graphflow 的 serve 子命令用它同时运行 API 服务器与 /metrics 服务器。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Serve/Shutdown/Addr/IsRunning 等方法。
  - Config：监听地址、读写与空闲超时、最大请求头大小、
    优雅关闭超时，以及可选的 TLS 证书路径。

# 主要能力

  - 非阻塞启动：Start 绑定端口后在后台 goroutine 中服务，
    Addr 返回实际绑定地址（支持 ":0" 随机端口）。
  - 阻塞服务：Serve 在 ctx 取消或服务异常时退出并执行优雅关闭，
    信号处理交给调用方的 signal.NotifyContext。
  - TLS：配置证书后使用 tlsutil.DefaultTLSConfig 的加固参数。
*/
package server
