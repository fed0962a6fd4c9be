/*
Package main 提供 docqa 服务端程序入口。

# 概述

cmd/docqa 是自适应文档问答服务的可执行入口，提供 HTTP API、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）和 Prometheus 指标采集。

# 核心类型

  - Server           — 主服务器，组装处理链并管理 HTTP 生命周期
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP）
  - 路由：POST /v1/ask（问答）、/healthz、/version、/metrics
  - 优雅关闭：信号监听 → 停止限流清理 → 关闭 HTTP
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
