/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误
传播流程，内置 SIGINT/SIGTERM 信号处理，适用于生产环境的
优雅停机需求。
*/
package server
