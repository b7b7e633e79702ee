package server

import (
	"context"
	"net/http"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
)

// HTTPServer HTTP 服务包装器
type HTTPServer struct {
	addr   string
	logger clog.Logger
	server *http.Server
}

// NewHTTPServer 创建 HTTP 服务
func NewHTTPServer(addr string, logger clog.Logger, engine *gin.Engine) *HTTPServer {
	return &HTTPServer{
		addr:   addr,
		logger: logger,
		server: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
	}
}

// Start 启动 HTTP 服务，阻塞直到服务退出
func (s *HTTPServer) Start() error {
	s.logger.Info("http server started", clog.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
