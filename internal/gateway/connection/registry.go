package connection

import (
	"context"
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/recruitflow/relay/internal/gateway/event"
	"github.com/recruitflow/relay/internal/observability"
)

// Registry 会话注册表：用户到活跃连接集合的映射
// 支持同一用户多条并发连接，只有最后一条断开时用户才算离线
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]*Conn
	byConn map[string]*Conn
	logger clog.Logger
}

// NewRegistry 创建会话注册表
func NewRegistry(logger clog.Logger) *Registry {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Registry{
		byUser: make(map[string]map[string]*Conn),
		byConn: make(map[string]*Conn),
		logger: logger.WithNamespace("registry"),
	}
}

// Register 登记连接，返回该用户当前的连接数
func (r *Registry) Register(conn *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byUser[conn.UserID()] == nil {
		r.byUser[conn.UserID()] = make(map[string]*Conn)
	}
	r.byUser[conn.UserID()][conn.ConnID()] = conn
	r.byConn[conn.ConnID()] = conn

	observability.RecordWebSocketConnectionEstablished(context.Background())
	observability.SetWebSocketConnectionsActive(context.Background(), len(r.byConn))

	count := len(r.byUser[conn.UserID()])
	r.logger.Info("connection registered",
		clog.String("user_id", conn.UserID()),
		clog.String("conn_id", conn.ConnID()),
		clog.String("remote_addr", conn.RemoteAddr()),
		clog.Int("user_conns", count))
	return count
}

// Deregister 注销连接，返回该用户剩余的连接数
// 重复注销为空操作，返回当前剩余数
func (r *Registry) Deregister(conn *Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[conn.ConnID()]; !ok {
		return len(r.byUser[conn.UserID()])
	}
	delete(r.byConn, conn.ConnID())

	conns := r.byUser[conn.UserID()]
	delete(conns, conn.ConnID())
	remaining := len(conns)
	if remaining == 0 {
		delete(r.byUser, conn.UserID())
	}

	observability.SetWebSocketConnectionsActive(context.Background(), len(r.byConn))

	r.logger.Info("connection deregistered",
		clog.String("user_id", conn.UserID()),
		clog.String("conn_id", conn.ConnID()),
		clog.Int("remaining", remaining))
	return remaining
}

// ConnectionsOf 用户当前活跃连接的快照
func (r *Registry) ConnectionsOf(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	result := make([]*Conn, 0, len(conns))
	for _, conn := range conns {
		result = append(result, conn)
	}
	return result
}

// PushToUser 把事件推给用户的所有活跃连接，用户不在线时为空操作
// 实现 service.Pusher
func (r *Registry) PushToUser(userID string, eventType string, payload any) {
	conns := r.ConnectionsOf(userID)
	if len(conns) == 0 {
		return
	}

	frame, err := event.Encode(eventType, payload)
	if err != nil {
		r.logger.Error("failed to encode push event",
			clog.String("user_id", userID),
			clog.String("event", eventType),
			clog.Error(err))
		return
	}

	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			r.logger.Debug("push dropped",
				clog.String("user_id", userID),
				clog.String("conn_id", conn.ConnID()),
				clog.Error(err))
			continue
		}
		observability.RecordNotificationPushed(context.Background())
	}
}

// OnlineCount 当前在线用户数
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnectionCount 当前连接总数
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// Close 关闭所有连接
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.byConn))
	for _, conn := range r.byConn {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
