// Package room 实现房间路由：逻辑分组到活跃连接集合的映射与事件扇出
package room

import (
	"context"
	"sync"

	"github.com/ceyewan/genesis/clog"
	"github.com/recruitflow/relay/internal/gateway/connection"
	"github.com/recruitflow/relay/internal/gateway/event"
	"github.com/recruitflow/relay/internal/observability"
)

// Router 房间路由器
// 广播是尽力而为的：广播中途断开的连接收不到事件，不重试不排队
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*connection.Conn
	logger clog.Logger
}

// NewRouter 创建房间路由器
func NewRouter(logger clog.Logger) *Router {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Router{
		rooms:  make(map[string]map[string]*connection.Conn),
		logger: logger.WithNamespace("room"),
	}
}

// Join 连接加入房间，重复加入为空操作
func (r *Router) Join(roomID string, conn *connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*connection.Conn)
	}
	if _, exists := r.rooms[roomID][conn.ConnID()]; exists {
		return
	}
	r.rooms[roomID][conn.ConnID()] = conn
	conn.AddRoom(roomID)

	r.logger.Debug("joined room",
		clog.String("room_id", roomID),
		clog.String("conn_id", conn.ConnID()),
		clog.String("user_id", conn.UserID()))
}

// Leave 连接退出房间，未加入时为空操作
func (r *Router) Leave(roomID string, conn *connection.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(roomID, conn)
}

// LeaveAll 连接断开时清理其全部房间，幂等
func (r *Router) LeaveAll(conn *connection.Conn) {
	rooms := conn.Rooms()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roomID := range rooms {
		r.removeLocked(roomID, conn)
	}
}

func (r *Router) removeLocked(roomID string, conn *connection.Conn) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, exists := members[conn.ConnID()]; !exists {
		return
	}
	delete(members, conn.ConnID())
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	conn.RemoveRoom(roomID)
}

// Broadcast 向房间内所有连接广播事件
// excludeConnID 非空时跳过该连接（如打字事件不回发给发起者）
func (r *Router) Broadcast(roomID, eventType string, payload any, excludeConnID string) {
	frame, err := event.Encode(eventType, payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast event",
			clog.String("room_id", roomID),
			clog.String("event", eventType),
			clog.Error(err))
		return
	}

	r.mu.RLock()
	conns := make([]*connection.Conn, 0, len(r.rooms[roomID]))
	for _, conn := range r.rooms[roomID] {
		if conn.ConnID() == excludeConnID {
			continue
		}
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if err := conn.Send(frame); err != nil {
			observability.RecordBroadcastDropped(context.Background())
			r.logger.Debug("broadcast dropped",
				clog.String("room_id", roomID),
				clog.String("conn_id", conn.ConnID()),
				clog.Error(err))
			continue
		}
		delivered++
	}
	observability.RecordBroadcastFanout(context.Background(), delivered)
}

// MemberCount 房间内的连接数
func (r *Router) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount 当前非空房间数
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
