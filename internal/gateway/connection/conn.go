package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gorilla/websocket"
)

// Handler 处理一条连接上的入站帧
type Handler interface {
	HandleFrame(ctx context.Context, conn *Conn, raw []byte)
}

// Conn 表示一个 WebSocket 连接
// 同一用户可以有多条并发连接（多开页签），以 connID 区分
type Conn struct {
	connID     string
	userID     string
	conn       *websocket.Conn
	send       chan []byte
	logger     clog.Logger
	handler    Handler
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	remoteAddr string

	// 本连接已加入的房间，断开时据此做清理和离线广播
	roomMu sync.RWMutex
	rooms  map[string]struct{}

	// 配置
	maxMessageSize int64
	pingInterval   time.Duration
	pongTimeout    time.Duration
}

// NewConn 创建新的连接
func NewConn(
	connID string,
	userID string,
	conn *websocket.Conn,
	logger clog.Logger,
	handler Handler,
	maxMessageSize int64,
	pingInterval time.Duration,
	pongTimeout time.Duration,
) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		connID:         connID,
		userID:         userID,
		conn:           conn,
		send:           make(chan []byte, 256),
		logger:         logger,
		handler:        handler,
		ctx:            ctx,
		cancel:         cancel,
		remoteAddr:     conn.RemoteAddr().String(),
		rooms:          make(map[string]struct{}),
		maxMessageSize: maxMessageSize,
		pingInterval:   pingInterval,
		pongTimeout:    pongTimeout,
	}
}

// ConnID 连接唯一标识
func (c *Conn) ConnID() string {
	return c.connID
}

// UserID 连接所属用户
func (c *Conn) UserID() string {
	return c.userID
}

// RemoteAddr 客户端地址
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Send 把编码好的帧排入发送队列
// 连接已关闭或缓冲区已满时返回错误，调用方按尽力投递处理
func (c *Conn) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// AddRoom 记录已加入的房间
func (c *Conn) AddRoom(roomID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	c.rooms[roomID] = struct{}{}
}

// RemoveRoom 移除已加入的房间记录
func (c *Conn) RemoveRoom(roomID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	delete(c.rooms, roomID)
}

// Rooms 当前已加入的房间快照
func (c *Conn) Rooms() []string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	result := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		result = append(result, roomID)
	}
	return result
}

// Close 关闭连接，幂等
// send 通道不关闭：并发的 Send 可能正在投递，统一靠 ctx 终止写协程
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close()
	})
	return nil
}

// Done 连接生命周期结束时关闭
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Run 启动连接的读写协程
func (c *Conn) Run() {
	go c.writePump()
	go c.readPump()
}

// readPump 从 WebSocket 读取消息
func (c *Conn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error",
					clog.String("user_id", c.userID),
					clog.String("conn_id", c.connID),
					clog.Error(err))
			}
			break
		}

		c.handler.HandleFrame(c.ctx, c, message)
	}
}

// writePump 向 WebSocket 写入消息
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Error("failed to write message",
					clog.String("user_id", c.userID),
					clog.String("conn_id", c.connID),
					clog.Error(err))
				return
			}

		case <-ticker.C:
			// 心跳
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
