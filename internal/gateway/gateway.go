// Package gateway 实现实时网关：WebSocket 握手、事件分发与广播
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/recruitflow/relay/internal/auth"
	"github.com/recruitflow/relay/internal/gateway/connection"
	"github.com/recruitflow/relay/internal/gateway/event"
	"github.com/recruitflow/relay/internal/gateway/room"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/observability"
	"github.com/recruitflow/relay/internal/service"
)

// Config 网关连接参数
type Config struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultConfig 默认连接参数
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 64 * 1024,
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
	}
}

// Gateway 实时网关
// 每个连接认证后登记到会话注册表，并按成员关系加入房间；
// 所有变更事件的广播都经由房间路由器扇出
type Gateway struct {
	verifier  *auth.Verifier
	registry  *connection.Registry
	router    *room.Router
	resolver  *service.MembershipResolver
	messages  *service.MessageService
	reactions *service.ReactionService
	presence  *service.PresenceService
	threads   *service.ThreadService
	notifier  *service.NotificationDispatcher
	upgrader  *websocket.Upgrader
	logger    clog.Logger
	cfg       Config
}

// New 创建网关
func New(
	verifier *auth.Verifier,
	registry *connection.Registry,
	router *room.Router,
	resolver *service.MembershipResolver,
	messages *service.MessageService,
	reactions *service.ReactionService,
	presence *service.PresenceService,
	threads *service.ThreadService,
	notifier *service.NotificationDispatcher,
	logger clog.Logger,
	cfg Config,
) *Gateway {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Gateway{
		verifier:  verifier,
		registry:  registry,
		router:    router,
		resolver:  resolver,
		messages:  messages,
		reactions: reactions,
		presence:  presence,
		threads:   threads,
		notifier:  notifier,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.WithNamespace("gateway"),
		cfg:    cfg,
	}
}

// HandleWS 处理 WebSocket 握手
// 令牌在升级前校验，校验失败直接拒绝，不进入事件循环
func (g *Gateway) HandleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = c.GetHeader("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}

	principal, err := g.verifier.Verify(token)
	if err != nil {
		g.logger.Warn("websocket auth failed",
			clog.String("remote_addr", c.ClientIP()),
			clog.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed",
			clog.String("user_id", principal.UserID),
			clog.Error(err))
		return
	}

	conn := connection.NewConn(
		uuid.NewString(),
		principal.UserID,
		ws,
		g.logger,
		g,
		g.cfg.MaxMessageSize,
		g.cfg.PingInterval,
		g.cfg.PongTimeout,
	)
	g.registry.Register(conn)

	ctx := c.Request.Context()
	presence, err := g.presence.HandleConnect(context.WithoutCancel(ctx), principal.UserID)
	if err != nil {
		g.logger.Error("failed to mark user online",
			clog.String("user_id", principal.UserID),
			clog.Error(err))
	}

	// 按成员关系预加入房间
	rooms, err := g.resolver.RoomsFor(context.WithoutCancel(ctx), principal.UserID)
	if err != nil {
		g.logger.Error("failed to resolve rooms",
			clog.String("user_id", principal.UserID),
			clog.Error(err))
	}
	for _, roomID := range rooms {
		g.router.Join(roomID, conn)
	}

	conn.Run()

	if presence != nil {
		g.broadcastStatus(conn.Rooms(), principal.UserID, presence)
	}

	go g.awaitDisconnect(conn)
}

// awaitDisconnect 等待连接结束并做清理
// 房间退出和注册表注销都幂等，任何时刻断开都是安全的
func (g *Gateway) awaitDisconnect(conn *connection.Conn) {
	<-conn.Done()

	rooms := conn.Rooms()
	g.router.LeaveAll(conn)
	remaining := g.registry.Deregister(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	presence, changed, err := g.presence.HandleDisconnect(ctx, conn.UserID(), remaining)
	if err != nil {
		g.logger.Error("failed to reconcile presence on disconnect",
			clog.String("user_id", conn.UserID()),
			clog.Error(err))
		return
	}
	if changed {
		g.broadcastStatus(rooms, conn.UserID(), presence)
	}
}

// HandleFrame 处理入站事件，实现 connection.Handler
// 校验失败只给发起方回 error 事件，不终止连接
func (g *Gateway) HandleFrame(ctx context.Context, conn *connection.Conn, raw []byte) {
	envelope, err := event.Decode(raw)
	if err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	switch envelope.Event {
	case event.TypeSendMessage:
		g.handleSendMessage(ctx, conn, envelope)
	case event.TypeTypingStart, event.TypeTypingStop:
		g.handleTyping(ctx, conn, envelope)
	case event.TypeAddReaction:
		g.handleAddReaction(ctx, conn, envelope)
	case event.TypeJoinChannel:
		g.handleJoinChannel(ctx, conn, envelope)
	case event.TypeLeaveChannel:
		g.handleLeaveChannel(conn, envelope)
	case event.TypeUpdateStatus:
		g.handleUpdateStatus(ctx, conn, envelope)
	case event.TypeTaskAssigned:
		g.handleTaskAssigned(ctx, conn, envelope)
	}
}

func (g *Gateway) handleSendMessage(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.SendMessageData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	msg, err := g.messages.Send(ctx, service.SendParams{
		ThreadID:  data.ThreadID,
		SenderID:  conn.UserID(),
		Content:   data.Content,
		MsgType:   data.MsgType,
		ReplyToID: data.ReplyToID,
		Metadata:  data.Metadata,
	})
	if err != nil {
		g.sendServiceError(conn, err)
		return
	}
	observability.RecordMessageReceived(ctx)

	g.BroadcastNewMessage(msg)
}

func (g *Gateway) handleTyping(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.TypingData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	ok, err := g.resolver.CanAccess(ctx, conn.UserID(), data.ThreadID)
	if err != nil || !ok {
		// 打字指示是尽力而为的瞬态事件，越权时静默丢弃
		return
	}

	outbound := event.TypeUserTyping
	if envelope.Event == event.TypeTypingStop {
		outbound = event.TypeUserStoppedTyping
	}
	g.router.Broadcast(data.ThreadID, outbound, &event.TypingData{
		ThreadID: data.ThreadID,
		UserID:   conn.UserID(),
	}, conn.ConnID())
}

func (g *Gateway) handleAddReaction(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.AddReactionData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	msg, added, err := g.reactions.Toggle(ctx, conn.UserID(), data.MessageID, data.Emoji)
	if err != nil {
		g.sendServiceError(conn, err)
		return
	}

	g.BroadcastReaction(msg, conn.UserID(), data.Emoji, added)
}

func (g *Gateway) handleJoinChannel(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.ChannelData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	// 懒加入前重新校验成员资格，越权时静默忽略
	ok, err := g.resolver.CanAccess(ctx, conn.UserID(), data.ChannelID)
	if err != nil || !ok {
		return
	}
	g.router.Join(data.ChannelID, conn)
}

func (g *Gateway) handleLeaveChannel(conn *connection.Conn, envelope *event.Envelope) {
	var data event.ChannelData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}
	g.router.Leave(data.ChannelID, conn)
}

func (g *Gateway) handleUpdateStatus(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.UpdateStatusData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}

	presence, err := g.presence.SetStatus(ctx, conn.UserID(), data.Status, data.Activity)
	if err != nil {
		g.sendServiceError(conn, err)
		return
	}

	// 按成员关系重新解析房间列表，连接建立后新加入的讨论组也能收到，
	// 不依赖本连接的房间快照
	g.BroadcastStatusForUser(ctx, conn.UserID(), presence)
}

func (g *Gateway) handleTaskAssigned(ctx context.Context, conn *connection.Conn, envelope *event.Envelope) {
	var data event.TaskAssignedData
	if err := event.DecodeData(envelope, &data); err != nil {
		g.sendError(conn, "invalid_argument", err.Error())
		return
	}
	if data.TargetUserID == "" || data.Title == "" {
		g.sendError(conn, "invalid_argument", "target_user_id and title are required")
		return
	}

	if _, err := g.notifier.Notify(ctx, data.TargetUserID, service.NotifyTypeTaskAssigned,
		data.Title, data.Content, data.Payload); err != nil {
		g.sendServiceError(conn, err)
	}
}

// BroadcastNewMessage 把新消息广播到所在讨论组的房间
// REST 发消息路径也调用，保证两条路径副作用一致
func (g *Gateway) BroadcastNewMessage(msg *model.Message) {
	g.router.Broadcast(msg.ThreadID, event.TypeNewMessage, msg, "")
}

// BroadcastReaction 广播回应的添加或移除
func (g *Gateway) BroadcastReaction(msg *model.Message, userID, emoji string, added bool) {
	outbound := event.TypeReactionAdded
	if !added {
		outbound = event.TypeReactionRemoved
	}
	g.router.Broadcast(msg.ThreadID, outbound, &event.ReactionData{
		MessageID: msg.MsgID,
		ThreadID:  msg.ThreadID,
		UserID:    userID,
		Emoji:     emoji,
	}, "")
}

// BroadcastStatusForUser 把状态变化广播到用户所属的全部房间
// 供 REST 状态上报路径使用，用户可能没有任何活跃连接
func (g *Gateway) BroadcastStatusForUser(ctx context.Context, userID string, presence *model.Presence) {
	rooms, err := g.resolver.RoomsFor(ctx, userID)
	if err != nil {
		g.logger.Warn("failed to resolve rooms for status broadcast",
			clog.String("user_id", userID),
			clog.Error(err))
		return
	}
	g.broadcastStatus(rooms, userID, presence)
}

func (g *Gateway) broadcastStatus(rooms []string, userID string, presence *model.Presence) {
	data := &event.StatusChangedData{
		UserID:   userID,
		Status:   presence.Status,
		Activity: presence.Activity,
	}
	for _, roomID := range rooms {
		g.router.Broadcast(roomID, event.TypeUserStatusChanged, data, "")
	}
}

func (g *Gateway) sendServiceError(conn *connection.Conn, err error) {
	code := "internal"
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		code = "unauthorized"
	case errors.Is(err, service.ErrForbidden):
		code = "forbidden"
	case errors.Is(err, service.ErrNotFound):
		code = "not_found"
	case errors.Is(err, service.ErrInvalidArgument):
		code = "invalid_argument"
	}
	g.sendError(conn, code, err.Error())
}

func (g *Gateway) sendError(conn *connection.Conn, code, message string) {
	frame, err := event.Encode(event.TypeError, &event.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		g.logger.Debug("error event dropped",
			clog.String("conn_id", conn.ConnID()),
			clog.Error(err))
	}
}
