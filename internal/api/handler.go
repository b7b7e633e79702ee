// Package api 实现 REST 镜像接口
// 与实时网关共用同一套 service，写操作完成后同样触发房间广播
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/gin-gonic/gin"
	"github.com/recruitflow/relay/internal/api/middleware"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/observability"
	"github.com/recruitflow/relay/internal/service"
)

// Broadcaster 把 REST 写路径的副作用推给在线连接
// 由实时网关实现，REST 与 WebSocket 两条路径共享同一广播语义
type Broadcaster interface {
	BroadcastNewMessage(msg *model.Message)
	BroadcastReaction(msg *model.Message, userID, emoji string, added bool)
	BroadcastStatusForUser(ctx context.Context, userID string, presence *model.Presence)
}

// Handler 实现 REST API
type Handler struct {
	threads     *service.ThreadService
	messages    *service.MessageService
	reactions   *service.ReactionService
	presence    *service.PresenceService
	notifier    *service.NotificationDispatcher
	broadcaster Broadcaster
	logger      clog.Logger
}

// NewHandler 创建 API Handler
func NewHandler(
	threads *service.ThreadService,
	messages *service.MessageService,
	reactions *service.ReactionService,
	presence *service.PresenceService,
	notifier *service.NotificationDispatcher,
	broadcaster Broadcaster,
	logger clog.Logger,
) *Handler {
	if logger == nil {
		logger = clog.Discard()
	}
	return &Handler{
		threads:     threads,
		messages:    messages,
		reactions:   reactions,
		presence:    presence,
		notifier:    notifier,
		broadcaster: broadcaster,
		logger:      logger.WithNamespace("api"),
	}
}

// RegisterRoutes 注册全部 REST 路由，调用方负责挂认证中间件
func (h *Handler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/threads", h.ListThreads)
	group.POST("/threads", h.CreateThread)
	group.GET("/threads/:id", h.GetThread)
	group.POST("/threads/:id/archive", h.ArchiveThread)
	group.POST("/threads/:id/join", h.JoinThread)
	group.POST("/threads/:id/leave", h.LeaveThread)
	group.POST("/threads/:id/read", h.MarkThreadRead)
	group.GET("/threads/:id/messages", h.ListMessages)
	group.POST("/threads/:id/messages", h.SendMessage)
	group.PATCH("/threads/:id/messages/:messageID", h.EditMessage)
	group.POST("/messages/:messageID/reactions", h.ToggleReaction)
	group.GET("/members", h.ListMembers)
	group.POST("/presence", h.UpdatePresence)
	group.GET("/notifications", h.ListNotifications)
	group.POST("/notifications/:id/read", h.MarkNotificationRead)
}

// ==================== 讨论组 ====================

// ListThreads 列出当前用户可见的讨论组
func (h *Handler) ListThreads(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	summaries, err := h.threads.ListForUser(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, summaries)
}

type createThreadRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	Priority    string   `json:"priority"`
	AIEnabled   bool     `json:"ai_enabled"`
	TeamID      string   `json:"team_id"`
	MemberIDs   []string `json:"member_ids"`
}

// CreateThread 创建讨论组，创建者自动成为 owner
func (h *Handler) CreateThread(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	thread, err := h.threads.Create(c.Request.Context(), userID, service.CreateThreadParams{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Priority:    req.Priority,
		AIEnabled:   req.AIEnabled,
		TeamID:      req.TeamID,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": thread})
}

// GetThread 获取单个讨论组，仅成员可见
func (h *Handler) GetThread(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	thread, err := h.threads.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, thread)
}

// ArchiveThread 归档讨论组，只有 owner 或 admin 可操作
func (h *Handler) ArchiveThread(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if err := h.threads.Archive(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// JoinThread 加入讨论组，重复加入为空操作
func (h *Handler) JoinThread(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if err := h.threads.Join(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// LeaveThread 退出讨论组
func (h *Handler) LeaveThread(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if err := h.threads.Leave(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// MarkThreadRead 推进已读位置到当前时刻
func (h *Handler) MarkThreadRead(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	if err := h.threads.MarkRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// ==================== 消息 ====================

// ListMessages 拉取历史消息
// limit 为页大小，before 为 RFC3339 游标，返回该时刻之前最近的一页，升序
func (h *Handler) ListMessages(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondBadRequest(c, "before must be an RFC3339 timestamp")
			return
		}
		before = parsed
	}

	messages, err := h.messages.List(c.Request.Context(), userID, c.Param("id"), before, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, messages)
}

type sendMessageRequest struct {
	Content   string         `json:"content" binding:"required"`
	MsgType   string         `json:"type"`
	ReplyToID *int64         `json:"reply_to_id"`
	Metadata  map[string]any `json:"metadata"`
}

// SendMessage 通过 REST 发消息，成功后广播给在线成员
func (h *Handler) SendMessage(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), service.SendParams{
		ThreadID:  c.Param("id"),
		SenderID:  userID,
		Content:   req.Content,
		MsgType:   req.MsgType,
		ReplyToID: req.ReplyToID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	observability.RecordMessageReceived(c.Request.Context())

	if h.broadcaster != nil {
		h.broadcaster.BroadcastNewMessage(msg)
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// EditMessage 编辑自己发出的消息
func (h *Handler) EditMessage(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	msgID, err := strconv.ParseInt(c.Param("messageID"), 10, 64)
	if err != nil {
		h.respondBadRequest(c, "message id must be an integer")
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), userID, msgID, req.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, msg)
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji" binding:"required"`
}

// ToggleReaction 切换回应，已存在则移除
func (h *Handler) ToggleReaction(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	msgID, err := strconv.ParseInt(c.Param("messageID"), 10, 64)
	if err != nil {
		h.respondBadRequest(c, "message id must be an integer")
		return
	}

	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	msg, added, err := h.reactions.Toggle(c.Request.Context(), userID, msgID, req.Emoji)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastReaction(msg, userID, req.Emoji, added)
	}
	h.respondOK(c, gin.H{"added": added})
}

// ==================== 团队与状态 ====================

// ListMembers 列出当前用户所在团队的成员及展示状态
func (h *Handler) ListMembers(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	members, err := h.threads.TeamMembers(c.Request.Context(), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, members)
}

type updatePresenceRequest struct {
	Status   string `json:"status" binding:"required"`
	Activity string `json:"current_activity"`
}

// UpdatePresence 上报状态，变化广播到用户所属的全部房间
func (h *Handler) UpdatePresence(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req updatePresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	presence, err := h.presence.SetStatus(c.Request.Context(), userID, req.Status, req.Activity)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastStatusForUser(c.Request.Context(), userID, presence)
	}
	h.respondOK(c, presence)
}

// ==================== 通知 ====================

// ListNotifications 拉取通知列表，离线期间的通知在这里补齐
func (h *Handler) ListNotifications(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.respondBadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	notifications, err := h.notifier.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, notifications)
}

// MarkNotificationRead 标记单条通知已读，只能操作自己的通知
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.respondBadRequest(c, "notification id must be an integer")
		return
	}

	if err := h.notifier.MarkRead(c.Request.Context(), id, userID); err != nil {
		h.respondError(c, err)
		return
	}
	h.respondOK(c, nil)
}

// ==================== 响应辅助 ====================

func (h *Handler) respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *Handler) respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

// respondError 把 service 层错误映射为 HTTP 状态码
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidArgument):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			clog.String("path", c.Request.URL.Path),
			clog.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}
