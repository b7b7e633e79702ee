package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/repo"
	"gorm.io/gorm"
)

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// IDGenerator 产生全局唯一的消息 ID，生产环境用 Snowflake 实现
type IDGenerator interface {
	Next() int64
}

// SendParams 发消息的入参
type SendParams struct {
	ThreadID  string
	SenderID  string
	Content   string
	MsgType   string
	ReplyToID *int64
	Metadata  map[string]any
}

// MessageService 消息服务
// 实时网关和 REST 两条路径共用，保证副作用一致
type MessageService struct {
	messageRepo repo.MessageRepo
	threadRepo  repo.ThreadRepo
	userRepo    repo.UserRepo
	resolver    *MembershipResolver
	dispatcher  *NotificationDispatcher
	idGen       IDGenerator
	logger      clog.Logger
	now         func() time.Time
}

// NewMessageService 创建 MessageService
func NewMessageService(
	messageRepo repo.MessageRepo,
	threadRepo repo.ThreadRepo,
	userRepo repo.UserRepo,
	resolver *MembershipResolver,
	dispatcher *NotificationDispatcher,
	idGen IDGenerator,
	logger clog.Logger,
) *MessageService {
	if logger == nil {
		logger = clog.Discard()
	}
	return &MessageService{
		messageRepo: messageRepo,
		threadRepo:  threadRepo,
		userRepo:    userRepo,
		resolver:    resolver,
		dispatcher:  dispatcher,
		idGen:       idGen,
		logger:      logger.WithNamespace("message"),
		now:         time.Now,
	}
}

// Send 发送消息
// 校验顺序：讨论组存在 -> 成员资格 -> 内容非空
// 成功后冗余发送者资料、更新讨论组活跃时间，并尽力解析 @提及
func (s *MessageService) Send(ctx context.Context, params SendParams) (*model.Message, error) {
	if params.ThreadID == "" || params.SenderID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "thread_id and sender_id are required")
	}

	thread, err := s.threadRepo.GetThread(ctx, params.ThreadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "thread %s", params.ThreadID)
		}
		return nil, xerrors.Wrapf(ErrInternal, "get thread: %v", err)
	}
	if thread.Archived {
		return nil, xerrors.Wrapf(ErrForbidden, "thread %s is archived", thread.ThreadID)
	}

	ok, err := s.resolver.CanAccess(ctx, params.SenderID, params.ThreadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Wrapf(ErrForbidden, "user %s is not a member of thread %s", params.SenderID, params.ThreadID)
	}

	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "content cannot be empty")
	}

	msgType := params.MsgType
	if msgType == "" {
		msgType = model.MsgTypeText
	}

	// 冗余发送者资料，历史消息不随后续改名变化
	sender, err := s.userRepo.GetUser(ctx, params.SenderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "user %s", params.SenderID)
		}
		return nil, xerrors.Wrapf(ErrInternal, "get sender: %v", err)
	}

	now := s.now()
	msg := &model.Message{
		MsgID:      s.idGen.Next(),
		ThreadID:   thread.ThreadID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		SenderRole: sender.Role,
		Content:    content,
		MsgType:    msgType,
		Metadata:   params.Metadata,
		ReplyToID:  params.ReplyToID,
		CreatedAt:  now,
	}
	if err := s.messageRepo.SaveMessage(ctx, msg); err != nil {
		s.logger.Error("failed to save message",
			clog.String("thread_id", thread.ThreadID),
			clog.String("sender_id", sender.UserID),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrInternal, "save message: %v", err)
	}

	// 活跃时间更新失败只记日志，消息本身已是成功边界
	if err := s.threadRepo.TouchLastActivity(ctx, thread.ThreadID, now); err != nil {
		s.logger.Warn("failed to touch thread activity",
			clog.String("thread_id", thread.ThreadID),
			clog.Error(err))
	}

	s.dispatchMentions(ctx, thread, msg)

	s.logger.Info("message sent",
		clog.String("thread_id", thread.ThreadID),
		clog.String("sender_id", sender.UserID),
		clog.Int64("msg_id", msg.MsgID))
	return msg, nil
}

// dispatchMentions 扫描 @token 并为可解析的提及创建通知
// 解析失败静默忽略，属于尽力而为的增强
func (s *MessageService) dispatchMentions(ctx context.Context, thread *model.Thread, msg *model.Message) {
	if s.dispatcher == nil {
		return
	}

	seen := make(map[string]bool)
	for _, match := range mentionPattern.FindAllStringSubmatch(msg.Content, -1) {
		name := match[1]
		if seen[name] {
			continue
		}
		seen[name] = true

		user, err := s.userRepo.GetUserByDisplayName(ctx, name)
		if err != nil || user == nil || user.UserID == msg.SenderID {
			continue
		}

		_, err = s.dispatcher.Notify(ctx, user.UserID, NotifyTypeMention,
			fmt.Sprintf("%s mentioned you in %s", msg.SenderName, thread.Name),
			msg.Content,
			map[string]any{
				"thread_id": thread.ThreadID,
				"msg_id":    msg.MsgID,
				"sender_id": msg.SenderID,
			})
		if err != nil {
			s.logger.Warn("failed to dispatch mention notification",
				clog.String("mentioned_user", user.UserID),
				clog.Int64("msg_id", msg.MsgID),
				clog.Error(err))
		}
	}
}

// List 拉取历史消息，返回 before 之前最近的 limit 条，升序排列
// 仅讨论组成员可读
func (s *MessageService) List(ctx context.Context, userID, threadID string, before time.Time, limit int) ([]*model.Message, error) {
	if userID == "" || threadID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id and thread_id are required")
	}

	if _, err := s.threadRepo.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "thread %s", threadID)
		}
		return nil, xerrors.Wrapf(ErrInternal, "get thread: %v", err)
	}

	ok, err := s.resolver.CanAccess(ctx, userID, threadID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.Wrapf(ErrForbidden, "user %s is not a member of thread %s", userID, threadID)
	}

	messages, err := s.messageRepo.GetHistoryMessages(ctx, threadID, before, limit)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "get history: %v", err)
	}
	return messages, nil
}

// Edit 编辑自己发出的消息
func (s *MessageService) Edit(ctx context.Context, userID string, msgID int64, content string) (*model.Message, error) {
	if userID == "" || msgID == 0 {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id and msg_id are required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "content cannot be empty")
	}

	msg, err := s.messageRepo.GetMessage(ctx, msgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "message %d", msgID)
		}
		return nil, xerrors.Wrapf(ErrInternal, "get message: %v", err)
	}
	if msg.SenderID != userID {
		return nil, xerrors.Wrapf(ErrForbidden, "only the sender can edit message %d", msgID)
	}

	if err := s.messageRepo.MarkEdited(ctx, msgID, content); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.Wrapf(ErrNotFound, "message %d", msgID)
		}
		return nil, xerrors.Wrapf(ErrInternal, "edit message: %v", err)
	}

	msg.Content = content
	msg.Edited = true
	return msg, nil
}
