package service

import (
	"context"
	"errors"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/repo"
	"gorm.io/gorm"
)

// ReactionService 表情回应服务
type ReactionService struct {
	reactionRepo repo.ReactionRepo
	messageRepo  repo.MessageRepo
	resolver     *MembershipResolver
	logger       clog.Logger
}

// NewReactionService 创建 ReactionService
func NewReactionService(
	reactionRepo repo.ReactionRepo,
	messageRepo repo.MessageRepo,
	resolver *MembershipResolver,
	logger clog.Logger,
) *ReactionService {
	if logger == nil {
		logger = clog.Discard()
	}
	return &ReactionService{
		reactionRepo: reactionRepo,
		messageRepo:  messageRepo,
		resolver:     resolver,
		logger:       logger.WithNamespace("reaction"),
	}
}

// Toggle 切换回应，返回消息本体和本次是添加还是取消
// 权限按消息所在讨论组的成员资格判定
func (s *ReactionService) Toggle(ctx context.Context, userID string, msgID int64, emoji string) (*model.Message, bool, error) {
	if userID == "" || msgID == 0 {
		return nil, false, xerrors.Wrapf(ErrInvalidArgument, "user_id and msg_id are required")
	}
	if emoji == "" {
		return nil, false, xerrors.Wrapf(ErrInvalidArgument, "emoji is required")
	}

	msg, err := s.messageRepo.GetMessage(ctx, msgID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, xerrors.Wrapf(ErrNotFound, "message %d", msgID)
		}
		return nil, false, xerrors.Wrapf(ErrInternal, "get message: %v", err)
	}

	ok, err := s.resolver.CanAccess(ctx, userID, msg.ThreadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, xerrors.Wrapf(ErrForbidden, "user %s is not a member of thread %s", userID, msg.ThreadID)
	}

	added, err := s.reactionRepo.Toggle(ctx, msgID, userID, emoji)
	if err != nil {
		s.logger.Error("failed to toggle reaction",
			clog.Int64("msg_id", msgID),
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, false, xerrors.Wrapf(ErrInternal, "toggle reaction: %v", err)
	}

	s.logger.Debug("reaction toggled",
		clog.Int64("msg_id", msgID),
		clog.String("user_id", userID),
		clog.String("emoji", emoji),
		clog.Any("added", added))
	return msg, added, nil
}
