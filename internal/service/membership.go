package service

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/genesis/cache"
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/recruitflow/relay/internal/repo"
	"gorm.io/gorm"
)

const (
	membershipCacheKeyPrefix = "rooms:"
	membershipCacheTTL       = 30 * time.Second
)

// MembershipResolver 解析用户可进入的房间并做成员校验
// 房间列表带短 TTL 缓存，入组/退组时主动失效
type MembershipResolver struct {
	threadRepo repo.ThreadRepo
	userRepo   repo.UserRepo
	cache      cache.Cache
	logger     clog.Logger
}

// NewMembershipResolver 创建 MembershipResolver，cache 可为 nil
func NewMembershipResolver(threadRepo repo.ThreadRepo, userRepo repo.UserRepo, c cache.Cache, logger clog.Logger) *MembershipResolver {
	if logger == nil {
		logger = clog.Discard()
	}
	return &MembershipResolver{
		threadRepo: threadRepo,
		userRepo:   userRepo,
		cache:      c,
		logger:     logger.WithNamespace("membership"),
	}
}

// CanAccess 判断用户是否为讨论组成员
func (r *MembershipResolver) CanAccess(ctx context.Context, userID, threadID string) (bool, error) {
	if userID == "" || threadID == "" {
		return false, xerrors.Wrapf(ErrInvalidArgument, "user_id and thread_id are required")
	}

	_, err := r.threadRepo.GetMember(ctx, threadID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		r.logger.Error("failed to check membership",
			clog.String("user_id", userID),
			clog.String("thread_id", threadID),
			clog.Error(err))
		return false, xerrors.Wrapf(ErrInternal, "check membership: %v", err)
	}
	return true, nil
}

// RoomsFor 返回用户应加入的房间列表：所属团队 + 所属未归档讨论组
func (r *MembershipResolver) RoomsFor(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id is required")
	}

	if r.cache != nil {
		var cached []string
		if err := r.cache.Get(ctx, membershipCacheKeyPrefix+userID, &cached); err == nil {
			return cached, nil
		}
	}

	threadIDs, err := r.threadRepo.GetUserThreadIDs(ctx, userID)
	if err != nil {
		r.logger.Error("failed to resolve user threads",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrInternal, "resolve threads: %v", err)
	}

	teamIDs, err := r.userRepo.GetUserTeamIDs(ctx, userID)
	if err != nil {
		r.logger.Error("failed to resolve user teams",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrInternal, "resolve teams: %v", err)
	}

	rooms := make([]string, 0, len(threadIDs)+len(teamIDs))
	rooms = append(rooms, threadIDs...)
	for _, teamID := range teamIDs {
		rooms = append(rooms, "team:"+teamID)
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, membershipCacheKeyPrefix+userID, rooms, membershipCacheTTL)
	}

	return rooms, nil
}

// Invalidate 入组/退组后丢弃缓存的房间列表
func (r *MembershipResolver) Invalidate(ctx context.Context, userID string) {
	if r.cache == nil || userID == "" {
		return
	}
	if err := r.cache.Delete(ctx, membershipCacheKeyPrefix+userID); err != nil {
		r.logger.Warn("failed to invalidate rooms cache",
			clog.String("user_id", userID),
			clog.Error(err))
	}
}
