package service

import (
	"context"
	"errors"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/google/uuid"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/repo"
	"gorm.io/gorm"
)

// 讨论组列表里每组附带的最近消息条数
const threadRecentMessages = 10

// CreateThreadParams 建组入参
type CreateThreadParams struct {
	Name        string
	Description string
	Type        string
	Priority    string
	AIEnabled   bool
	TeamID      string
	MemberIDs   []string
}

// ThreadSummary 讨论组及其派生数据，供列表接口使用
type ThreadSummary struct {
	Thread         *model.Thread    `json:"thread"`
	RecentMessages []*model.Message `json:"recent_messages"`
	UnreadCount    int64            `json:"unread_count"`
}

// MemberPresence 团队成员及其展示状态
type MemberPresence struct {
	User     *model.User `json:"user"`
	Status   string      `json:"status"`
	Activity string      `json:"activity,omitempty"`
	LastSeen *time.Time  `json:"last_seen,omitempty"`
}

// ThreadService 讨论组服务
type ThreadService struct {
	threadRepo  repo.ThreadRepo
	messageRepo repo.MessageRepo
	userRepo    repo.UserRepo
	resolver    *MembershipResolver
	presence    *PresenceService
	logger      clog.Logger
	now         func() time.Time
}

// NewThreadService 创建 ThreadService
func NewThreadService(
	threadRepo repo.ThreadRepo,
	messageRepo repo.MessageRepo,
	userRepo repo.UserRepo,
	resolver *MembershipResolver,
	presence *PresenceService,
	logger clog.Logger,
) *ThreadService {
	if logger == nil {
		logger = clog.Discard()
	}
	return &ThreadService{
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		resolver:    resolver,
		presence:    presence,
		logger:      logger.WithNamespace("thread"),
		now:         time.Now,
	}
}

// Create 创建讨论组
// 创建者成员行与讨论组同事务写入；附加成员写入失败只记日志不回滚，
// 讨论组本身的创建是成功边界
func (s *ThreadService) Create(ctx context.Context, creatorID string, params CreateThreadParams) (*model.Thread, error) {
	if creatorID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "creator_id is required")
	}
	if params.Name == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "thread name is required")
	}

	threadType := params.Type
	if threadType == "" {
		threadType = model.ThreadTypeGeneral
	}
	priority := params.Priority
	if priority == "" {
		priority = "normal"
	}

	now := s.now()
	thread := &model.Thread{
		ThreadID:       uuid.NewString(),
		TeamID:         params.TeamID,
		Name:           params.Name,
		Description:    params.Description,
		Type:           threadType,
		Priority:       priority,
		AIEnabled:      params.AIEnabled,
		CreatorID:      creatorID,
		LastActivityAt: now,
	}
	creator := &model.ThreadMember{
		ThreadID: thread.ThreadID,
		UserID:   creatorID,
		Role:     "owner",
	}
	if err := s.threadRepo.CreateThread(ctx, thread, creator); err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "create thread: %v", err)
	}

	for _, memberID := range params.MemberIDs {
		if memberID == creatorID {
			continue
		}
		member := &model.ThreadMember{
			ThreadID: thread.ThreadID,
			UserID:   memberID,
			Role:     "member",
		}
		if err := s.threadRepo.AddMember(ctx, member); err != nil {
			s.logger.Warn("failed to add initial member",
				clog.String("thread_id", thread.ThreadID),
				clog.String("user_id", memberID),
				clog.Error(err))
			continue
		}
		s.resolver.Invalidate(ctx, memberID)
	}
	s.resolver.Invalidate(ctx, creatorID)

	s.logger.Info("thread created",
		clog.String("thread_id", thread.ThreadID),
		clog.String("creator_id", creatorID),
		clog.String("type", threadType))
	return thread, nil
}

// Get 获取讨论组，仅成员可见
func (s *ThreadService) Get(ctx context.Context, userID, threadID string) (*model.Thread, error) {
	thread, err := s.threadRepo.GetThread(ctx, threadID)
	if err != nil {
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
	return thread, nil
}

// ListForUser 列出用户可见的讨论组，附带最近消息和未读计数
func (s *ThreadService) ListForUser(ctx context.Context, userID string) ([]*ThreadSummary, error) {
	if userID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id is required")
	}

	threads, err := s.threadRepo.GetUserThreads(ctx, userID)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "list threads: %v", err)
	}

	summaries := make([]*ThreadSummary, 0, len(threads))
	for _, thread := range threads {
		summary := &ThreadSummary{Thread: thread}

		recent, err := s.messageRepo.GetHistoryMessages(ctx, thread.ThreadID, time.Time{}, threadRecentMessages)
		if err != nil {
			s.logger.Warn("failed to load recent messages",
				clog.String("thread_id", thread.ThreadID),
				clog.Error(err))
		} else {
			summary.RecentMessages = recent
		}

		member, err := s.threadRepo.GetMember(ctx, thread.ThreadID, userID)
		if err == nil && member.LastReadAt != nil {
			count, err := s.messageRepo.CountSince(ctx, thread.ThreadID, *member.LastReadAt)
			if err == nil {
				summary.UnreadCount = count
			}
		} else if err == nil {
			// 从未读过，全部算未读
			count, err := s.messageRepo.CountSince(ctx, thread.ThreadID, time.Time{})
			if err == nil {
				summary.UnreadCount = count
			}
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// Join 加入讨论组，重复加入为空操作
// 归档的讨论组不可加入
func (s *ThreadService) Join(ctx context.Context, userID, threadID string) error {
	thread, err := s.threadRepo.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Wrapf(ErrNotFound, "thread %s", threadID)
		}
		return xerrors.Wrapf(ErrInternal, "get thread: %v", err)
	}
	if thread.Archived {
		return xerrors.Wrapf(ErrForbidden, "thread %s is archived", threadID)
	}

	member := &model.ThreadMember{
		ThreadID: threadID,
		UserID:   userID,
		Role:     "member",
	}
	if err := s.threadRepo.AddMember(ctx, member); err != nil {
		return xerrors.Wrapf(ErrInternal, "add member: %v", err)
	}
	s.resolver.Invalidate(ctx, userID)
	return nil
}

// Archive 归档讨论组，只有 owner 或 admin 可操作
// 归档后拒绝写入，历史消息保持可读
func (s *ThreadService) Archive(ctx context.Context, userID, threadID string) error {
	if _, err := s.threadRepo.GetThread(ctx, threadID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Wrapf(ErrNotFound, "thread %s", threadID)
		}
		return xerrors.Wrapf(ErrInternal, "get thread: %v", err)
	}

	member, err := s.threadRepo.GetMember(ctx, threadID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return xerrors.Wrapf(ErrForbidden, "user %s is not a member of thread %s", userID, threadID)
		}
		return xerrors.Wrapf(ErrInternal, "get member: %v", err)
	}
	if member.Role != "owner" && member.Role != "admin" {
		return xerrors.Wrapf(ErrForbidden, "only owner or admin can archive thread %s", threadID)
	}

	if err := s.threadRepo.ArchiveThread(ctx, threadID); err != nil {
		return xerrors.Wrapf(ErrInternal, "archive thread: %v", err)
	}

	s.logger.Info("thread archived",
		clog.String("thread_id", threadID),
		clog.String("user_id", userID))
	return nil
}

// Leave 退出讨论组，未加入时为空操作
func (s *ThreadService) Leave(ctx context.Context, userID, threadID string) error {
	if err := s.threadRepo.RemoveMember(ctx, threadID, userID); err != nil {
		return xerrors.Wrapf(ErrInternal, "remove member: %v", err)
	}
	s.resolver.Invalidate(ctx, userID)
	return nil
}

// MarkRead 把用户在讨论组中的已读位置推进到当前时刻
func (s *ThreadService) MarkRead(ctx context.Context, userID, threadID string) error {
	if err := s.threadRepo.UpdateLastRead(ctx, threadID, userID, s.now()); err != nil {
		return xerrors.Wrapf(ErrInternal, "update last read: %v", err)
	}
	return nil
}

// TeamMembers 列出用户所在团队的全部成员及其展示状态
func (s *ThreadService) TeamMembers(ctx context.Context, userID string) ([]*MemberPresence, error) {
	if userID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id is required")
	}

	teamIDs, err := s.userRepo.GetUserTeamIDs(ctx, userID)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "get user teams: %v", err)
	}

	seen := make(map[string]bool)
	var users []*model.User
	for _, teamID := range teamIDs {
		members, err := s.userRepo.GetTeamMembers(ctx, teamID)
		if err != nil {
			s.logger.Warn("failed to load team members",
				clog.String("team_id", teamID),
				clog.Error(err))
			continue
		}
		for _, member := range members {
			if seen[member.UserID] {
				continue
			}
			seen[member.UserID] = true
			users = append(users, member)
		}
	}

	userIDs := make([]string, 0, len(users))
	for _, user := range users {
		userIDs = append(userIDs, user.UserID)
	}
	presences, err := s.presence.BatchDisplayStatus(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	result := make([]*MemberPresence, 0, len(users))
	for _, user := range users {
		entry := &MemberPresence{
			User:   user,
			Status: model.StatusOffline,
		}
		if row, ok := presences[user.UserID]; ok {
			entry.Status = s.presence.ComputeDisplayStatus(row)
			entry.Activity = row.Activity
			lastSeen := row.LastSeen
			entry.LastSeen = &lastSeen
		}
		result = append(result, entry)
	}
	return result, nil
}
