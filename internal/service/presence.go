package service

import (
	"context"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/xerrors"
	"github.com/recruitflow/relay/internal/model"
	"github.com/recruitflow/relay/internal/repo"
)

// 状态新鲜度窗口：短窗口内信任存储状态，中窗口降级为 away，之外一律视为离线
// 用于纠正崩溃页签留下的脏状态行
const (
	presenceFreshWindow = 5 * time.Minute
	presenceStaleWindow = 30 * time.Minute
)

var validStatuses = map[string]bool{
	model.StatusOnline:  true,
	model.StatusAway:    true,
	model.StatusBusy:    true,
	model.StatusOffline: true,
}

// PresenceService 维护用户在线状态
type PresenceService struct {
	presenceRepo repo.PresenceRepo
	logger       clog.Logger
	now          func() time.Time
}

// NewPresenceService 创建 PresenceService
func NewPresenceService(presenceRepo repo.PresenceRepo, logger clog.Logger) *PresenceService {
	if logger == nil {
		logger = clog.Discard()
	}
	return &PresenceService{
		presenceRepo: presenceRepo,
		logger:       logger.WithNamespace("presence"),
		now:          time.Now,
	}
}

// SetStatus 显式切换状态，activity 为可选的状态描述文本
func (s *PresenceService) SetStatus(ctx context.Context, userID, status, activity string) (*model.Presence, error) {
	if userID == "" {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "user_id is required")
	}
	if !validStatuses[status] {
		return nil, xerrors.Wrapf(ErrInvalidArgument, "unknown status %q", status)
	}

	presence := &model.Presence{
		UserID:   userID,
		Status:   status,
		Activity: activity,
		LastSeen: s.now(),
	}
	if err := s.presenceRepo.Upsert(ctx, presence); err != nil {
		s.logger.Error("failed to set status",
			clog.String("user_id", userID),
			clog.String("status", status),
			clog.Error(err))
		return nil, xerrors.Wrapf(ErrInternal, "set status: %v", err)
	}

	s.logger.Info("status changed",
		clog.String("user_id", userID),
		clog.String("status", status))
	return presence, nil
}

// HandleConnect 首个连接建立时置为在线
func (s *PresenceService) HandleConnect(ctx context.Context, userID string) (*model.Presence, error) {
	return s.SetStatus(ctx, userID, model.StatusOnline, "")
}

// HandleDisconnect 连接断开时的状态处理
// remaining 为该用户剩余的活跃连接数，只有降到 0 才置为离线
func (s *PresenceService) HandleDisconnect(ctx context.Context, userID string, remaining int) (*model.Presence, bool, error) {
	if remaining > 0 {
		return nil, false, nil
	}
	presence, err := s.SetStatus(ctx, userID, model.StatusOffline, "")
	if err != nil {
		return nil, false, err
	}
	return presence, true, nil
}

// Get 获取用户的原始状态行，不存在时返回 nil
func (s *PresenceService) Get(ctx context.Context, userID string) (*model.Presence, error) {
	presence, err := s.presenceRepo.Get(ctx, userID)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "get presence: %v", err)
	}
	return presence, nil
}

// ComputeDisplayStatus 由原始状态和 last_seen 新鲜度推导展示状态
func (s *PresenceService) ComputeDisplayStatus(presence *model.Presence) string {
	if presence == nil {
		return model.StatusOffline
	}
	age := s.now().Sub(presence.LastSeen)
	switch {
	case age <= presenceFreshWindow:
		return presence.Status
	case age <= presenceStaleWindow:
		if presence.Status == model.StatusOffline {
			return model.StatusOffline
		}
		return model.StatusAway
	default:
		return model.StatusOffline
	}
}

// BatchDisplayStatus 批量推导展示状态，缺行的用户视为离线
func (s *PresenceService) BatchDisplayStatus(ctx context.Context, userIDs []string) (map[string]*model.Presence, error) {
	rows, err := s.presenceRepo.BatchGet(ctx, userIDs)
	if err != nil {
		return nil, xerrors.Wrapf(ErrInternal, "batch get presence: %v", err)
	}

	result := make(map[string]*model.Presence, len(rows))
	for _, row := range rows {
		result[row.UserID] = row
	}
	return result, nil
}
