package repo

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
)

// UserRepoOption 配置 UserRepo 的选项
type UserRepoOption func(*userRepoOptions)

type userRepoOptions struct {
	logger clog.Logger
}

// WithUserRepoLogger 设置日志记录器
func WithUserRepoLogger(logger clog.Logger) UserRepoOption {
	return func(o *userRepoOptions) {
		o.logger = logger
	}
}

// userRepo 实现 UserRepo 接口
type userRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewUserRepo 创建 UserRepo 实例
func NewUserRepo(database db.DB, opts ...UserRepoOption) (UserRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}

	options := &userRepoOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &userRepo{
		db:     database,
		logger: namespacedLogger(options.logger, "user_repo"),
	}, nil
}

// GetUser 根据 ID 获取用户
func (r *userRepo) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var user model.User
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, err
		}
		r.logger.Error("获取用户失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// GetUserByDisplayName 根据昵称获取用户
// @mention 解析用，找不到不算错误，返回 nil
func (r *userRepo) GetUserByDisplayName(ctx context.Context, name string) (*model.User, error) {
	if name == "" {
		return nil, fmt.Errorf("display name cannot be empty")
	}

	var user model.User
	gormDB := r.db.DB(ctx)

	if err := gormDB.Where("display_name = ?", name).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		r.logger.Error("根据昵称获取用户失败",
			clog.String("display_name", name),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user by display name: %w", err)
	}

	return &user, nil
}

// GetUserTeamIDs 获取用户所属团队 ID 列表
func (r *userRepo) GetUserTeamIDs(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}

	var ids []string
	gormDB := r.db.DB(ctx)

	if err := gormDB.Model(&model.TeamMember{}).
		Where("user_id = ?", userID).
		Pluck("team_id", &ids).Error; err != nil {
		r.logger.Error("获取用户团队列表失败",
			clog.String("user_id", userID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get user team ids: %w", err)
	}

	return ids, nil
}

// GetTeamMembers 获取团队全部成员
func (r *userRepo) GetTeamMembers(ctx context.Context, teamID string) ([]*model.User, error) {
	if teamID == "" {
		return nil, fmt.Errorf("team_id cannot be empty")
	}

	var users []*model.User
	gormDB := r.db.DB(ctx)

	if err := gormDB.
		Joins("JOIN t_team_member ON t_team_member.user_id = t_user.user_id").
		Where("t_team_member.team_id = ?", teamID).
		Order("t_user.display_name ASC").
		Find(&users).Error; err != nil {
		r.logger.Error("获取团队成员失败",
			clog.String("team_id", teamID),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get team members: %w", err)
	}

	return users, nil
}

// Close 释放资源
func (r *userRepo) Close() error {
	return nil
}
