// Package bootstrap 提供数据库初始化能力：AutoMigrate 建表 + Seed 种子数据。
// 通过 `go run main.go -init` 调用，幂等可重复执行。
package bootstrap

import (
	"context"
	"fmt"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/recruitflow/relay/internal/config"
	"github.com/recruitflow/relay/internal/model"
	"gorm.io/gorm"
)

// Run 执行数据库初始化：建表 + 种子数据
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, _ := clog.New(&cfg.Log)

	logger.Info("starting database initialization...")

	postgresConn, err := connector.NewPostgreSQL(&cfg.Postgres, connector.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("postgresql connector: %w", err)
	}
	defer postgresConn.Close()

	dbInstance, err := db.New(&db.Config{Driver: "postgresql"}, db.WithPostgreSQLConnector(postgresConn), db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	defer dbInstance.Close()

	ctx := context.Background()
	gormDB := dbInstance.DB(ctx)

	logger.Info("running AutoMigrate...")
	if err := gormDB.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("AutoMigrate completed")

	logger.Info("seeding initial data...")
	if err := seed(gormDB, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Info("seed completed")

	logger.Info("database initialization finished successfully")
	return nil
}

// seed 插入种子数据（幂等）
// 用户资料由外部招聘系统同步，这里只建默认团队和全员讨论组，
// 让第一个同步进来的用户有地方可聊
func seed(gormDB *gorm.DB, logger clog.Logger) error {
	// 1. 默认团队
	team := &model.Team{
		TeamID: "team_default",
		Name:   "Recruiting",
	}
	result := gormDB.Where("team_id = ?", team.TeamID).FirstOrCreate(team)
	if result.Error != nil {
		return fmt.Errorf("seed default team: %w", result.Error)
	}
	logger.Info("default team ready", clog.String("team_id", team.TeamID))

	// 2. 默认全员讨论组
	thread := &model.Thread{
		ThreadID:  "general",
		TeamID:    team.TeamID,
		Name:      "General",
		Type:      model.ThreadTypeGeneral,
		Priority:  "normal",
		CreatorID: "system",
	}
	result = gormDB.Where("thread_id = ?", thread.ThreadID).FirstOrCreate(thread)
	if result.Error != nil {
		return fmt.Errorf("seed default thread: %w", result.Error)
	}
	logger.Info("default thread ready", clog.String("thread_id", thread.ThreadID))

	return nil
}
