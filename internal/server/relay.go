// Package server 组装并管理 relay 服务的完整生命周期
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/cache"
	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/genesis/idgen"
	"github.com/ceyewan/genesis/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/recruitflow/relay/internal/api"
	"github.com/recruitflow/relay/internal/api/middleware"
	"github.com/recruitflow/relay/internal/auth"
	"github.com/recruitflow/relay/internal/config"
	"github.com/recruitflow/relay/internal/gateway"
	"github.com/recruitflow/relay/internal/gateway/connection"
	"github.com/recruitflow/relay/internal/gateway/room"
	"github.com/recruitflow/relay/internal/observability"
	"github.com/recruitflow/relay/internal/repo"
	"github.com/recruitflow/relay/internal/service"
	"github.com/recruitflow/relay/pkg/health"
)

// Relay 服务生命周期管理器
type Relay struct {
	config *config.Config
	logger clog.Logger

	httpServer  *HTTPServer
	healthProbe *health.Probe

	resources *resources
	ctx       context.Context
	cancel    context.CancelFunc
}

// resources 内部资源聚合，方便统一释放
type resources struct {
	postgresConn connector.PostgreSQLConnector
	redisConn    connector.RedisConnector
	cacheClient  cache.Cache
	registry     *connection.Registry

	threadRepo       repo.ThreadRepo
	messageRepo      repo.MessageRepo
	reactionRepo     repo.ReactionRepo
	presenceRepo     repo.PresenceRepo
	notificationRepo repo.NotificationRepo
	userRepo         repo.UserRepo
}

// New 创建 Relay 实例
func New() (*Relay, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := r.initComponents(); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

// initComponents 初始化所有组件
func (r *Relay) initComponents() error {
	// 1. 初始化可观测性（Trace + Metrics）
	obsCfg := &observability.Config{
		Trace: observability.TraceConfig{
			Disable:  r.config.Observability.Trace.Disable,
			Endpoint: r.config.Observability.Trace.Endpoint,
			Insecure: r.config.Observability.Trace.Insecure,
			Sampler:  r.config.Observability.Trace.Sampler,
		},
		Metrics: observability.MetricsConfig{
			Port:          r.config.Observability.Metrics.Port,
			Path:          r.config.Observability.Metrics.Path,
			EnableRuntime: r.config.Observability.Metrics.EnableRuntime,
		},
	}
	if err := observability.Init(obsCfg); err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	// 2. 初始化 Logger（带 Trace Context 支持）
	logger, err := observability.NewLogger(&r.config.Log)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	r.logger = logger

	// 3. 初始化外部连接与仓储
	if err := r.initResources(); err != nil {
		return err
	}

	// 4. 消息 ID 使用 Snowflake 生成器，同一个实例也服务请求的 trace_id
	idGen, err := idgen.NewGenerator(&r.config.IDGen, idgen.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	// 5. 服务层
	resolver := service.NewMembershipResolver(r.resources.threadRepo, r.resources.userRepo, r.resources.cacheClient, r.logger)
	notifier := service.NewNotificationDispatcher(r.resources.notificationRepo, r.logger)
	presenceSvc := service.NewPresenceService(r.resources.presenceRepo, r.logger)
	messages := service.NewMessageService(
		r.resources.messageRepo,
		r.resources.threadRepo,
		r.resources.userRepo,
		resolver,
		notifier,
		idGen,
		r.logger,
	)
	reactions := service.NewReactionService(r.resources.reactionRepo, r.resources.messageRepo, resolver, r.logger)
	threads := service.NewThreadService(
		r.resources.threadRepo,
		r.resources.messageRepo,
		r.resources.userRepo,
		resolver,
		presenceSvc,
		r.logger,
	)

	// 6. 实时网关：注册表同时充当通知推送器
	verifier, err := auth.NewVerifier(r.config.Auth.Secret)
	if err != nil {
		return fmt.Errorf("create verifier: %w", err)
	}
	registry := connection.NewRegistry(r.logger)
	router := room.NewRouter(r.logger)
	notifier.SetPusher(registry)
	r.resources.registry = registry

	gw := gateway.New(
		verifier,
		registry,
		router,
		resolver,
		messages,
		reactions,
		presenceSvc,
		threads,
		notifier,
		r.logger,
		gateway.Config{
			MaxMessageSize: r.config.Gateway.GetMaxMessageSize(),
			PingInterval:   r.config.Gateway.GetPingInterval(),
			PongTimeout:    r.config.Gateway.GetPongTimeout(),
		},
	)

	// 7. REST 镜像，写路径广播复用网关
	apiHandler := api.NewHandler(threads, messages, reactions, presenceSvc, notifier, gw, r.logger)

	// 8. 组装 HTTP 引擎
	r.healthProbe = health.NewProbe()
	engine, err := r.buildEngine(verifier, gw, apiHandler, idGen)
	if err != nil {
		return err
	}
	r.httpServer = NewHTTPServer(r.config.GetServerAddr(), r.logger, engine)

	return nil
}

// initResources 初始化 PostgreSQL、Redis 与仓储层
func (r *Relay) initResources() error {
	postgresConn, err := connector.NewPostgreSQL(&r.config.Postgres, connector.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	if err := postgresConn.Connect(r.ctx); err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}

	redisConn, err := connector.NewRedis(&r.config.Redis, connector.WithLogger(r.logger))
	if err != nil {
		postgresConn.Close()
		return fmt.Errorf("redis init: %w", err)
	}
	if err := redisConn.Connect(r.ctx); err != nil {
		postgresConn.Close()
		return fmt.Errorf("redis connect: %w", err)
	}

	database, err := db.New(&db.Config{
		Driver:         "postgresql",
		EnableSharding: false,
	}, db.WithPostgreSQLConnector(postgresConn), db.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}

	// 热数据缓存：在线状态与房间列表
	cacheClient, err := cache.New(&cache.Config{
		Driver:     cache.DriverRedis,
		Prefix:     "relay:",
		Serializer: "json",
	}, cache.WithRedisConnector(redisConn), cache.WithLogger(r.logger))
	if err != nil {
		return fmt.Errorf("cache init: %w", err)
	}

	res := &resources{
		postgresConn: postgresConn,
		redisConn:    redisConn,
		cacheClient:  cacheClient,
	}

	if res.threadRepo, err = repo.NewThreadRepo(database, repo.WithThreadRepoLogger(r.logger)); err != nil {
		return fmt.Errorf("thread repo init: %w", err)
	}
	if res.messageRepo, err = repo.NewMessageRepo(database, repo.WithMessageRepoLogger(r.logger)); err != nil {
		return fmt.Errorf("message repo init: %w", err)
	}
	if res.reactionRepo, err = repo.NewReactionRepo(database, repo.WithReactionRepoLogger(r.logger)); err != nil {
		return fmt.Errorf("reaction repo init: %w", err)
	}
	if res.presenceRepo, err = repo.NewPresenceRepo(database,
		repo.WithPresenceRepoLogger(r.logger),
		repo.WithPresenceRepoCache(cacheClient)); err != nil {
		return fmt.Errorf("presence repo init: %w", err)
	}
	if res.notificationRepo, err = repo.NewNotificationRepo(database, repo.WithNotificationRepoLogger(r.logger)); err != nil {
		return fmt.Errorf("notification repo init: %w", err)
	}
	if res.userRepo, err = repo.NewUserRepo(database, repo.WithUserRepoLogger(r.logger)); err != nil {
		return fmt.Errorf("user repo init: %w", err)
	}

	r.resources = res
	return nil
}

// buildEngine 组装 gin 引擎：中间件链、WebSocket 路由、REST 路由与健康检查
func (r *Relay) buildEngine(verifier *auth.Verifier, gw *gateway.Gateway, apiHandler *api.Handler, idGen idgen.Generator) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.Recovery(r.logger))
	engine.Use(middleware.SkipLogger(r.logger, idGen, map[string]struct{}{
		"/health": {},
		"/ready":  {},
	}))
	engine.Use(middleware.SlowQueryDetector(r.logger, time.Second))
	engine.Use(middleware.Metrics())

	authConfig := middleware.NewAuthConfig(verifier, r.logger)
	apiGroup := engine.Group("/api", authConfig.RequireAuth())

	if !r.config.RateLimit.Disable {
		limiter, err := ratelimit.New(&ratelimit.Config{
			Driver: ratelimit.DriverStandalone,
		}, ratelimit.WithLogger(r.logger))
		if err != nil {
			return nil, fmt.Errorf("create ratelimiter: %w", err)
		}
		rateLimitConfig := middleware.NewRateLimitConfig(limiter, r.logger)
		apiGroup.Use(rateLimitConfig.UserBased(
			middleware.PredefinedRateLimits.WriteUserLimits,
			middleware.PredefinedRateLimits.DefaultLimit,
		))
	}

	apiHandler.RegisterRoutes(apiGroup)

	// WebSocket 握手自带令牌校验，不走认证中间件
	engine.GET("/ws", gw.HandleWS)

	engine.GET("/health", gin.WrapF(r.healthProbe.LivenessHandler()))
	engine.GET("/ready", gin.WrapF(r.healthProbe.ReadinessHandler()))

	return engine, nil
}

// Run 启动服务
func (r *Relay) Run() error {
	r.logger.Info("starting relay server...",
		clog.String("addr", r.config.GetServerAddr()),
		clog.String("service", r.config.GetServiceName()))
	r.healthProbe.SetReady(false)
	r.healthProbe.SetShutdown(false)

	go func() {
		if err := r.httpServer.Start(); err != nil {
			r.logger.Error("http server failed", clog.Error(err))
			r.cancel()
		}
	}()

	r.healthProbe.SetReady(true)
	return nil
}

// Close 优雅关闭资源
func (r *Relay) Close() error {
	if r.logger != nil {
		r.logger.Info("shutting down relay...")
	}
	if r.healthProbe != nil {
		r.healthProbe.SetReady(false)
		r.healthProbe.SetShutdown(true)
	}
	r.cancel()

	// 1. 停止接收新请求
	if r.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.httpServer.Stop(shutdownCtx)
		cancel()
	}

	// 2. 释放核心资源（带超时控制）
	if r.resources != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			if r.resources.registry != nil {
				r.resources.registry.Close()
			}
			if r.resources.threadRepo != nil {
				r.resources.threadRepo.Close()
			}
			if r.resources.messageRepo != nil {
				r.resources.messageRepo.Close()
			}
			if r.resources.reactionRepo != nil {
				r.resources.reactionRepo.Close()
			}
			if r.resources.presenceRepo != nil {
				r.resources.presenceRepo.Close()
			}
			if r.resources.notificationRepo != nil {
				r.resources.notificationRepo.Close()
			}
			if r.resources.userRepo != nil {
				r.resources.userRepo.Close()
			}
			if r.resources.cacheClient != nil {
				r.resources.cacheClient.Close()
			}
			if r.resources.redisConn != nil {
				r.resources.redisConn.Close()
			}
			if r.resources.postgresConn != nil {
				r.resources.postgresConn.Close()
			}
			close(done)
		}()

		select {
		case <-done:
			// 正常关闭完成
		case <-shutdownCtx.Done():
			if r.logger != nil {
				r.logger.Warn("resource shutdown timed out after 10s, some connections may not be closed cleanly")
			}
		}
	}

	// 3. 关闭可观测性组件
	if err := observability.Shutdown(context.Background()); err != nil && r.logger != nil {
		r.logger.Error("observability shutdown failed", clog.Error(err))
	}

	return nil
}
