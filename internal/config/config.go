// Package config 加载 relay 服务配置
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/config"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/idgen"
)

// Config relay 服务配置
type Config struct {
	// 服务基础配置
	Service struct {
		Name       string `mapstructure:"name"`        // 服务名称
		ServerAddr string `mapstructure:"server_addr"` // HTTP 服务地址
	} `mapstructure:"service"`

	// 基础组件配置
	Log      clog.Config                `mapstructure:"log"`      // 日志配置
	Postgres connector.PostgreSQLConfig `mapstructure:"postgres"` // PostgreSQL 配置
	Redis    connector.RedisConfig      `mapstructure:"redis"`    // Redis 配置

	// 认证配置
	Auth AuthConfig `mapstructure:"auth"`

	// WebSocket 连接参数
	Gateway GatewayConfig `mapstructure:"gateway"`

	// 限流配置
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`

	// Snowflake ID 生成器配置
	IDGen idgen.GeneratorConfig `mapstructure:"idgen"`

	// 可观测性配置
	Observability struct {
		Trace struct {
			Disable  bool    `mapstructure:"disable"`  // 是否禁用 Trace
			Endpoint string  `mapstructure:"endpoint"` // OTLP Collector 地址
			Insecure bool    `mapstructure:"insecure"` // 是否使用不安全连接
			Sampler  float64 `mapstructure:"sampler"`  // 采样率 (0.0-1.0)
		} `mapstructure:"trace"`
		Metrics struct {
			Port          int    `mapstructure:"port"`           // Prometheus 端口
			Path          string `mapstructure:"path"`           // Metrics 路径
			EnableRuntime bool   `mapstructure:"enable_runtime"` // 是否启用运行时指标
		} `mapstructure:"metrics"`
	} `mapstructure:"observability"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`    // JWT 签名密钥
	TokenTTL time.Duration `mapstructure:"token_ttl"` // 令牌有效期
}

// GetTokenTTL 获取令牌有效期，默认 24 小时
func (c *AuthConfig) GetTokenTTL() time.Duration {
	if c.TokenTTL <= 0 {
		return 24 * time.Hour
	}
	return c.TokenTTL
}

// GatewayConfig WebSocket 连接参数
type GatewayConfig struct {
	MaxMessageSize int64         `mapstructure:"max_message_size"` // 单帧大小上限
	PingInterval   time.Duration `mapstructure:"ping_interval"`    // 心跳间隔
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`     // Pong 超时
}

// GetMaxMessageSize 获取单帧大小上限，默认 64KB
func (c *GatewayConfig) GetMaxMessageSize() int64 {
	if c.MaxMessageSize <= 0 {
		return 64 * 1024
	}
	return c.MaxMessageSize
}

// GetPingInterval 获取心跳间隔，默认 30 秒
func (c *GatewayConfig) GetPingInterval() time.Duration {
	if c.PingInterval <= 0 {
		return 30 * time.Second
	}
	return c.PingInterval
}

// GetPongTimeout 获取 Pong 超时，默认 60 秒
// 必须大于心跳间隔，否则连接会被误杀
func (c *GatewayConfig) GetPongTimeout() time.Duration {
	if c.PongTimeout <= 0 {
		return 60 * time.Second
	}
	return c.PongTimeout
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Disable bool `mapstructure:"disable"` // 是否禁用限流
}

// GetServerAddr 获取监听地址，默认 :8080
func (c *Config) GetServerAddr() string {
	if strings.TrimSpace(c.Service.ServerAddr) == "" {
		return ":8080"
	}
	return c.Service.ServerAddr
}

// GetServiceName 获取服务名称，默认 relay
func (c *Config) GetServiceName() string {
	if c.Service.Name == "" {
		return "relay"
	}
	return c.Service.Name
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return fmt.Errorf("auth.secret is required")
	}
	return nil
}

// Load 创建并加载配置
// 配置加载顺序：环境变量 > .env > relay.{env}.yaml > relay.yaml
func Load() (*Config, error) {
	loader, err := config.New(&config.Config{
		Name:      "relay",
		FileType:  "yaml",
		Paths:     []string{"./configs"},
		EnvPrefix: "RELAY",
	})
	if err != nil {
		return nil, err
	}

	// 必须先 Load 才能读取配置
	ctx := context.Background()
	if err := loader.Load(ctx); err != nil {
		return nil, err
	}

	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 在 debug 模式下，打印最终生效的配置
	if os.Getenv("DEBUG_CONFIG") == "true" || os.Getenv("RELAY_DEBUG_CONFIG") == "true" {
		dumpConfig(&cfg)
	}

	return &cfg, nil
}

// MustLoad 创建并加载配置，出错时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// dumpConfig 以 JSON 格式打印配置（脱敏敏感字段）
func dumpConfig(cfg *Config) {
	sanitized := *cfg
	if sanitized.Postgres.Password != "" {
		sanitized.Postgres.Password = "***"
	}
	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = "***"
	}
	if sanitized.Auth.Secret != "" {
		sanitized.Auth.Secret = "***"
	}

	data, _ := json.MarshalIndent(sanitized, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== Relay Configuration ===\n%s\n=== End of Configuration ===\n\n", data)
}
