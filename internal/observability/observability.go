// Package observability 提供 relay 服务的可观测性支持
// 包括 Trace（分布式追踪）和 Metrics（指标收集）
package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
)

const (
	// ServiceName 服务名称
	ServiceName = "recruitflow-relay"

	// TracerName Tracer 名称
	TracerName = "relay-service"
)

var (
	// 全局组件
	meter     metrics.Meter
	traceOnce sync.Once
	shutdown  func(context.Context) error

	// 业务指标 - WebSocket
	websocketConnectionsActive metrics.Gauge
	websocketConnectionsTotal  metrics.Counter

	// 业务指标 - 消息
	messagesReceivedTotal metrics.Counter
	broadcastsFanoutTotal metrics.Counter
	broadcastsDropped     metrics.Counter

	// 业务指标 - 通知
	notificationsPushedTotal metrics.Counter

	// 业务指标 - HTTP
	httpRequestsTotal   metrics.Counter
	httpRequestDuration metrics.Histogram
	httpErrorsTotal     metrics.Counter
)

// Init 初始化可观测性组件
func Init(cfg *Config) error {
	var initErr error

	traceOnce.Do(func() {
		// 1. 初始化 Trace
		shutdownFunc, err := initTrace(cfg)
		if err != nil {
			initErr = fmt.Errorf("init trace: %w", err)
			return
		}
		shutdown = shutdownFunc

		// 2. 初始化 Metrics
		meter, err = initMetrics(cfg)
		if err != nil {
			initErr = fmt.Errorf("init metrics: %w", err)
			return
		}

		// 3. 初始化业务指标
		initBusinessMetrics()
	})

	return initErr
}

// Shutdown 优雅关闭
func Shutdown(ctx context.Context) error {
	if shutdown != nil {
		return shutdown(ctx)
	}
	if meter != nil {
		return meter.Shutdown(ctx)
	}
	return nil
}

// initTrace 初始化 Trace
func initTrace(cfg *Config) (func(context.Context) error, error) {
	if cfg.Trace.Disable {
		// 禁用 Trace，只生成 TraceID 不上报
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceNameKey.String(ServiceName),
			)),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		return tp.Shutdown, nil
	}

	endpoint := cfg.Trace.Endpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	sampler := cfg.Trace.Sampler
	if sampler == 0 {
		sampler = 1.0
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithTimeout(5 * time.Second),
	}
	if cfg.Trace.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampler))),
	}
	tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// initMetrics 初始化 Metrics
func initMetrics(cfg *Config) (metrics.Meter, error) {
	metricsCfg := &metrics.Config{
		ServiceName:   ServiceName,
		Port:          cfg.Metrics.Port,
		Path:          cfg.Metrics.Path,
		EnableRuntime: cfg.Metrics.EnableRuntime,
	}
	if metricsCfg.Port == 0 {
		metricsCfg.Port = 9092
	}
	if metricsCfg.Path == "" {
		metricsCfg.Path = "/metrics"
	}

	return metrics.New(metricsCfg)
}

// initBusinessMetrics 初始化业务指标
func initBusinessMetrics() {
	// WebSocket 连接数（当前）
	websocketConnectionsActive, _ = meter.Gauge(
		"relay_websocket_connections_active",
		"Current number of active WebSocket connections",
	)

	// WebSocket 连接总数
	websocketConnectionsTotal, _ = meter.Counter(
		"relay_websocket_connections_total",
		"Total number of WebSocket connections established",
	)

	// 收到的聊天消息总数
	messagesReceivedTotal, _ = meter.Counter(
		"relay_messages_received_total",
		"Total number of chat messages accepted",
	)

	// 广播扇出总数（按接收连接计）
	broadcastsFanoutTotal, _ = meter.Counter(
		"relay_broadcast_fanout_total",
		"Total number of events fanned out to connections",
	)

	// 因发送缓冲满而丢弃的广播帧
	broadcastsDropped, _ = meter.Counter(
		"relay_broadcast_dropped_total",
		"Total number of broadcast frames dropped",
	)

	// 推送的通知总数
	notificationsPushedTotal, _ = meter.Counter(
		"relay_notifications_pushed_total",
		"Total number of notifications pushed to live connections",
	)

	// HTTP 请求总数
	httpRequestsTotal, _ = meter.Counter(
		"relay_http_requests_total",
		"Total number of HTTP requests",
	)

	// HTTP 请求延迟（秒）
	httpRequestDuration, _ = meter.Histogram(
		"relay_http_request_duration_seconds",
		"HTTP request latency",
		metrics.WithUnit("s"),
		metrics.WithBuckets([]float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}),
	)

	// HTTP 错误总数
	httpErrorsTotal, _ = meter.Counter(
		"relay_http_errors_total",
		"Total number of HTTP errors",
	)
}

// ============================================================================
// Trace 辅助函数
// ============================================================================

// StartSpan 开始一个新的 Span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	tracer := otel.Tracer(TracerName)
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, func() {
		span.End()
	}
}

// ============================================================================
// Metrics 记录函数 - WebSocket
// ============================================================================

// SetWebSocketConnectionsActive 设置当前活跃的 WebSocket 连接数
func SetWebSocketConnectionsActive(ctx context.Context, count int) {
	if websocketConnectionsActive != nil {
		websocketConnectionsActive.Set(ctx, float64(count))
	}
}

// RecordWebSocketConnectionEstablished 记录新建 WebSocket 连接
func RecordWebSocketConnectionEstablished(ctx context.Context) {
	if websocketConnectionsTotal != nil {
		websocketConnectionsTotal.Inc(ctx)
	}
}

// ============================================================================
// Metrics 记录函数 - 消息与广播
// ============================================================================

// RecordMessageReceived 记录接收的聊天消息
func RecordMessageReceived(ctx context.Context) {
	if messagesReceivedTotal != nil {
		messagesReceivedTotal.Inc(ctx)
	}
}

// RecordBroadcastFanout 记录广播扇出的连接数
func RecordBroadcastFanout(ctx context.Context, count int, labels ...metrics.Label) {
	if broadcastsFanoutTotal != nil {
		for i := 0; i < count; i++ {
			broadcastsFanoutTotal.Inc(ctx, labels...)
		}
	}
}

// RecordBroadcastDropped 记录因缓冲满而丢弃的帧
func RecordBroadcastDropped(ctx context.Context, labels ...metrics.Label) {
	if broadcastsDropped != nil {
		broadcastsDropped.Inc(ctx, labels...)
	}
}

// RecordNotificationPushed 记录推送到在线连接的通知
func RecordNotificationPushed(ctx context.Context) {
	if notificationsPushedTotal != nil {
		notificationsPushedTotal.Inc(ctx)
	}
}

// ============================================================================
// Metrics 记录函数 - HTTP
// ============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func RecordHTTPRequest(ctx context.Context) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.Inc(ctx)
	}
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(ctx context.Context, duration time.Duration, labels ...metrics.Label) {
	if httpRequestDuration != nil {
		httpRequestDuration.Record(ctx, duration.Seconds(), labels...)
	}
}

// RecordHTTPError 记录 HTTP 错误
func RecordHTTPError(ctx context.Context, labels ...metrics.Label) {
	if httpErrorsTotal != nil {
		httpErrorsTotal.Inc(ctx, labels...)
	}
}

// ============================================================================
// Logger 创建辅助函数
// ============================================================================

// NewLogger 创建带有 Trace Context 的 Logger
func NewLogger(cfg *clog.Config) (clog.Logger, error) {
	return clog.New(cfg, clog.WithTraceContext())
}
