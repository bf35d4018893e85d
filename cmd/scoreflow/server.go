package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api/handlers"
	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/engine"
	"github.com/BaSui01/scoreflow/internal/archive"
	"github.com/BaSui01/scoreflow/internal/deployer"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/internal/server"
	"github.com/BaSui01/scoreflow/internal/telemetry"
	"github.com/BaSui01/scoreflow/pipeline"
	"github.com/BaSui01/scoreflow/registry"
)

const metricsNamespace = "scoreflow"

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ScoreFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 指标
	promRegistry     *prometheus.Registry
	metricsCollector *metrics.Collector
	metricSink       *metrics.Sink

	// 模型
	loader   engine.Loader
	registry *registry.Registry
	pipeline *pipeline.Pipeline
	archive  archive.Archive
	deployer *deployer.DirectoryDeployer

	// Handlers
	healthHandler *handlers.HealthHandler
	modelHandler  *handlers.ModelHandler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流器清理与目录监听的生命周期
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
		loader: engine.NewLoader(),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务。失败时已启动的部分会被关闭。
func (s *Server) Start(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return err
	}
	return nil
}

func (s *Server) start(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	// 1. 指标
	s.initMetrics()

	// 2. 存档（可选）
	if err := s.initArchive(); err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	// 3. 注册表与求值管线
	opts := []registry.Option{registry.WithCollector(s.metricsCollector)}
	if s.archive != nil {
		opts = append(opts, registry.WithListener(archive.NewListener(s.archive, s.logger)))
	}
	s.registry = registry.New(s.loader, s.metricSink, s.logger, opts...)
	s.pipeline = pipeline.New(s.registry, s.logger, pipeline.WithParallelism(s.cfg.Models.Parallelism))

	// 4. 从存档恢复
	if s.archive != nil {
		s.restore(ctx)
	}

	// 5. 目录部署器（可选）
	if err := s.startDeployer(bg); err != nil {
		return fmt.Errorf("failed to start directory deployer: %w", err)
	}

	// 6. Handlers
	s.initHandlers()

	// 7. HTTP 服务器
	if err := s.startHTTPServer(bg); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 8. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Bool("metrics_server", s.metricsManager != nil),
		zap.Bool("tls", s.cfg.Server.TLSEnabled()),
		zap.String("archive", s.cfg.Archive.Driver),
		zap.String("model_dir", s.cfg.Models.ModelDir),
		zap.Int("models", s.registry.Len()),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initMetrics 使用独立的 Prometheus registry，避免多个 Server 实例重复注册
func (s *Server) initMetrics() {
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metricsCollector = metrics.NewCollectorWith(metricsNamespace, s.promRegistry, s.logger)
	s.metricSink = metrics.NewSink(metricsNamespace, s.promRegistry, s.logger)
}

func (s *Server) initArchive() error {
	if !s.cfg.Archive.Enabled() {
		s.logger.Info("Model archive disabled")
		return nil
	}
	a, err := archive.Open(s.cfg.Archive, s.logger)
	if err != nil {
		return err
	}
	s.archive = archive.WithMetrics(a, s.cfg.Archive.Driver, s.metricsCollector)
	s.logger.Info("Model archive opened", zap.String("driver", s.cfg.Archive.Driver))
	return nil
}

// restore 恢复存档中的模型。单个模型失败只记录日志，不阻止启动。
func (s *Server) restore(ctx context.Context) {
	result, err := archive.Restore(ctx, s.archive, s.registry, s.cfg.Models.RestoreParallelism, s.logger)
	if err != nil {
		s.logger.Warn("Some archived models could not be restored",
			zap.Int("restored", result.Restored),
			zap.Int("failed", result.Failed),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("Archived models restored",
		zap.Int("restored", result.Restored),
		zap.Int("skipped", result.Skipped),
	)
}

func (s *Server) startDeployer(ctx context.Context) error {
	if s.cfg.Models.ModelDir == "" {
		return nil
	}
	s.deployer = deployer.New(s.cfg.Models.ModelDir, s.registry, s.logger,
		deployer.WithDebounce(s.cfg.Models.WatchDebounce),
		deployer.WithLoader(s.loader),
	)
	return s.deployer.Start(ctx)
}

// initHandlers 初始化所有 handlers 与就绪检查
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterOptionalCheck(handlers.NewModelCountCheck(s.registry.Len))
	if s.archive != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("archive", s.archive.Ping))
	}

	s.modelHandler = handlers.NewModelHandler(s.registry, s.pipeline, s.cfg.Server.MaxBodyBytes, s.logger)
	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建 API 路由与中间件链
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	s.modelHandler.Register(mux)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		MetricsMiddleware(s.metricsCollector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// startHTTPServer 启动 API 服务器，配置证书时使用 HTTPS
func (s *Server) startHTTPServer(ctx context.Context) error {
	serverConfig := server.FromServerConfig(s.cfg.Server.HTTPPort, s.cfg.Server)
	serverConfig.Name = "api"
	serverConfig.IdleTimeout = 2 * serverConfig.ReadTimeout

	s.httpManager = server.NewManager(s.routes(ctx), serverConfig, s.logger)

	if s.cfg.Server.TLSEnabled() {
		return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器，metrics_port 为 0 时跳过
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("Metrics server disabled")
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{
		Registry:          s.promRegistry,
		EnableOpenMetrics: true,
	}))

	metricsConfig := server.FromServerConfig(s.cfg.Server.MetricsPort, s.cfg.Server)
	metricsConfig.Name = "metrics"
	s.metricsManager = server.NewManager(mux, metricsConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// HTTPAddr 返回 API 服务器实际监听的地址
func (s *Server) HTTPAddr() string {
	if s.httpManager == nil {
		return ""
	}
	return s.httpManager.Addr()
}

// Wait 阻塞直到 ctx 结束或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
		return nil
	case err := <-managerErrors(s.httpManager):
		return fmt.Errorf("http server: %w", err)
	case err := <-managerErrors(s.metricsManager):
		return fmt.Errorf("metrics server: %w", err)
	}
}

// managerErrors 未启动的服务器返回 nil channel，select 时永不就绪
func managerErrors(m *server.Manager) <-chan error {
	if m == nil {
		return nil
	}
	return m.Errors()
}

// Shutdown 优雅关闭所有服务。
// 顺序：停止目录监听 → 关闭 HTTP → 关闭 Metrics → 下线全部模型 → 关闭存档 → 刷新遥测。
// 关闭注册表不会删除存档中的模型源，下次启动时恢复。重复调用返回首次结果。
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	var errs []error

	if s.cancel != nil {
		s.cancel()
	}

	if s.deployer != nil {
		if err := s.deployer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop directory deployer: %w", err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if s.registry != nil {
		if err := s.registry.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close registry: %w", err))
		}
	}

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}

	if err := s.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Graceful shutdown completed with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}
