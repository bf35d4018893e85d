package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/tlsutil"
)

// =============================================================================
// 🌐 监听器生命周期
// =============================================================================

// Config 单个监听器的配置
type Config struct {
	// Name 出现在日志中，例如 "api"、"metrics"
	Name string

	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认监听器配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// FromServerConfig 由服务配置生成监听 port 的配置，未设置的超时保留默认值
func FromServerConfig(port int, cfg config.ServerConfig) Config {
	c := DefaultConfig()
	c.Addr = fmt.Sprintf(":%d", port)
	if cfg.ReadTimeout > 0 {
		c.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		c.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		c.ShutdownTimeout = cfg.ShutdownTimeout
	}
	return c
}

// Manager 管理一个 http.Server 的监听、排空与关闭。
// 评分请求可能是数千行的 CSV 上传，关闭时先排空在途请求，超时后强制断开。
type Manager struct {
	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	closed   bool

	active atomic.Int64
	errCh  chan error

	config Config
	logger *zap.Logger
}

// NewManager 创建监听器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	m := &Manager{
		errCh:  make(chan error, 1),
		config: cfg,
		logger: logger.With(zap.String("component", "http_server"), zap.String("server", cfg.Name)),
	}
	m.server = &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		ConnState:      m.trackConn,
		ErrorLog:       zap.NewStdLog(m.logger),
	}
	return m
}

// Start 以明文 HTTP 启动（非阻塞）
func (m *Manager) Start() error {
	return m.listen(nil)
}

// StartTLS 以 HTTPS 启动（非阻塞），证书经 tlsutil 加载
func (m *Manager) StartTLS(certFile, keyFile string) error {
	tlsConfig, err := tlsutil.ServerTLSConfig(certFile, keyFile)
	if err != nil {
		return err
	}
	return m.listen(tlsConfig)
}

func (m *Manager) listen(tlsConfig *tls.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return errors.New("server is closed")
	case m.listener != nil:
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", m.config.Addr, err)
	}
	m.listener = ln

	serveLn := ln
	if tlsConfig != nil {
		m.server.TLSConfig = tlsConfig
		serveLn = tls.NewListener(ln, tlsConfig)
	}
	m.logger.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", tlsConfig != nil),
	)

	go func() {
		if err := m.server.Serve(serveLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

func (m *Manager) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		m.active.Add(1)
	case http.StateHijacked, http.StateClosed:
		m.active.Add(-1)
	}
}

// Shutdown 排空在途请求后关闭。超过 ShutdownTimeout（或 ctx 先结束）时强制关闭剩余连接。
// 重复调用返回 nil。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.listener == nil {
		return nil
	}

	m.logger.Info("draining connections", zap.Int64("active", m.active.Load()))

	drainCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	err := m.server.Shutdown(drainCtx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.logger.Warn("drain timed out, closing remaining connections",
			zap.Int64("active", m.active.Load()))
		if cerr := m.server.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return fmt.Errorf("shutdown %s server: %w", m.config.Name, err)
	}

	m.logger.Info("stopped")
	return nil
}

// Wait 阻塞直到 ctx 结束或服务异常退出。ctx 结束时返回 nil；关闭由调用方负责。
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.errCh:
		return err
	}
}

// Errors 返回服务异常退出的错误通道
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 启动后返回实际绑定的地址（配置为 ":0" 时有用），否则返回配置的地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// ActiveConnections 当前打开的连接数
func (m *Manager) ActiveConnections() int64 {
	return m.active.Load()
}

// IsRunning 已启动且尚未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}
