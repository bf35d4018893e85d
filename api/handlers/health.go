package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 存活与就绪探针
// =============================================================================

const (
	StatusAlive       = "alive"
	StatusReady       = "ready"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"

	probePass = "pass"
	probeFail = "fail"
)

// DefaultProbeTimeout 单个就绪探针的超时
const DefaultProbeTimeout = 3 * time.Second

// Probe 就绪探针
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthReport 探针响应，不使用统一信封，便于负载均衡器直接解析
type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]ProbeResult `json:"checks,omitempty"`
}

// ProbeResult 单个探针结果
type ProbeResult struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

type registeredProbe struct {
	probe    Probe
	optional bool
}

// HealthHandler 提供 /health、/healthz、/ready 与 /version。
// 必需探针失败时 /ready 返回 503；可选探针失败只把状态降为 degraded，仍返回 200。
type HealthHandler struct {
	mu      sync.RWMutex
	probes  []registeredProbe
	timeout time.Duration
	started time.Time
	logger  *zap.Logger
}

// NewHealthHandler 创建探针处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		timeout: DefaultProbeTimeout,
		started: time.Now(),
		logger:  logger.With(zap.String("component", "health")),
	}
}

// RegisterCheck 注册必需探针
func (h *HealthHandler) RegisterCheck(p Probe) {
	h.register(p, false)
}

// RegisterOptionalCheck 注册可选探针
func (h *HealthHandler) RegisterOptionalCheck(p Probe) {
	h.register(p, true)
}

func (h *HealthHandler) register(p Probe, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes = append(h.probes, registeredProbe{probe: p, optional: optional})
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活探针，进程能响应即视为存活
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthReport{
		Status:    StatusAlive,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
	})
}

// HandleHealthz 同 HandleHealth，供 Kubernetes livenessProbe 使用
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 并发执行全部探针
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	report := h.Ready(r.Context())
	status := http.StatusOK
	if report.Status == StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, report)
}

// Ready 执行探针并汇总结果
func (h *HealthHandler) Ready(ctx context.Context) HealthReport {
	h.mu.RLock()
	probes := append([]registeredProbe(nil), h.probes...)
	h.mu.RUnlock()

	results := make([]ProbeResult, len(probes))
	var g errgroup.Group
	for i, rp := range probes {
		g.Go(func() error {
			results[i] = h.run(ctx, rp)
			return nil
		})
	}
	_ = g.Wait()

	report := HealthReport{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Checks:    make(map[string]ProbeResult, len(probes)),
	}
	for i, rp := range probes {
		res := results[i]
		report.Checks[rp.probe.Name()] = res
		if res.Status == probePass {
			continue
		}
		if rp.optional {
			if report.Status == StatusReady {
				report.Status = StatusDegraded
			}
			continue
		}
		report.Status = StatusUnavailable
	}
	return report
}

func (h *HealthHandler) run(ctx context.Context, rp registeredProbe) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := rp.probe.Check(ctx)
	latency := time.Since(start)

	res := ProbeResult{Status: probePass, Latency: latency.String(), Optional: rp.optional}
	if err != nil {
		res.Status = probeFail
		res.Message = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			res.Message = "timed out after " + h.timeout.String()
		}
		h.logger.Warn("readiness probe failed",
			zap.String("probe", rp.probe.Name()),
			zap.Bool("optional", rp.optional),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
	}
	return res
}

// Names 返回已注册探针名称
func (h *HealthHandler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.probes))
	for i, rp := range h.probes {
		names[i] = rp.probe.Name()
	}
	sort.Strings(names)
	return names
}

// HandleVersion 处理 /version 请求
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, info)
	}
}

// =============================================================================
// 🔧 内置探针
// =============================================================================

// PingProbe 以 ping 函数实现的探针，用于模型存档等外部依赖
type PingProbe struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建基于 ping 的探针
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingProbe {
	return &PingProbe{name: name, ping: ping}
}

func (p *PingProbe) Name() string                    { return p.name }
func (p *PingProbe) Check(ctx context.Context) error { return p.ping(ctx) }

// ModelCountProbe 没有任何已部署模型时失败
type ModelCountProbe struct {
	count func() int
}

// NewModelCountCheck 创建模型数量探针，通常注册为可选探针
func NewModelCountCheck(count func() int) *ModelCountProbe {
	return &ModelCountProbe{count: count}
}

func (p *ModelCountProbe) Name() string { return "models" }

func (p *ModelCountProbe) Check(context.Context) error {
	if p.count() == 0 {
		return errors.New("no models deployed")
	}
	return nil
}
