package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 📈 按模型划分的指标 Sink
// =============================================================================

const modelLabel = "model_id"

// Sink 按模型 ID 记录求值次数、错误数、延迟分布与批次数。
//
// Register 为一个 ID 预先创建全部序列，Remove 删除该 ID 下的全部序列。
// 调用方（模型注册表）保证同一 ID 的 Register/Remove 串行执行；
// Sink 内部的互斥锁只保护键集合，不在求值路径上加锁。
type Sink struct {
	evaluations *prometheus.CounterVec
	errors      *prometheus.CounterVec
	batches     *prometheus.CounterVec
	latency     *prometheus.HistogramVec

	mu        sync.Mutex
	recorders map[string]*Recorder

	logger *zap.Logger
}

// NewSink 创建按模型划分的指标 Sink，注册到 reg
func NewSink(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Sink {
	factory := promauto.With(reg)
	s := &Sink{
		recorders: make(map[string]*Recorder),
		logger:    logger.With(zap.String("component", "metric_sink")),
	}

	s.evaluations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "evaluations_total",
			Help:      "Total number of record evaluations per deployed model",
		},
		[]string{modelLabel},
	)

	s.errors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "evaluation_errors_total",
			Help:      "Total number of failed record evaluations per deployed model",
		},
		[]string{modelLabel},
	)

	s.batches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "batches_total",
			Help:      "Total number of evaluation batches per deployed model",
		},
		[]string{modelLabel},
	)

	s.latency = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "evaluation_duration_seconds",
			Help:      "Record evaluation latency in seconds per deployed model",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{modelLabel},
	)

	return s
}

// Register 为 id 创建一组新的指标序列。
// 若 id 已注册，旧序列先被删除，返回的 Recorder 总是从零开始计数。
func (s *Sink) Register(id string) *Recorder {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recorders[id]; exists {
		s.logger.Warn("metric key re-registered", zap.String("model_id", id))
		s.deleteLocked(id)
	}

	r := &Recorder{
		id:          id,
		evaluations: s.evaluations.WithLabelValues(id),
		errors:      s.errors.WithLabelValues(id),
		batches:     s.batches.WithLabelValues(id),
		latency:     s.latency.WithLabelValues(id),
	}
	s.recorders[id] = r
	return r
}

// Remove 删除 id 下的全部指标序列，返回 id 之前是否已注册。
// 仍持有旧 Recorder 的求值会写入已脱离 registry 的序列，不会重新出现在导出中。
func (s *Sink) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.recorders[id]; !exists {
		return false
	}
	s.deleteLocked(id)
	return true
}

func (s *Sink) deleteLocked(id string) {
	delete(s.recorders, id)
	s.evaluations.DeleteLabelValues(id)
	s.errors.DeleteLabelValues(id)
	s.batches.DeleteLabelValues(id)
	s.latency.DeleteLabelValues(id)
}

// Keys 返回当前注册的指标键（已排序）
func (s *Sink) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.recorders))
	for id := range s.recorders {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// 🎯 Recorder
// =============================================================================

// Recorder 绑定单个模型的指标序列，可被并发调用
type Recorder struct {
	id          string
	evaluations prometheus.Counter
	errors      prometheus.Counter
	batches     prometheus.Counter
	latency     prometheus.Observer

	// 原子镜像，用于 Snapshot
	evalCount  atomic.Int64
	errCount   atomic.Int64
	batchCount atomic.Int64
	totalNanos atomic.Int64
}

// ID returns the metric key.
func (r *Recorder) ID() string { return r.id }

// Observe 记录一次单条记录求值
func (r *Recorder) Observe(d time.Duration, err error) {
	r.evaluations.Inc()
	r.latency.Observe(d.Seconds())
	r.evalCount.Add(1)
	r.totalNanos.Add(int64(d))
	if err != nil {
		r.errors.Inc()
		r.errCount.Add(1)
	}
}

// ObserveBatch 记录一个批次
func (r *Recorder) ObserveBatch() {
	r.batches.Inc()
	r.batchCount.Add(1)
}

// Snapshot returns the current counters.
func (r *Recorder) Snapshot() types.ModelMetrics {
	n := r.evalCount.Load()
	snap := types.ModelMetrics{
		Evaluations: n,
		Errors:      r.errCount.Load(),
		Batches:     r.batchCount.Load(),
	}
	if n > 0 {
		snap.MeanLatencyMillis = float64(r.totalNanos.Load()) / float64(n) / float64(time.Millisecond)
	}
	return snap
}
