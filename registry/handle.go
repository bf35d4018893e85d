package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/BaSui01/scoreflow/engine"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/types"
)

// Handle 将一个已加载的引擎实例绑定到它自己的指标键。
// 构造后不可变，读取字段无需加锁。
type Handle struct {
	id         string
	evaluator  engine.Evaluator
	schema     types.Schema
	deployedAt time.Time
	source     []byte
	digest     string
	recorder   *metrics.Recorder
}

func newHandle(id string, ev engine.Evaluator, source []byte, deployedAt time.Time, rec *metrics.Recorder) *Handle {
	sum := sha256.Sum256(source)
	return &Handle{
		id:         id,
		evaluator:  ev,
		schema:     ev.Schema(),
		deployedAt: deployedAt,
		source:     source,
		digest:     hex.EncodeToString(sum[:]),
		recorder:   rec,
	}
}

// ID returns the model id.
func (h *Handle) ID() string { return h.id }

// DeployedAt returns the deployment timestamp.
func (h *Handle) DeployedAt() time.Time { return h.deployedAt }

// Schema returns the model schema.
func (h *Handle) Schema() types.Schema { return h.schema }

// Digest returns the hex SHA-256 of the model source.
func (h *Handle) Digest() string { return h.digest }

// Source returns a copy of the raw model source.
func (h *Handle) Source() []byte {
	out := make([]byte, len(h.source))
	copy(out, h.source)
	return out
}

// Metrics returns a snapshot of the model's counters.
func (h *Handle) Metrics() types.ModelMetrics { return h.recorder.Snapshot() }

// Recorder returns the metric recorder bound to this handle.
func (h *Handle) Recorder() *metrics.Recorder { return h.recorder }

// Info describes the deployed model.
func (h *Handle) Info() types.ModelInfo {
	return types.ModelInfo{
		ID:         h.id,
		Kind:       h.schema.Kind,
		Summary:    h.schema.Summary,
		DeployedAt: h.deployedAt,
		Size:       len(h.source),
		Digest:     h.digest,
		Schema:     h.schema,
	}
}

// Evaluate 对单条记录求值并记录一次指标观测。
// 引擎的任何失败（包括 panic）都被包装为 EVALUATION_ERROR，不重试。
func (h *Handle) Evaluate(args types.Record) (result types.Record, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = types.Errorf(types.ErrEvaluation, "engine fault: %v", r).WithModel(h.id)
		}
		h.recorder.Observe(time.Since(start), err)
	}()

	result, err = h.evaluator.Evaluate(args)
	if err != nil {
		return nil, evaluationError(h.id, err)
	}
	if result == nil {
		result = types.Record{}
	}
	return result, nil
}

func evaluationError(id string, err error) *types.Error {
	if e, ok := types.AsError(err); ok && e.Code == types.ErrEvaluation {
		// 复制一份，避免修改引擎返回的共享错误值
		return &types.Error{Code: e.Code, Message: e.Message, Model: id, Cause: e.Cause}
	}
	return types.NewError(types.ErrEvaluation, fmt.Sprintf("evaluation failed: %v", err)).
		WithModel(id).
		WithCause(err)
}
