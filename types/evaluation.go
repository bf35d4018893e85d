package types

import "time"

// EvaluationRequest 是针对单条记录的评估请求
type EvaluationRequest struct {
	ID        string `json:"id" validate:"required"`
	Arguments Record `json:"arguments"`
}

// EvaluationResponse 回显请求 ID，携带结果或逐条错误标记
type EvaluationResponse struct {
	ID     string `json:"id"`
	Result Record `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Failed reports whether the record carries an error marker.
func (r EvaluationResponse) Failed() bool {
	return r.Error != nil
}

// BatchEvaluationRequest is an ordered sequence of evaluation requests.
type BatchEvaluationRequest struct {
	ID       string              `json:"id,omitempty"`
	Requests []EvaluationRequest `json:"requests" validate:"dive"`
}

// BatchEvaluationResponse holds one response per (possibly aggregated) request, in order.
type BatchEvaluationResponse struct {
	ID        string               `json:"id,omitempty"`
	Responses []EvaluationResponse `json:"responses"`
}

// Failures counts responses carrying an error marker.
func (b *BatchEvaluationResponse) Failures() int {
	n := 0
	for _, r := range b.Responses {
		if r.Failed() {
			n++
		}
	}
	return n
}

// ModelMetrics is a point-in-time view of a deployed model's counters.
type ModelMetrics struct {
	Evaluations       int64   `json:"evaluations"`
	Errors            int64   `json:"errors"`
	Batches           int64   `json:"batches"`
	MeanLatencyMillis float64 `json:"mean_latency_ms"`
}

// ModelInfo describes a deployed model.
type ModelInfo struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Summary    string    `json:"summary,omitempty"`
	DeployedAt time.Time `json:"deployed_at"`
	Size       int       `json:"size"`
	Digest     string    `json:"digest"`
	Schema     Schema    `json:"schema"`
}
