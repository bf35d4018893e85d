package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 📦 响应信封
// =============================================================================

// Envelope 是服务端统一响应的解码形式，data 延迟解码
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// AsError 把错误详情还原为 *types.Error，status 为响应状态码
func (d *ErrorDetail) AsError(status int) *types.Error {
	if d == nil {
		return types.Errorf(types.ErrInternalError, "unexpected status %d", status).WithHTTPStatus(status)
	}
	code := types.ErrorCode(d.Code)
	if code == "" {
		code = types.ErrInternalError
	}
	return types.NewError(code, d.Message).WithModel(d.Model).WithHTTPStatus(status)
}

// Err 返回信封中的错误；成功响应返回 nil
func (e *Envelope) Err(status int) error {
	if e.Success && status < http.StatusBadRequest {
		return nil
	}
	return e.Error.AsError(status)
}

// Decode 把 data 解码到 out
func (e *Envelope) Decode(out any) error {
	if out == nil || len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// =============================================================================
// 🧮 模型端点
// =============================================================================

// UndeployResponse DELETE /model/{id} 的响应数据
type UndeployResponse struct {
	ID string `json:"id"`
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// HealthReport /health 与 /ready 的响应（不使用信封）
type HealthReport struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckReport `json:"checks,omitempty"`
}

// CheckReport 单个就绪检查的结果
type CheckReport struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}
