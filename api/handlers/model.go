package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/ctxkeys"
	"github.com/BaSui01/scoreflow/registry"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🧮 Model Handler
// =============================================================================

// ModelRegistry 模型处理器使用的注册表操作
type ModelRegistry interface {
	Deploy(ctx context.Context, id string, source []byte) error
	Undeploy(ctx context.Context, id string) error
	Get(id string) *registry.Handle
	Infos() []types.ModelInfo
}

// BatchEvaluator 模型处理器使用的求值管线
type BatchEvaluator interface {
	Evaluate(ctx context.Context, id string, req *types.EvaluationRequest) (*types.EvaluationResponse, error)
	EvaluateBatch(ctx context.Context, id string, req *types.BatchEvaluationRequest) (*types.BatchEvaluationResponse, error)
}

// ModelHandler 模型部署、查询与求值的 HTTP 处理器
type ModelHandler struct {
	registry     ModelRegistry
	evaluator    BatchEvaluator
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewModelHandler 创建模型处理器。maxBodyBytes <= 0 时不限制请求体大小。
func NewModelHandler(reg ModelRegistry, evaluator BatchEvaluator, maxBodyBytes int64, logger *zap.Logger) *ModelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandler{
		registry:     reg,
		evaluator:    evaluator,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("component", "model_handler")),
	}
}

// Register 注册 /model 路由
func (h *ModelHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /model", h.HandleList)
	mux.HandleFunc("PUT /model/{id}", h.HandleDeploy)
	mux.HandleFunc("GET /model/{id}", h.HandleInfo)
	mux.HandleFunc("DELETE /model/{id}", h.HandleUndeploy)
	mux.HandleFunc("GET /model/{id}/source", h.HandleSource)
	mux.HandleFunc("GET /model/{id}/metrics", h.HandleMetrics)
	mux.HandleFunc("POST /model/{id}", h.HandleEvaluate)
	mux.HandleFunc("POST /model/{id}/batch", h.HandleEvaluateBatch)
	mux.HandleFunc("POST /model/{id}/csv", h.HandleEvaluateCSV)
}

// HandleList 列出已部署模型（按 ID 排序）
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.registry.Infos())
}

// HandleDeploy 以请求体为模型源部署模型，成功返回 201 与模型信息
func (h *ModelHandler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	source, err := io.ReadAll(h.limitBody(w, r))
	if err != nil {
		h.writeBodyError(w, r, err)
		return
	}

	if err := h.registry.Deploy(r.Context(), id, source); err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return
	}

	handle := h.registry.Get(id)
	if handle == nil {
		// 部署后立即被并发 undeploy
		WriteErrorFor(w, r, types.Errorf(types.ErrModelNotFound, "model %q is not deployed", id).WithModel(id), h.logger)
		return
	}
	WriteSuccessStatus(w, http.StatusCreated, handle.Info())
}

// HandleInfo 返回模型信息
func (h *ModelHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, handle.Info())
}

// HandleUndeploy 下线模型
func (h *ModelHandler) HandleUndeploy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.modelID(w, r)
	if !ok {
		return
	}
	if err := h.registry.Undeploy(r.Context(), id); err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"id": id})
}

// HandleSource 返回部署时的原始模型源
func (h *ModelHandler) HandleSource(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("ETag", `"`+handle.Digest()+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(handle.Source())
}

// HandleMetrics 返回模型指标快照
func (h *ModelHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.lookup(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, handle.Metrics())
}

// HandleEvaluate 对单条请求求值。记录级失败以 200 + error 标记返回。
func (h *ModelHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	var req types.EvaluationRequest
	r.Body = h.limitBody(w, r)
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	resp, err := h.evaluator.Evaluate(ctxkeys.WithModelID(r.Context(), id), id, &req)
	if err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// HandleEvaluateBatch 对批量请求求值，响应顺序与（聚合后的）请求顺序一致
func (h *ModelHandler) HandleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.modelID(w, r)
	if !ok {
		return
	}

	var req types.BatchEvaluationRequest
	r.Body = h.limitBody(w, r)
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	resp, err := h.evaluator.EvaluateBatch(ctxkeys.WithModelID(r.Context(), id), id, &req)
	if err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, resp)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ModelHandler) modelID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if err := registry.ValidateID(id); err != nil {
		WriteErrorFor(w, r, err, h.logger)
		return "", false
	}
	return id, true
}

func (h *ModelHandler) lookup(w http.ResponseWriter, r *http.Request) (*registry.Handle, bool) {
	id, ok := h.modelID(w, r)
	if !ok {
		return nil, false
	}
	handle := h.registry.Get(id)
	if handle == nil {
		WriteErrorFor(w, r, types.Errorf(types.ErrModelNotFound, "model %q is not deployed", id).WithModel(id), h.logger)
		return nil, false
	}
	return handle, true
}

func (h *ModelHandler) limitBody(w http.ResponseWriter, r *http.Request) io.ReadCloser {
	if h.maxBodyBytes <= 0 {
		return r.Body
	}
	return http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
}

func (h *ModelHandler) writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorFor(w, r, types.Errorf(types.ErrInvalidRequest, "request body exceeds %d bytes", tooLarge.Limit).
			WithHTTPStatus(http.StatusRequestEntityTooLarge), h.logger)
		return
	}
	WriteErrorFor(w, r, types.WrapError(err, types.ErrInvalidRequest, "read request body"), h.logger)
}
