package pipeline

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/scoreflow/internal/ctxkeys"
	"github.com/BaSui01/scoreflow/registry"
	"github.com/BaSui01/scoreflow/types"
)

const instrumentationName = "github.com/BaSui01/scoreflow/pipeline"

// Lookup 按 ID 查找已部署模型，未部署时返回 nil
type Lookup interface {
	Get(id string) *registry.Handle
}

// Pipeline 批量求值管线：解析模型一次，逐条求值，逐条记录指标，按序返回结果。
// 单条记录失败只体现在该条响应的错误标记中，不会中断整个批次。
type Pipeline struct {
	lookup      Lookup
	parallelism int
	validate    *validator.Validate

	tracer      trace.Tracer
	batchSize   metric.Int64Histogram
	recordTotal metric.Int64Counter

	logger *zap.Logger
}

// Option 配置 Pipeline
type Option func(*Pipeline)

// WithParallelism 设置单个批次内并发求值的记录数，1 表示顺序执行
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// New 创建批量求值管线
func New(lookup Lookup, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		lookup:      lookup,
		parallelism: 1,
		validate:    validator.New(),
		tracer:      otel.Tracer(instrumentationName),
		logger:      logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	p.batchSize, err = meter.Int64Histogram("scoreflow.batch.size",
		metric.WithDescription("Number of records evaluated per batch"),
		metric.WithUnit("{record}"))
	if err != nil {
		p.logger.Warn("create batch size histogram failed", zap.Error(err))
	}
	p.recordTotal, err = meter.Int64Counter("scoreflow.batch.records",
		metric.WithDescription("Total number of records evaluated by outcome"),
		metric.WithUnit("{record}"))
	if err != nil {
		p.logger.Warn("create record counter failed", zap.Error(err))
	}
	return p
}

// EvaluateBatch 对批次中的每条请求求值。
//
// 模型只在批次开始时解析一次，不存在时返回 MODEL_NOT_FOUND。模型声明了聚合字段时，
// 请求先经 AggregateRequests 合并，响应与合并后的分组一一对应。
// 响应顺序与（合并后的）请求顺序一致，与并发度无关。
func (p *Pipeline) EvaluateBatch(ctx context.Context, id string, req *types.BatchEvaluationRequest) (*types.BatchEvaluationResponse, error) {
	h := p.lookup.Get(id)
	if h == nil {
		return nil, modelNotFound(id)
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "batch request is required").WithModel(id)
	}
	if err := p.checkRequests(req.Requests); err != nil {
		return nil, types.WrapError(err, types.ErrInvalidRequest, "invalid batch request").WithModel(id)
	}

	requests := req.Requests
	if gf := h.Schema().GroupField; gf != "" {
		aggregated, err := AggregateRequests(gf, requests)
		if err != nil {
			return nil, types.WrapError(err, types.ErrInvalidGroupField, "aggregate requests").WithModel(id)
		}
		if dropped := len(requests) - countMembers(gf, requests); dropped > 0 {
			p.logger.Debug("requests without group field dropped",
				zap.String("model_id", id),
				zap.String("group_field", gf),
				zap.Int("dropped", dropped),
			)
		}
		requests = aggregated
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.evaluate_batch",
		trace.WithAttributes(
			attribute.String("model.id", id),
			attribute.Int("batch.requests", len(req.Requests)),
			attribute.Int("batch.records", len(requests)),
		))
	defer span.End()

	start := time.Now()
	h.Recorder().ObserveBatch()
	responses := p.evaluateAll(h, requests)

	resp := &types.BatchEvaluationResponse{ID: req.ID, Responses: responses}
	failures := resp.Failures()

	span.SetAttributes(attribute.Int("batch.failures", failures))
	if failures > 0 {
		span.SetStatus(codes.Error, "some records failed")
	}
	if p.batchSize != nil {
		p.batchSize.Record(ctx, int64(len(requests)))
	}
	if p.recordTotal != nil {
		p.recordTotal.Add(ctx, int64(len(requests)-failures), metric.WithAttributes(attribute.String("outcome", "success")))
		p.recordTotal.Add(ctx, int64(failures), metric.WithAttributes(attribute.String("outcome", "error")))
	}

	fields := append(ctxkeys.Fields(ctx),
		zap.String("model_id", id),
		zap.Int("records", len(requests)),
		zap.Int("failures", failures),
		zap.Duration("duration", time.Since(start)),
	)
	p.logger.Info("batch evaluated", fields...)

	return resp, nil
}

// Evaluate 对单条请求求值，不做聚合。求值失败以错误标记形式放在响应中。
func (p *Pipeline) Evaluate(ctx context.Context, id string, req *types.EvaluationRequest) (*types.EvaluationResponse, error) {
	h := p.lookup.Get(id)
	if h == nil {
		return nil, modelNotFound(id)
	}
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "evaluation request is required").WithModel(id)
	}
	if err := p.validate.Struct(req); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "request id is required").WithModel(id).WithCause(err)
	}

	_, span := p.tracer.Start(ctx, "pipeline.evaluate",
		trace.WithAttributes(attribute.String("model.id", id)))
	defer span.End()

	resp := evaluateOne(h, *req)
	if resp.Failed() {
		span.SetStatus(codes.Error, resp.Error.Message)
		p.logger.Debug("record evaluation failed",
			zap.String("model_id", id),
			zap.String("record_id", req.ID),
			zap.String("reason", resp.Error.Message),
		)
	}
	return &resp, nil
}

func (p *Pipeline) evaluateAll(h *registry.Handle, requests []types.EvaluationRequest) []types.EvaluationResponse {
	responses := make([]types.EvaluationResponse, len(requests))

	if p.parallelism <= 1 || len(requests) <= 1 {
		for i := range requests {
			responses[i] = evaluateOne(h, requests[i])
		}
		return responses
	}

	// 每个 goroutine 只写自己下标的槽位，顺序由下标保证
	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i := range requests {
		g.Go(func() error {
			responses[i] = evaluateOne(h, requests[i])
			return nil
		})
	}
	_ = g.Wait()
	return responses
}

func evaluateOne(h *registry.Handle, req types.EvaluationRequest) types.EvaluationResponse {
	result, err := h.Evaluate(req.Arguments)
	if err != nil {
		e := types.WrapError(err, types.ErrEvaluation, "evaluation failed")
		return types.EvaluationResponse{ID: req.ID, Error: e}
	}
	return types.EvaluationResponse{ID: req.ID, Result: result}
}

// checkRequests 校验请求 ID 必填且在批次内唯一
func (p *Pipeline) checkRequests(requests []types.EvaluationRequest) error {
	seen := make(map[string]struct{}, len(requests))
	for i := range requests {
		if err := p.validate.Struct(&requests[i]); err != nil {
			return types.Errorf(types.ErrInvalidRequest, "request #%d has no id", i+1).WithCause(err)
		}
		if _, dup := seen[requests[i].ID]; dup {
			return types.Errorf(types.ErrInvalidRequest, "duplicate request id %q", requests[i].ID)
		}
		seen[requests[i].ID] = struct{}{}
	}
	return nil
}

func countMembers(groupField string, requests []types.EvaluationRequest) int {
	n := 0
	for _, r := range requests {
		if _, ok := groupValue(r.Arguments, groupField); ok {
			n++
		}
	}
	return n
}

func modelNotFound(id string) error {
	return types.Errorf(types.ErrModelNotFound, "model %q is not deployed", id).WithModel(id)
}
