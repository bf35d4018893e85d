package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	modelIDKey   contextKey = "model_id"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithModelID 设置当前请求的目标模型
func WithModelID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, modelIDKey, id)
}

// ModelID 获取当前请求的目标模型
func ModelID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(modelIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Fields 将 context 中已设置的键转换为日志字段
func Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if v, ok := RequestID(ctx); ok {
		fields = append(fields, zap.String("request_id", v))
	}
	if v, ok := TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", v))
	}
	if v, ok := ModelID(ctx); ok {
		fields = append(fields, zap.String("model_id", v))
	}
	return fields
}
