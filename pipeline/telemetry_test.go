package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/telemetry"
	"github.com/BaSui01/scoreflow/types"
)

func TestPipeline_BatchTelemetry(t *testing.T) {
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})

	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	providers, err := telemetry.Init(context.Background(),
		config.TelemetryConfig{Enabled: true, ServiceName: "scoreflow-test", SampleRate: 1},
		"test", zap.NewNop(),
		telemetry.WithSpanExporter(spans),
		telemetry.WithMetricReader(reader),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = providers.Shutdown(context.Background()) })

	p, reg := newTestPipeline(t, WithParallelism(2))
	deploy(t, reg, "score", scoreModel)

	_, err = p.EvaluateBatch(context.Background(), "score", &types.BatchEvaluationRequest{Requests: []types.EvaluationRequest{
		{ID: "a", Arguments: types.Record{"x": types.Number(1)}},
		{ID: "b", Arguments: types.Record{}},
		{ID: "c", Arguments: types.Record{"x": types.Number(3)}},
	}})
	require.NoError(t, err)

	var batch *tracetest.SpanStub
	for _, s := range spans.GetSpans() {
		if s.Name == "pipeline.evaluate_batch" {
			batch = &s
		}
	}
	require.NotNil(t, batch, "batch span exported")
	assert.Equal(t, codes.Error, batch.Status.Code)
	attrs := map[string]int64{}
	for _, kv := range batch.Attributes {
		if kv.Key == "model.id" {
			assert.Equal(t, "score", kv.Value.AsString())
			continue
		}
		attrs[string(kv.Key)] = kv.Value.AsInt64()
	}
	assert.Equal(t, int64(3), attrs["batch.records"])
	assert.Equal(t, int64(1), attrs["batch.failures"])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "scoreflow.batch.records" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("outcome")
				outcomes[v.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"success": 2, "error": 1}, outcomes)
}
