package archive

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/engine"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/registry"
	"github.com/BaSui01/scoreflow/types"
)

const scoreModel = `
kind: regression
spec:
  intercept: 1
  coefficients: {x: 2}
`

func newTestRegistry(t *testing.T, opts ...registry.Option) *registry.Registry {
	t.Helper()
	sink := metrics.NewSink("test", prometheus.NewRegistry(), zap.NewNop())
	return registry.New(engine.NewLoader(), sink, zap.NewNop(), opts...)
}

func TestListener_MirrorsRegistry(t *testing.T) {
	a := NewMemory()
	reg := newTestRegistry(t, registry.WithListener(NewListener(a, zap.NewNop())))
	ctx := context.Background()

	require.NoError(t, reg.Deploy(ctx, "churn", []byte(scoreModel)))
	require.NoError(t, reg.Deploy(ctx, "fraud", []byte(scoreModel)))

	entries, err := a.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "churn", entries[0].ID)
	assert.Equal(t, reg.Get("churn").Digest(), entries[0].Digest)

	// 失败的 deploy 不写入存档
	assert.Error(t, reg.Deploy(ctx, "broken", []byte("kind: nope")))
	assert.Error(t, reg.Deploy(ctx, "churn", []byte(scoreModel)))

	require.NoError(t, reg.Undeploy(ctx, "churn"))
	entries, err = a.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fraud", entries[0].ID)

	// Close 不通知监听器，存档保留给下次启动
	require.NoError(t, reg.Close(ctx))
	entries, err = a.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListener_ArchiveFailureDoesNotFailDeploy(t *testing.T) {
	a := NewMemory()
	require.NoError(t, a.Close())
	reg := newTestRegistry(t, registry.WithListener(NewListener(a, zap.NewNop())))

	require.NoError(t, reg.Deploy(context.Background(), "churn", []byte(scoreModel)))
	assert.NotNil(t, reg.Get("churn"))
	require.NoError(t, reg.Undeploy(context.Background(), "churn"))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	a := NewMemory()
	require.NoError(t, a.Put(ctx, "churn", []byte(scoreModel)))
	require.NoError(t, a.Put(ctx, "fraud", []byte(scoreModel)))
	require.NoError(t, a.Put(ctx, "broken", []byte("kind: nope")))
	require.NoError(t, a.Put(ctx, "bad id!", []byte(scoreModel)))
	require.NoError(t, a.Put(ctx, "live", []byte(scoreModel)))

	reg := newTestRegistry(t)
	require.NoError(t, reg.Deploy(ctx, "live", []byte(scoreModel)))

	result, err := Restore(ctx, a, reg, 3, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"broken"`)
	assert.Contains(t, err.Error(), `"bad id!"`)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidModelSource) || types.IsErrorCode(err, types.ErrInvalidRequest))

	assert.Equal(t, RestoreResult{Restored: 2, Skipped: 1, Failed: 2}, result)
	assert.Equal(t, []string{"churn", "fraud", "live"}, reg.List())

	resp, evalErr := reg.Get("fraud").Evaluate(types.Record{"x": types.Number(3)})
	require.NoError(t, evalErr)
	assert.True(t, resp["score"].Equal(types.Number(7)))
}

func TestRestore_EmptyArchive(t *testing.T) {
	reg := newTestRegistry(t)
	result, err := Restore(context.Background(), NewMemory(), reg, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, RestoreResult{}, result)
	assert.Zero(t, reg.Len())
}

func TestRestore_LoadFailure(t *testing.T) {
	a := NewMemory()
	require.NoError(t, a.Close())

	_, err := Restore(context.Background(), a, newTestRegistry(t), 2, zap.NewNop())
	assert.ErrorIs(t, err, ErrClosed)
}
