package archive

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/metrics"
)

// =============================================================================
// 🧪 后端契约测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)

	a, err := NewRedis(config.RedisConfig{Addr: mr.Addr(), Key: "test:models"}, 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return mr, a
}

func setupTestSQL(t *testing.T) *SQL {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// :memory: 数据库按连接隔离，固定为单连接
	a, err := NewSQL(db, PoolConfig{MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func backends(t *testing.T) map[string]Archive {
	_, r := setupTestRedis(t)
	return map[string]Archive{
		"memory": NewMemory(),
		"redis":  r,
		"sql":    setupTestSQL(t),
	}
}

func TestArchive_Contract(t *testing.T) {
	for name, a := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			entries, err := a.LoadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)

			require.NoError(t, a.Put(ctx, "zeta", []byte("kind: regression")))
			require.NoError(t, a.Put(ctx, "alpha", []byte("v1")))
			require.NoError(t, a.Put(ctx, "alpha", []byte("v2")), "put overwrites")

			entries, err = a.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "alpha", entries[0].ID)
			assert.Equal(t, []byte("v2"), entries[0].Source)
			assert.Equal(t, Digest([]byte("v2")), entries[0].Digest)
			assert.False(t, entries[0].UpdatedAt.IsZero())
			assert.Equal(t, "zeta", entries[1].ID)

			require.NoError(t, a.Delete(ctx, "alpha"))
			require.NoError(t, a.Delete(ctx, "alpha"), "deleting a missing id is not an error")

			entries, err = a.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, "zeta", entries[0].ID)

			require.NoError(t, a.Ping(ctx))
			require.NoError(t, a.Close())
			require.NoError(t, a.Close(), "close is idempotent")

			assert.ErrorIs(t, a.Put(ctx, "x", nil), ErrClosed)
			assert.ErrorIs(t, a.Ping(ctx), ErrClosed)
			_, err = a.LoadAll(ctx)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestMemory_SourceIsCopied(t *testing.T) {
	a := NewMemory()
	ctx := context.Background()

	src := []byte("original")
	require.NoError(t, a.Put(ctx, "m", src))
	src[0] = 'X'

	entries, err := a.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), entries[0].Source)

	entries[0].Source[0] = 'Y'
	again, err := a.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again[0].Source)
}

func TestRedis_StoresHashFields(t *testing.T) {
	mr, a := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "m1", []byte("source-1")))
	assert.Equal(t, "source-1", mr.HGet("test:models", "m1"))
	assert.NotEmpty(t, mr.HGet("test:models:updated", "m1"))

	require.NoError(t, a.Delete(ctx, "m1"))
	assert.False(t, mr.Exists("test:models"))
}

func TestRedis_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedis(config.RedisConfig{Addr: addr, Key: "k"}, 0, zap.NewNop())
	assert.Error(t, err)

	_, err = NewRedis(config.RedisConfig{Addr: addr}, 0, zap.NewNop())
	assert.ErrorContains(t, err, "key is required")
}

func TestRedis_PingFailsWhenServerGone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	a, err := NewRedis(config.RedisConfig{Addr: mr.Addr(), Key: "k"}, 0, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, a.Ping(ctx))
}

func TestSQL_PersistsAcrossInstances(t *testing.T) {
	path := t.TempDir() + "/models.db"
	ctx := context.Background()

	db, err := OpenDatabase(config.ArchiveDriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	first, err := NewSQL(db, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "churn", []byte("kind: tree")))
	require.NoError(t, first.Close())

	db, err = OpenDatabase(config.ArchiveDriverSQLite, path, zap.NewNop())
	require.NoError(t, err)
	second, err := NewSQL(db, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	entries, err := second.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "churn", entries[0].ID)
	assert.Equal(t, []byte("kind: tree"), entries[0].Source)
}

func TestOpen(t *testing.T) {
	a, err := Open(config.ArchiveConfig{Driver: config.ArchiveDriverMemory}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, a)

	mr := miniredis.RunT(t)
	cfg := config.DefaultArchiveConfig()
	cfg.Driver = config.ArchiveDriverRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0
	a, err = Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Redis{}, a)
	require.NoError(t, a.Close())

	cfg = config.DefaultArchiveConfig()
	cfg.Driver = config.ArchiveDriverSQLite
	cfg.DSN = t.TempDir() + "/open.db"
	cfg.HealthCheckInterval = 0
	a, err = Open(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SQL{}, a)
	require.NoError(t, a.Close())

	_, err = Open(config.ArchiveConfig{Driver: config.ArchiveDriverNone}, zap.NewNop())
	assert.Error(t, err)
	_, err = Open(config.ArchiveConfig{Driver: "cassandra"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported archive driver")
}

// =============================================================================
// 📊 指标装饰测试
// =============================================================================

type failingArchive struct{ *Memory }

func (failingArchive) Put(context.Context, string, []byte) error { return fmt.Errorf("disk full") }

func TestWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWith("test", reg, zap.NewNop())
	ctx := context.Background()

	a := WithMetrics(NewMemory(), "memory", collector)
	require.NoError(t, a.Put(ctx, "m", []byte("x")))
	require.NoError(t, a.Delete(ctx, "m"))
	_, err := a.LoadAll(ctx)
	require.NoError(t, err)

	bad := WithMetrics(failingArchive{NewMemory()}, "broken", collector)
	assert.Error(t, bad.Put(ctx, "m", []byte("x")))

	// 4 个 (backend, operation, status) 组合
	count, err := testutil.GatherAndCount(reg, "test_archive_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	plain := NewMemory()
	assert.Same(t, plain, WithMetrics(plain, "memory", nil))
}
