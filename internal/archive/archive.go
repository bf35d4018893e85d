package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/metrics"
)

// =============================================================================
// 🗃️ Model Source Archive
// =============================================================================

// ErrClosed 存档已关闭
var ErrClosed = errors.New("archive is closed")

// Entry 存档中的一条模型源
type Entry struct {
	ID        string
	Source    []byte
	Digest    string
	UpdatedAt time.Time
}

// Archive 持久化已部署模型的源，供重启后恢复。
// Put 对同一 ID 覆盖写入；Delete 不存在的 ID 不报错；LoadAll 按 ID 排序返回。
type Archive interface {
	Put(ctx context.Context, id string, source []byte) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open 按配置创建存档。driver 为 none 或空时返回错误，调用方应先检查 cfg.Enabled()。
func Open(cfg config.ArchiveConfig, logger *zap.Logger) (Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.ArchiveDriverMemory:
		return NewMemory(), nil
	case config.ArchiveDriverRedis:
		r, err := NewRedis(cfg.Redis, cfg.HealthCheckInterval, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case config.ArchiveDriverSQLite, config.ArchiveDriverPostgres, config.ArchiveDriverMySQL:
		db, err := OpenDatabase(cfg.Driver, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		s, err := NewSQL(db, PoolConfig{
			MaxOpenConns:        cfg.MaxOpenConns,
			MaxIdleConns:        cfg.MaxIdleConns,
			ConnMaxLifetime:     cfg.ConnMaxLifetime,
			HealthCheckInterval: cfg.HealthCheckInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "", config.ArchiveDriverNone:
		return nil, fmt.Errorf("archive disabled")
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s", cfg.Driver)
	}
}

// Digest 返回模型源的 SHA-256 十六进制摘要
func Digest(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
}

// =============================================================================
// 📊 指标装饰
// =============================================================================

type instrumented struct {
	Archive
	backend   string
	collector *metrics.Collector
}

// WithMetrics 为存档的每次操作记录 scoreflow_archive_* 指标
func WithMetrics(a Archive, backend string, collector *metrics.Collector) Archive {
	if collector == nil {
		return a
	}
	return &instrumented{Archive: a, backend: backend, collector: collector}
}

func (i *instrumented) Put(ctx context.Context, id string, source []byte) error {
	start := time.Now()
	err := i.Archive.Put(ctx, id, source)
	i.collector.RecordArchiveOperation(i.backend, "put", err, time.Since(start))
	return err
}

func (i *instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := i.Archive.Delete(ctx, id)
	i.collector.RecordArchiveOperation(i.backend, "delete", err, time.Since(start))
	return err
}

func (i *instrumented) LoadAll(ctx context.Context) ([]Entry, error) {
	start := time.Now()
	entries, err := i.Archive.LoadAll(ctx)
	i.collector.RecordArchiveOperation(i.backend, "load_all", err, time.Since(start))
	return entries, err
}
