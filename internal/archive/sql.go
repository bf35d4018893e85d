package archive

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/scoreflow/config"
)

// =============================================================================
// 🗄️ SQL 存档（GORM）
// =============================================================================

// ModelSource 模型源表
type ModelSource struct {
	ID        string `gorm:"primaryKey;size:128"`
	Source    []byte `gorm:"not null"`
	Digest    string `gorm:"size:64;not null"`
	UpdatedAt time.Time
}

// TableName 表名
func (ModelSource) TableName() string { return "model_sources" }

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	HealthCheckInterval time.Duration
}

// OpenDatabase 根据驱动打开数据库连接
func OpenDatabase(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.ArchiveDriverPostgres:
		dialector = postgres.Open(dsn)
	case config.ArchiveDriverMySQL:
		dialector = mysql.Open(dsn)
	case config.ArchiveDriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	logger.Info("archive database connected", zap.String("driver", driver))
	return db, nil
}

// SQL 基于 GORM 的存档，支持 postgres / mysql / sqlite
type SQL struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	now    func() time.Time
}

// NewSQL 配置连接池、迁移 model_sources 表并创建存档
func NewSQL(db *gorm.DB, pool PoolConfig, logger *zap.Logger) (*SQL, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&ModelSource{}); err != nil {
		return nil, fmt.Errorf("failed to migrate model_sources: %w", err)
	}

	s := &SQL{
		db:     db,
		sqlDB:  sqlDB,
		logger: logger.With(zap.String("component", "archive"), zap.String("backend", "sql")),
		done:   make(chan struct{}),
		now:    time.Now,
	}

	if pool.HealthCheckInterval > 0 {
		go s.healthCheckLoop(pool.HealthCheckInterval)
	}

	s.logger.Info("sql archive initialized",
		zap.String("dialect", db.Dialector.Name()),
		zap.Int("max_open_conns", pool.MaxOpenConns),
	)
	return s, nil
}

// Put 写入（覆盖）模型源
func (s *SQL) Put(ctx context.Context, id string, source []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	row := ModelSource{ID: id, Source: source, Digest: Digest(source), UpdatedAt: s.now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"source", "digest", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		s.logger.Error("archive put failed", zap.String("model_id", id), zap.Error(err))
		return fmt.Errorf("archive put failed: %w", err)
	}
	return nil
}

// Delete 删除模型源
func (s *SQL) Delete(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.db.WithContext(ctx).Delete(&ModelSource{}, "id = ?", id).Error; err != nil {
		s.logger.Error("archive delete failed", zap.String("model_id", id), zap.Error(err))
		return fmt.Errorf("archive delete failed: %w", err)
	}
	return nil
}

// LoadAll 按 ID 排序返回全部模型源
func (s *SQL) LoadAll(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var rows []ModelSource
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("archive load failed: %w", err)
	}

	entries := make([]Entry, len(rows))
	for i, row := range rows {
		entries[i] = Entry{ID: row.ID, Source: row.Source, Digest: row.Digest, UpdatedAt: row.UpdatedAt}
	}
	// 数据库排序规则可能与字节序不同
	sortEntries(entries)
	return entries, nil
}

// Ping 检查数据库连接
func (s *SQL) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Close 关闭连接池
func (s *SQL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.logger.Info("closing sql archive")
	return s.sqlDB.Close()
}

// healthCheckLoop 健康检查循环
func (s *SQL) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Ping(ctx); err != nil {
			s.logger.Error("archive health check failed", zap.Error(err))
		} else {
			stats := s.sqlDB.Stats()
			s.logger.Debug("archive health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle),
			)
		}
		cancel()
	}
}
