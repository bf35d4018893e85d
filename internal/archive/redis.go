package archive

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/config"
)

// =============================================================================
// 💾 Redis 存档
// =============================================================================

// Redis 把模型源存放在一个哈希中（field = 模型 ID），
// 更新时间存放在 "<key>:updated" 哈希中，两者在同一事务内写入。
type Redis struct {
	client  *redis.Client
	key     string
	updated string
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	now    func() time.Time
}

// NewRedis 连接 Redis 并创建存档。连接在 5 秒内 ping 不通时返回错误。
func NewRedis(cfg config.RedisConfig, healthCheckInterval time.Duration, logger *zap.Logger) (*Redis, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis archive key is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	r := &Redis{
		client:  client,
		key:     cfg.Key,
		updated: cfg.Key + ":updated",
		logger:  logger.With(zap.String("component", "archive"), zap.String("backend", "redis")),
		done:    make(chan struct{}),
		now:     time.Now,
	}

	if healthCheckInterval > 0 {
		go r.healthCheckLoop(healthCheckInterval)
	}

	r.logger.Info("redis archive initialized",
		zap.String("addr", cfg.Addr),
		zap.String("key", cfg.Key),
	)
	return r, nil
}

// Put 写入（覆盖）模型源
func (r *Redis) Put(ctx context.Context, id string, source []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	ts := strconv.FormatInt(r.now().UnixNano(), 10)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, id, source)
		pipe.HSet(ctx, r.updated, id, ts)
		return nil
	})
	if err != nil {
		r.logger.Error("archive put failed", zap.String("model_id", id), zap.Error(err))
		return fmt.Errorf("archive put failed: %w", err)
	}
	return nil
}

// Delete 删除模型源
func (r *Redis) Delete(ctx context.Context, id string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.key, id)
		pipe.HDel(ctx, r.updated, id)
		return nil
	})
	if err != nil {
		r.logger.Error("archive delete failed", zap.String("model_id", id), zap.Error(err))
		return fmt.Errorf("archive delete failed: %w", err)
	}
	return nil
}

// LoadAll 按 ID 排序返回全部模型源
func (r *Redis) LoadAll(ctx context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	sources, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("archive load failed: %w", err)
	}
	stamps, err := r.client.HGetAll(ctx, r.updated).Result()
	if err != nil {
		return nil, fmt.Errorf("archive load failed: %w", err)
	}

	entries := make([]Entry, 0, len(sources))
	for id, src := range sources {
		e := Entry{ID: id, Source: []byte(src), Digest: Digest([]byte(src))}
		if ns, err := strconv.ParseInt(stamps[id], 10, 64); err == nil {
			e.UpdatedAt = time.Unix(0, ns)
		}
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

// Ping 检查 Redis 连接
func (r *Redis) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return r.client.Ping(ctx).Err()
}

// Close 关闭存档
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)
	r.logger.Info("closing redis archive")
	return r.client.Close()
}

// healthCheckLoop 健康检查循环
func (r *Redis) healthCheckLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.Ping(ctx); err != nil {
			r.logger.Error("archive health check failed", zap.Error(err))
		} else {
			r.logger.Debug("archive health check passed")
		}
		cancel()
	}
}
