package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/scoreflow/types"
)

// Deployer 恢复时用于重新部署模型
type Deployer interface {
	Deploy(ctx context.Context, id string, source []byte) error
}

// RestoreResult 恢复统计
type RestoreResult struct {
	Restored int
	Skipped  int
	Failed   int
}

// Restore 重新部署存档中的全部模型，最多 parallelism 个并发。
// 已部署的 ID 计为跳过；单个模型失败不影响其他模型，所有失败合并为一个错误返回。
func Restore(ctx context.Context, a Archive, d Deployer, parallelism int, logger *zap.Logger) (RestoreResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	entries, err := a.LoadAll(ctx)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("load archived models: %w", err)
	}

	var (
		mu     sync.Mutex
		result RestoreResult
		errs   []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, e := range entries {
		g.Go(func() error {
			err := d.Deploy(gctx, e.ID, e.Source)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Restored++
			case types.IsErrorCode(err, types.ErrAlreadyDeployed):
				result.Skipped++
			default:
				result.Failed++
				errs = append(errs, fmt.Errorf("restore model %q: %w", e.ID, err))
				logger.Warn("restore model failed", zap.String("model_id", e.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("archived models restored",
		zap.Int("restored", result.Restored),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, errors.Join(errs...)
}
