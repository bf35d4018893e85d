package archive

import (
	"context"

	"go.uber.org/zap"
)

// Listener 把注册表的部署变更同步到存档
type Listener struct {
	archive Archive
	logger  *zap.Logger
}

// NewListener 创建存档同步监听器
func NewListener(a Archive, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{archive: a, logger: logger.With(zap.String("component", "archive"))}
}

// ModelDeployed 写入（覆盖）模型源
func (l *Listener) ModelDeployed(ctx context.Context, id string, source []byte) error {
	if err := l.archive.Put(ctx, id, source); err != nil {
		return err
	}
	l.logger.Debug("model source archived", zap.String("model_id", id), zap.Int("size", len(source)))
	return nil
}

// ModelUndeployed 删除模型源
func (l *Listener) ModelUndeployed(ctx context.Context, id string) error {
	if err := l.archive.Delete(ctx, id); err != nil {
		return err
	}
	l.logger.Debug("model source removed from archive", zap.String("model_id", id))
	return nil
}
