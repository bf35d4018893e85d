package deployer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/engine"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 📂 Directory Deployer
// =============================================================================

// Target 目录部署器操作的注册表
type Target interface {
	Deploy(ctx context.Context, id string, source []byte) error
	Undeploy(ctx context.Context, id string) error
}

// DirectoryDeployer 把目录中的 *.yaml / *.yml 文件部署为模型，ID 为去掉扩展名的文件名。
//
// 启动时部署目录中已有的文件；文件写入后先 undeploy 再 deploy；文件删除或改名后 undeploy。
// 同一文件的连续事件在防抖间隔内合并处理。部署器只 undeploy 自己部署的 ID，
// 通过 API 部署的同名模型不受影响。
type DirectoryDeployer struct {
	dir      string
	target   Target
	loader   engine.Loader
	debounce time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	owned map[string]string // id -> 源摘要

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// Option 配置 DirectoryDeployer
type Option func(*DirectoryDeployer)

// WithDebounce 设置事件防抖间隔
func WithDebounce(d time.Duration) Option {
	return func(dd *DirectoryDeployer) {
		if d > 0 {
			dd.debounce = d
		}
	}
}

// WithLoader 重新部署前先用 loader 校验新源，校验失败时保留旧模型
func WithLoader(l engine.Loader) Option {
	return func(dd *DirectoryDeployer) {
		dd.loader = l
	}
}

// New 创建目录部署器
func New(dir string, target Target, logger *zap.Logger, opts ...Option) *DirectoryDeployer {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &DirectoryDeployer{
		dir:      dir,
		target:   target,
		debounce: 200 * time.Millisecond,
		owned:    make(map[string]string),
		logger:   logger.With(zap.String("component", "deployer"), zap.String("dir", dir)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start 部署目录中已有的模型文件并开始监听目录
func (d *DirectoryDeployer) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("deployer already running")
	}
	d.mu.Unlock()

	info, err := os.Stat(d.dir)
	if err != nil {
		return fmt.Errorf("stat model dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("model dir %s is not a directory", d.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch model dir: %w", err)
	}

	// 先建立监听再扫描，扫描期间的变更不会丢失
	if err := d.scan(ctx); err != nil {
		_ = watcher.Close()
		return err
	}

	d.mu.Lock()
	d.watcher = watcher
	d.done = make(chan struct{})
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(ctx, watcher)

	d.logger.Info("directory deployer started",
		zap.Duration("debounce", d.debounce),
		zap.Int("models", len(d.Owned())),
	)
	return nil
}

// Stop 停止监听。已部署的模型保持部署状态。
func (d *DirectoryDeployer) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.done)
	watcher := d.watcher
	d.mu.Unlock()

	err := watcher.Close()
	d.wg.Wait()
	d.logger.Info("directory deployer stopped")
	return err
}

// Owned 返回部署器部署的模型 ID（排序）
func (d *DirectoryDeployer) Owned() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.owned))
	for id := range d.owned {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// scan 部署目录中的全部模型文件
func (d *DirectoryDeployer) scan(ctx context.Context) error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("read model dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isModelFile(e.Name()) {
			continue
		}
		d.sync(ctx, filepath.Join(d.dir, e.Name()))
	}
	return nil
}

func (d *DirectoryDeployer) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer d.wg.Done()

	var (
		pending = make(map[string]struct{})
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isModelFile(filepath.Base(event.Name)) {
				continue
			}
			d.logger.Debug("model file event",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))

			pending[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(d.debounce)
			} else {
				timer.Reset(d.debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("model dir watch error", zap.Error(err))
		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]struct{})
			for _, p := range paths {
				d.sync(ctx, p)
			}
		}
	}
}

// sync 让注册表与 path 的当前内容保持一致
func (d *DirectoryDeployer) sync(ctx context.Context, path string) {
	id := modelID(filepath.Base(path))
	logger := d.logger.With(zap.String("model_id", id), zap.String("path", path))

	source, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("read model file failed", zap.Error(err))
			return
		}
		d.remove(ctx, id, logger)
		return
	}

	digest := digestOf(source)

	d.mu.Lock()
	prev, owned := d.owned[id]
	d.mu.Unlock()

	if owned && prev == digest {
		return
	}

	if owned {
		if d.loader != nil {
			if _, err := d.loader.Load(source); err != nil {
				logger.Warn("model file rejected, keeping previous version", zap.Error(err))
				return
			}
		}
		if err := d.target.Undeploy(ctx, id); err != nil && !types.IsErrorCode(err, types.ErrNotDeployed) {
			logger.Warn("undeploy before redeploy failed", zap.Error(err))
			return
		}
		d.mu.Lock()
		delete(d.owned, id)
		d.mu.Unlock()
	}

	if err := d.target.Deploy(ctx, id, source); err != nil {
		if types.IsErrorCode(err, types.ErrAlreadyDeployed) {
			logger.Warn("model id already deployed by another source, file ignored")
			return
		}
		logger.Error("deploy model file failed", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.owned[id] = digest
	d.mu.Unlock()

	if owned {
		logger.Info("model file redeployed", zap.String("digest", digest))
	} else {
		logger.Info("model file deployed", zap.String("digest", digest))
	}
}

func (d *DirectoryDeployer) remove(ctx context.Context, id string, logger *zap.Logger) {
	d.mu.Lock()
	_, owned := d.owned[id]
	delete(d.owned, id)
	d.mu.Unlock()

	if !owned {
		return
	}
	if err := d.target.Undeploy(ctx, id); err != nil && !types.IsErrorCode(err, types.ErrNotDeployed) {
		logger.Warn("undeploy removed model file failed", zap.Error(err))
		return
	}
	logger.Info("model file removed, model undeployed")
}

func isModelFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func modelID(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func digestOf(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}
