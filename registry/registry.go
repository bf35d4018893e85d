package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/engine"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 📚 Model Registry
// =============================================================================

// Listener 接收部署状态变更通知。
// 回调在持有该 ID 的锁时执行，同一 ID 的通知顺序与注册表状态变更顺序一致。
// 回调返回的错误只记录日志，不影响 deploy/undeploy 的结果。
type Listener interface {
	ModelDeployed(ctx context.Context, id string, source []byte) error
	ModelUndeployed(ctx context.Context, id string) error
}

// Registry 是模型 ID 到 Handle 的并发映射，负责 deploy/undeploy 状态机。
//
// 槽位存放在 sync.Map 中：Get 无锁；Store 与之后观察到该值的 Load 之间
// 存在 happens-before 关系，Handle 构造后不可变，因此读取方看到的总是完整的 Handle。
// deploy/undeploy 按 ID 互斥（keyedMutex），不同 ID 之间互不阻塞。
type Registry struct {
	loader    engine.Loader
	sink      *metrics.Sink
	collector *metrics.Collector
	listeners []Listener
	now       func() time.Time

	handles sync.Map // string -> *Handle
	locks   keyedMutex

	logger *zap.Logger
}

// Option 配置 Registry
type Option func(*Registry)

// WithListener 添加部署状态监听器
func WithListener(l Listener) Option {
	return func(r *Registry) {
		if l != nil {
			r.listeners = append(r.listeners, l)
		}
	}
}

// WithCollector 记录 deploy/undeploy 结果计数
func WithCollector(c *metrics.Collector) Option {
	return func(r *Registry) { r.collector = c }
}

// WithClock 替换部署时间来源
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建模型注册表
func New(loader engine.Loader, sink *metrics.Sink, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		loader: loader,
		sink:   sink,
		now:    time.Now,
		logger: logger.With(zap.String("component", "registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-]*$`)

const maxIDLength = 128

// ValidateID 校验模型 ID 格式
func ValidateID(id string) error {
	if id == "" {
		return types.NewError(types.ErrInvalidRequest, "model id is required")
	}
	if len(id) > maxIDLength {
		return types.Errorf(types.ErrInvalidRequest, "model id exceeds %d characters", maxIDLength)
	}
	if !idPattern.MatchString(id) {
		return types.Errorf(types.ErrInvalidRequest, "invalid model id %q", id)
	}
	return nil
}

// Deploy 解析 source 并以 id 发布新的 Handle，同时为 id 注册一组新的指标。
// id 已存在时返回 ALREADY_DEPLOYED（不覆盖）；source 无法解析时返回 INVALID_MODEL_SOURCE。
// 失败的 deploy 不会留下 Handle 或指标。
func (r *Registry) Deploy(ctx context.Context, id string, source []byte) error {
	err := r.deploy(ctx, id, source)
	r.recordLifecycle("deploy", err)
	return err
}

func (r *Registry) deploy(ctx context.Context, id string, source []byte) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if _, exists := r.handles.Load(id); exists {
		return alreadyDeployed(id)
	}

	// 解析可能较慢，放在锁外执行，不阻塞同一 ID 的 undeploy
	ev, err := r.loader.Load(source)
	if err != nil {
		return invalidSource(id, err)
	}
	if ev == nil {
		return types.NewError(types.ErrInvalidModelSource, "loader returned no model").WithModel(id)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	if _, exists := r.handles.Load(id); exists {
		return alreadyDeployed(id)
	}

	owned := make([]byte, len(source))
	copy(owned, source)

	rec := r.sink.Register(id)
	h := newHandle(id, ev, owned, r.now(), rec)
	r.handles.Store(id, h)

	for _, l := range r.listeners {
		if err := l.ModelDeployed(ctx, id, owned); err != nil {
			r.logger.Warn("deploy listener failed", zap.String("model_id", id), zap.Error(err))
		}
	}

	r.logger.Info("model deployed",
		zap.String("model_id", id),
		zap.String("kind", h.schema.Kind),
		zap.String("digest", h.digest),
	)
	return nil
}

// Undeploy 移除 id 的 Handle 并删除 id 下的全部指标。
// 已取得 Handle 的在途求值不受影响；Undeploy 返回后，新的 Get 不会再解析到旧 Handle。
func (r *Registry) Undeploy(ctx context.Context, id string) error {
	err := r.undeploy(ctx, id, true)
	r.recordLifecycle("undeploy", err)
	return err
}

func (r *Registry) undeploy(ctx context.Context, id string, notify bool) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	v, ok := r.handles.LoadAndDelete(id)
	if !ok {
		return types.Errorf(types.ErrNotDeployed, "model %q is not deployed", id).WithModel(id)
	}
	r.sink.Remove(id)

	if notify {
		for _, l := range r.listeners {
			if err := l.ModelUndeployed(ctx, id); err != nil {
				r.logger.Warn("undeploy listener failed", zap.String("model_id", id), zap.Error(err))
			}
		}
	}

	h := v.(*Handle)
	r.logger.Info("model undeployed",
		zap.String("model_id", id),
		zap.Duration("uptime", r.now().Sub(h.deployedAt)),
	)
	return nil
}

// Get 无锁查找，返回可用于一次求值的 Handle 快照；未部署时返回 nil
func (r *Registry) Get(id string) *Handle {
	v, ok := r.handles.Load(id)
	if !ok {
		return nil
	}
	return v.(*Handle)
}

// List returns the deployed model ids in sorted order.
func (r *Registry) List() []string {
	ids := make([]string, 0)
	r.handles.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Infos returns the deployed models ordered by id.
func (r *Registry) Infos() []types.ModelInfo {
	handles := make([]*Handle, 0)
	r.handles.Range(func(_, v any) bool {
		handles = append(handles, v.(*Handle))
		return true
	})
	sort.Slice(handles, func(i, j int) bool { return handles[i].id < handles[j].id })

	infos := make([]types.ModelInfo, len(handles))
	for i, h := range handles {
		infos[i] = h.Info()
	}
	return infos
}

// Len returns the number of deployed models.
func (r *Registry) Len() int {
	n := 0
	r.handles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close 在停机时移除全部模型及其指标。监听器不会收到通知，归档中的模型源码得以保留。
func (r *Registry) Close(ctx context.Context) error {
	for _, id := range r.List() {
		if err := r.undeploy(ctx, id, false); err != nil && !types.IsErrorCode(err, types.ErrNotDeployed) {
			return fmt.Errorf("close registry: %w", err)
		}
	}
	return nil
}

func (r *Registry) recordLifecycle(op string, err error) {
	if r.collector == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(types.GetErrorCode(err))
		if result == "" {
			result = string(types.ErrInternalError)
		}
	}
	r.collector.RecordLifecycle(op, result)
}

func invalidSource(id string, err error) error {
	if e, ok := types.AsError(err); ok && e.Code == types.ErrInvalidModelSource {
		return e.WithModel(id)
	}
	return types.NewError(types.ErrInvalidModelSource, "invalid model source").WithModel(id).WithCause(err)
}

func alreadyDeployed(id string) error {
	return types.Errorf(types.ErrAlreadyDeployed, "model %q is already deployed", id).WithModel(id)
}

// =============================================================================
// 🔒 keyedMutex
// =============================================================================

// keyedMutex 按键提供互斥锁，引用计数归零时回收
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

// Lock 获取 key 的锁，返回解锁函数
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
