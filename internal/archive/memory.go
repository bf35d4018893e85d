package archive

import (
	"context"
	"sync"
	"time"
)

// Memory 进程内存档，用于测试与单机调试
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
	now     func() time.Time
}

// NewMemory 创建内存存档
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

// Put 写入（覆盖）模型源
func (m *Memory) Put(_ context.Context, id string, source []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	owned := make([]byte, len(source))
	copy(owned, source)
	m.entries[id] = Entry{ID: id, Source: owned, Digest: Digest(owned), UpdatedAt: m.now()}
	return nil
}

// Delete 删除模型源
func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.entries, id)
	return nil
}

// LoadAll 按 ID 排序返回全部模型源
func (m *Memory) LoadAll(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		e.Source = append([]byte(nil), e.Source...)
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Ping 内存存档关闭前总是可用
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close 关闭存档
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
