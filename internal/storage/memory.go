package storage

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"regionscan/internal/remote"
)

// Memory keeps resources in a map. It is also the in-memory index behind the file driver.
type Memory struct {
	mu     sync.RWMutex
	byTgt  map[string]map[string]remote.Resource
	closed bool
}

func NewMemory() *Memory {
	return &Memory{byTgt: map[string]map[string]remote.Resource{}}
}

func (m *Memory) PutResource(ctx context.Context, r remote.Resource) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.putLocked(r)
	return nil
}

func (m *Memory) putLocked(r remote.Resource) {
	key := r.Target.Key()
	rs := m.byTgt[key]
	if rs == nil {
		rs = map[string]remote.Resource{}
		m.byTgt[key] = rs
	}
	rs[r.ID] = cloneResource(r)
}

func (m *Memory) ListResources(ctx context.Context, t remote.Target) ([]remote.Resource, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	rs := m.byTgt[t.Key()]
	out := make([]remote.Resource, 0, len(rs))
	for _, r := range rs {
		out = append(out, cloneResource(r))
	}
	slices.SortFunc(out, func(a, b remote.Resource) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) DeleteTarget(ctx context.Context, t remote.Target) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.deleteLocked(t.Key()), nil
}

func (m *Memory) deleteLocked(key string) int {
	n := len(m.byTgt[key])
	delete(m.byTgt, key)
	return n
}

// Len returns the number of stored resources across all targets.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rs := range m.byTgt {
		n += len(rs)
	}
	return n
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func cloneResource(r remote.Resource) remote.Resource {
	r.Attributes = maps.Clone(r.Attributes)
	r.Metrics = maps.Clone(r.Metrics)
	return r
}
