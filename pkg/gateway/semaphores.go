package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Permit acquisition windows. The first try on the requested model is short
// so contended flash traffic promotes quickly; after that we are willing to
// queue for a long time rather than fail the call.
const (
	initialAcquireTimeout = 1 * time.Second
	upgradeAcquireTimeout = 90 * time.Second
	finalAcquireTimeout   = 90 * time.Second
)

// semaphoreMap lazily creates one weighted semaphore per concrete model.
// The mutex guards only map lookup/insert, never an acquire.
type semaphoreMap struct {
	mu     sync.Mutex
	sems   map[string]*semaphore.Weighted
	limits map[string]int64
	def    int64
}

func newSemaphoreMap(limits map[string]int64, def int64) *semaphoreMap {
	if def <= 0 {
		def = 3
	}
	return &semaphoreMap{
		sems:   make(map[string]*semaphore.Weighted),
		limits: limits,
		def:    def,
	}
}

// Limit returns the in-flight ceiling for a model.
func (m *semaphoreMap) Limit(model string) int64 {
	if limit, ok := m.limits[model]; ok && limit > 0 {
		return limit
	}
	return m.def
}

func (m *semaphoreMap) get(model string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.sems[model]
	if !ok {
		sem = semaphore.NewWeighted(m.Limit(model))
		m.sems[model] = sem
	}
	return sem
}

// acquire takes one permit for model, waiting at most timeout. The parent
// ctx still cancels the wait early.
func (m *semaphoreMap) acquire(ctx context.Context, model string, timeout time.Duration) error {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return m.get(model).Acquire(acquireCtx, 1)
}

// release returns one permit for model. Must be called exactly once per
// successful acquire, on the same model name.
func (m *semaphoreMap) release(model string) {
	m.get(model).Release(1)
}

// tryAcquire is the non-blocking form, used by tests and saturation probes.
func (m *semaphoreMap) tryAcquire(model string) bool {
	return m.get(model).TryAcquire(1)
}
