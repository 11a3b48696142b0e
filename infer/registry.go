package infer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryGuard gates model acquisition on available memory. Implemented by
// system.Guard.
type MemoryGuard interface {
	UnderPressure(ctx context.Context) bool
	WaitForRecovery(ctx context.Context) error
}

// nopGuard never reports pressure. Used when no guard is configured.
type nopGuard struct{}

func (nopGuard) UnderPressure(context.Context) bool    { return false }
func (nopGuard) WaitForRecovery(context.Context) error { return nil }

// Registry hands out named model handles, loading each at most once and
// holding model acquisition while the host is under memory pressure.
// Concurrent loads of different models proceed independently; concurrent
// loads of the same model serialize on a per-name lock.
type Registry struct {
	guard MemoryGuard
	log   *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	loaded map[string]any
}

// NewRegistry returns a Registry gated by guard. A nil guard disables
// the memory interlock.
func NewRegistry(guard MemoryGuard, log *slog.Logger) *Registry {
	if guard == nil {
		guard = nopGuard{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		guard:  guard,
		log:    log,
		locks:  map[string]*sync.Mutex{},
		loaded: map[string]any{},
	}
}

// GetOrLoad returns the cached handle for name, or waits for memory
// headroom and invokes loader to create it.
func (r *Registry) GetOrLoad(ctx context.Context, name string, loader func(ctx context.Context) (any, error)) (any, error) {
	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	h, ok := r.loaded[name]
	r.mu.Unlock()
	if ok {
		return h, nil
	}

	if err := r.guard.WaitForRecovery(ctx); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}

	h, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	r.log.Info("model loaded", "name", name)

	r.mu.Lock()
	r.loaded[name] = h
	r.mu.Unlock()
	return h, nil
}

// Unload drops the cached handle for name, if any.
func (r *Registry) Unload(name string) {
	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if _, ok := r.loaded[name]; ok {
		delete(r.loaded, name)
		r.log.Info("model unloaded", "name", name)
	}
	r.mu.Unlock()
}

func (r *Registry) nameLock(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}
