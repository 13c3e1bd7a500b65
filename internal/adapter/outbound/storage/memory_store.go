// Package storage provides the concrete backends for the two persistence
// namespaces: an atomic JSON file for the synced tier, SQLite for the
// local tier, and an in-memory store for tests.
package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

// MemoryStore implements storage.Store with an in-memory map.
// Thread-safe for concurrent access. For development/testing only.
type MemoryStore struct {
	namespace     storage.Namespace
	maxValueBytes int
	metrics       *observe.Metrics

	mu       sync.RWMutex
	values   map[string]json.RawMessage
	watchers map[int]func(storage.Change)
	nextID   int
}

// NewMemoryStore creates an empty in-memory store for the given namespace.
// The synced namespace gets the default write ceiling; local is unbounded.
func NewMemoryStore(ns storage.Namespace, metrics *observe.Metrics) *MemoryStore {
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	limit := 0
	if ns == storage.NamespaceSynced {
		limit = storage.DefaultMaxValueBytes
	}
	return &MemoryStore{
		namespace:     ns,
		maxValueBytes: limit,
		metrics:       metrics,
		values:        make(map[string]json.RawMessage),
		watchers:      make(map[int]func(storage.Change)),
	}
}

// Namespace returns the tier this store serves.
func (m *MemoryStore) Namespace() storage.Namespace { return m.namespace }

// Get returns the raw JSON value for key, or (nil, nil) when absent.
func (m *MemoryStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// Set serializes value as JSON and stores it under key, enforcing the
// store's size ceiling. Watchers observe the change.
func (m *MemoryStore) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := storage.CheckSize(data, m.maxValueBytes); err != nil {
		m.metrics.QuotaRejections.Inc()
		return err
	}

	m.mu.Lock()
	old := m.values[key]
	m.values[key] = data
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	m.metrics.StorageOps.WithLabelValues("set", string(m.namespace), "ok").Inc()
	notify(watchers, storage.Change{Key: key, NewValue: data, OldValue: old, Namespace: m.namespace})
	return nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	old, ok := m.values[key]
	delete(m.values, key)
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	m.metrics.StorageOps.WithLabelValues("remove", string(m.namespace), "ok").Inc()
	if ok {
		notify(watchers, storage.Change{Key: key, OldValue: old, Namespace: m.namespace})
	}
	return nil
}

// Clear removes every key in the namespace.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	old := m.values
	m.values = make(map[string]json.RawMessage)
	watchers := m.snapshotWatchersLocked()
	m.mu.Unlock()

	m.metrics.StorageOps.WithLabelValues("clear", string(m.namespace), "ok").Inc()
	for key, val := range old {
		notify(watchers, storage.Change{Key: key, OldValue: val, Namespace: m.namespace})
	}
	return nil
}

// Watch registers a change callback. The returned function cancels the
// subscription.
func (m *MemoryStore) Watch(fn func(storage.Change)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// snapshotWatchersLocked copies the watcher set so callbacks run without
// holding the lock. Caller must hold m.mu.
func (m *MemoryStore) snapshotWatchersLocked() []func(storage.Change) {
	out := make([]func(storage.Change), 0, len(m.watchers))
	for _, fn := range m.watchers {
		out = append(out, fn)
	}
	return out
}

func notify(watchers []func(storage.Change), ch storage.Change) {
	for _, fn := range watchers {
		fn(ch)
	}
}

// Compile-time interface verification.
var _ storage.Store = (*MemoryStore)(nil)
