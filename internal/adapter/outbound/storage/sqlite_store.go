package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// SQLiteStore implements the local namespace on a SQLite database.
//
// The local tier holds the larger, device-only data (bookmark caches,
// read-later payloads) and therefore has no per-write quota. Change
// notifications cover in-process writes only; the local namespace is not
// shared between processes.
type SQLiteStore struct {
	db      *sql.DB
	metrics *observe.Metrics

	mu       sync.Mutex
	watchers map[int]func(storage.Change)
	nextID   int
}

// NewSQLiteStore opens (or creates) the local-namespace database at path.
func NewSQLiteStore(path string, metrics *observe.Metrics) (*SQLiteStore, error) {
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open local db: %v", storage.ErrUnavailable, err)
	}
	// SQLite handles one writer at a time; bound the pool accordingly.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init local db schema: %v", storage.ErrUnavailable, err)
	}

	return &SQLiteStore{
		db:       db,
		metrics:  metrics,
		watchers: make(map[int]func(storage.Change)),
	}, nil
}

// Namespace returns storage.NamespaceLocal.
func (s *SQLiteStore) Namespace() storage.Namespace { return storage.NamespaceLocal }

// Get returns the raw JSON value for key, or (nil, nil) when absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.metrics.StorageOps.WithLabelValues("get", "local", "error").Inc()
		return nil, fmt.Errorf("%w: read key %q: %v", storage.ErrUnavailable, key, err)
	}
	return json.RawMessage(value), nil
}

// Set serializes value as JSON and upserts it under key.
func (s *SQLiteStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`,
		key, []byte(data))
	if err != nil {
		s.metrics.StorageOps.WithLabelValues("set", "local", "error").Inc()
		return fmt.Errorf("%w: write key %q: %v", storage.ErrUnavailable, key, err)
	}

	s.metrics.StorageOps.WithLabelValues("set", "local", "ok").Inc()
	notify(s.snapshotWatchers(), storage.Change{Key: key, NewValue: data, OldValue: old, Namespace: storage.NamespaceLocal})
	return nil
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		s.metrics.StorageOps.WithLabelValues("remove", "local", "error").Inc()
		return fmt.Errorf("%w: remove key %q: %v", storage.ErrUnavailable, key, err)
	}

	s.metrics.StorageOps.WithLabelValues("remove", "local", "ok").Inc()
	if old != nil {
		notify(s.snapshotWatchers(), storage.Change{Key: key, OldValue: old, Namespace: storage.NamespaceLocal})
	}
	return nil
}

// Clear removes every key in the namespace.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv`)
	if err != nil {
		return fmt.Errorf("%w: list keys: %v", storage.ErrUnavailable, err)
	}
	old := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan key: %w", err)
		}
		old[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("%w: list keys: %v", storage.ErrUnavailable, err)
	}
	_ = rows.Close()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		s.metrics.StorageOps.WithLabelValues("clear", "local", "error").Inc()
		return fmt.Errorf("%w: clear namespace: %v", storage.ErrUnavailable, err)
	}

	s.metrics.StorageOps.WithLabelValues("clear", "local", "ok").Inc()
	watchers := s.snapshotWatchers()
	for key, val := range old {
		notify(watchers, storage.Change{Key: key, OldValue: val, Namespace: storage.NamespaceLocal})
	}
	return nil
}

// Watch registers a change callback for in-process writes.
func (s *SQLiteStore) Watch(fn func(storage.Change)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) snapshotWatchers() []func(storage.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(storage.Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

// Compile-time interface verification.
var _ storage.Store = (*SQLiteStore)(nil)
