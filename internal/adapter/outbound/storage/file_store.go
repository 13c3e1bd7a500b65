package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
	"github.com/davidshq/forgetfulme-sub002/internal/observe"
)

// FileStore implements the synced namespace as a single JSON file.
//
// Writes are atomic (write-tmp-then-fsync-then-rename) under an flock so
// that several ForgetfulMe processes can share the file, and an fsnotify
// watch on the containing directory detects writes made by those other
// processes. External writes are diffed against the last known snapshot
// and delivered to Watch subscribers per key -- this is what drives cache
// invalidation across processes.
//
// Reads are served from the in-memory snapshot; the snapshot is refreshed
// whenever the file changes on disk.
type FileStore struct {
	path    string
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	snapshot map[string]json.RawMessage
	watchers map[int]func(storage.Change)
	nextID   int

	fsw       *fsnotify.Watcher
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFileStore opens (or initializes) the synced-namespace file at path
// and starts the external-change watcher.
func NewFileStore(path string, logger *slog.Logger, metrics *observe.Metrics) (*FileStore, error) {
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create storage dir: %v", storage.ErrUnavailable, err)
	}

	s := &FileStore{
		path:     path,
		logger:   logger,
		metrics:  metrics,
		watchers: make(map[int]func(storage.Change)),
	}

	snap, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.snapshot = snap

	// Watch the directory, not the file: atomic saves replace the inode
	// via rename, which would silently detach a direct file watch.
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch storage dir: %w", err)
	}
	s.fsw = fsw

	s.wg.Add(1)
	go s.watchLoop()

	return s, nil
}

// Namespace returns storage.NamespaceSynced.
func (s *FileStore) Namespace() storage.Namespace { return storage.NamespaceSynced }

// Get returns the raw JSON value for key, or (nil, nil) when absent.
func (s *FileStore) Get(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.snapshot[key]
	if !ok {
		return nil, nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

// Set serializes value and persists the updated namespace atomically.
// Payloads over the synced quota are rejected with ErrQuotaExceeded.
func (s *FileStore) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := storage.CheckSize(data, storage.DefaultMaxValueBytes); err != nil {
		s.metrics.QuotaRejections.Inc()
		return err
	}

	s.mu.Lock()
	old := s.snapshot[key]
	s.snapshot[key] = data
	err = s.saveLocked()
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if err != nil {
		s.metrics.StorageOps.WithLabelValues("set", "synced", "error").Inc()
		return err
	}
	s.metrics.StorageOps.WithLabelValues("set", "synced", "ok").Inc()
	notify(watchers, storage.Change{Key: key, NewValue: data, OldValue: old, Namespace: storage.NamespaceSynced})
	return nil
}

// Remove deletes key and persists the updated namespace.
func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	old, ok := s.snapshot[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.snapshot, key)
	err := s.saveLocked()
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if err != nil {
		s.metrics.StorageOps.WithLabelValues("remove", "synced", "error").Inc()
		return err
	}
	s.metrics.StorageOps.WithLabelValues("remove", "synced", "ok").Inc()
	notify(watchers, storage.Change{Key: key, OldValue: old, Namespace: storage.NamespaceSynced})
	return nil
}

// Clear empties the namespace.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	old := s.snapshot
	s.snapshot = make(map[string]json.RawMessage)
	err := s.saveLocked()
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	if err != nil {
		s.metrics.StorageOps.WithLabelValues("clear", "synced", "error").Inc()
		return err
	}
	s.metrics.StorageOps.WithLabelValues("clear", "synced", "ok").Inc()
	for key, val := range old {
		notify(watchers, storage.Change{Key: key, OldValue: val, Namespace: storage.NamespaceSynced})
	}
	return nil
}

// Watch registers a change callback covering both in-process writes and
// writes by other processes sharing the file.
func (s *FileStore) Watch(fn func(storage.Change)) (cancel func()) {
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

// Close stops the external-change watcher.
func (s *FileStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.fsw.Close()
		s.wg.Wait()
	})
	return err
}

// watchLoop reacts to filesystem events on the storage file.
// Own saves leave the snapshot already matching the file, so the diff is
// empty and no spurious events are delivered.
func (s *FileStore) watchLoop() {
	defer s.wg.Done()

	base := filepath.Base(s.path)
	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.reloadAndDiff()
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("storage watcher error", "error", err)
		}
	}
}

// reloadAndDiff re-reads the file and emits a change per key that differs
// from the in-memory snapshot.
func (s *FileStore) reloadAndDiff() {
	current, err := s.readFile()
	if err != nil {
		s.logger.Warn("reload synced storage after external change", "error", err)
		return
	}

	s.mu.Lock()
	var changes []storage.Change
	for key, newVal := range current {
		oldVal, had := s.snapshot[key]
		if !had || !bytes.Equal(oldVal, newVal) {
			changes = append(changes, storage.Change{
				Key: key, NewValue: newVal, OldValue: oldVal, Namespace: storage.NamespaceSynced,
			})
		}
	}
	for key, oldVal := range s.snapshot {
		if _, still := current[key]; !still {
			changes = append(changes, storage.Change{
				Key: key, OldValue: oldVal, Namespace: storage.NamespaceSynced,
			})
		}
	}
	s.snapshot = current
	watchers := s.snapshotWatchersLocked()
	s.mu.Unlock()

	for _, ch := range changes {
		s.logger.Debug("external storage change", "key", ch.Key)
		notify(watchers, ch)
	}
}

// readFile parses the storage file. A missing file is an empty namespace.
func (s *FileStore) readFile() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("%w: read storage file: %v", storage.ErrUnavailable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]json.RawMessage), nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse storage file: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage)
	}
	return m, nil
}

// saveLocked writes the snapshot to disk atomically under an flock.
// Caller must hold s.mu.
//
// The write sequence is:
//  1. Acquire flock on path+".lock"
//  2. Marshal the namespace as indented JSON
//  3. Write to path+".tmp" with 0600 permissions and fsync
//  4. Rename path+".tmp" -> path
func (s *FileStore) saveLocked() error {
	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("%w: open lock file: %v", storage.ErrUnavailable, err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	data, err := json.MarshalIndent(s.snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal storage file: %w", err)
	}
	data = append(data, '\n')

	tmpPath := s.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", storage.ErrUnavailable, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// snapshotWatchersLocked copies the watcher set so callbacks run without
// holding the lock. Caller must hold s.mu.
func (s *FileStore) snapshotWatchersLocked() []func(storage.Change) {
	out := make([]func(storage.Change), 0, len(s.watchers))
	for _, fn := range s.watchers {
		out = append(out, fn)
	}
	return out
}

// Compile-time interface verification.
var _ storage.Store = (*FileStore)(nil)
