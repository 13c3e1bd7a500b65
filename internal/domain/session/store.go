package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/cache"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
)

// StorageKey is the single synced-namespace key holding the session.
// The session lives in the synced tier so it travels with the user's
// profile across devices.
const StorageKey = "forgetfulme_session"

// cacheTTL bounds how long a loaded session is served from memory before
// re-reading storage. External writes invalidate sooner via the change feed.
const cacheTTL = 1 * time.Minute

// Store persists exactly one record: the current session.
// Reads go through the cache layer; the cache is subscribed to the backing
// store's change feed so a write from another process is never served stale.
type Store struct {
	backend storage.Store
	cache   *cache.Cache
	logger  *slog.Logger

	cancelWatch func()
}

// NewStore creates a session store over the given synced-namespace backend.
func NewStore(backend storage.Store, c *cache.Cache, logger *slog.Logger) *Store {
	s := &Store{
		backend: backend,
		cache:   c,
		logger:  logger,
	}
	s.cancelWatch = c.WatchStore(backend)
	return s
}

// Load returns the stored session, or (nil, nil) when none is stored.
// An incomplete stored record is treated as absent.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	if v, ok := s.cache.Get(StorageKey); ok {
		if sess, ok := v.(*Session); ok {
			return sess.Clone(), nil
		}
	}

	var sess Session
	found, err := storage.GetJSON(ctx, s.backend, StorageKey, &sess)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, nil
	}
	if !sess.Complete() {
		s.logger.Warn("stored session is incomplete, treating as absent")
		return nil, nil
	}

	s.cache.Set(StorageKey, sess.Clone(), cacheTTL)
	return &sess, nil
}

// Save persists the session and refreshes the cached copy.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if !sess.Complete() {
		return fmt.Errorf("save session: refusing to persist incomplete session")
	}
	if err := s.backend.Set(ctx, StorageKey, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.cache.Set(StorageKey, sess.Clone(), cacheTTL)
	return nil
}

// Clear removes the persisted session and its cached mirror.
func (s *Store) Clear(ctx context.Context) error {
	s.cache.Invalidate(StorageKey)
	if err := s.backend.Remove(ctx, StorageKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close cancels the store's cache-invalidation subscription.
func (s *Store) Close() {
	if s.cancelWatch != nil {
		s.cancelWatch()
	}
}
