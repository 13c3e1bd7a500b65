package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/bookmark"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/cache"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/session"
	"github.com/davidshq/forgetfulme-sub002/internal/port/outbound"
)

const (
	bookmarkTable       = "bookmarks"
	bookmarkCachePrefix = "bookmarks:"
	bookmarkCacheTTL    = 2 * time.Minute
	defaultListLimit    = 50
)

// ErrNotAuthenticated is returned by bookmark operations when no user is
// signed in.
var ErrNotAuthenticated = errors.New("not signed in")

// AuthState is the slice of the auth service the bookmark service depends
// on: a consistently-valid session for every remote call plus transition
// notifications for cache invalidation.
type AuthState interface {
	IsAuthenticated() bool
	GetCurrentUser() *session.Session
	AddAuthChangeListener(AuthChangeListener) (unsubscribe func())
}

// BookmarkService stores and lists bookmarks through the backend's data
// API, caching list results per query. Sign-out invalidates the service's
// slice of the cache via the auth change feed.
type BookmarkService struct {
	auth     AuthState
	rest     outbound.DataAPI
	cache    *cache.Cache
	logger   *slog.Logger
	validate *validator.Validate

	unsubscribe func()
}

// NewBookmarkService creates a BookmarkService and subscribes it to auth
// transitions. Call Close to release the subscription.
func NewBookmarkService(auth AuthState, rest outbound.DataAPI, c *cache.Cache, logger *slog.Logger) *BookmarkService {
	s := &BookmarkService{
		auth:     auth,
		rest:     rest,
		cache:    c,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.unsubscribe = auth.AddAuthChangeListener(func(sess *session.Session) {
		if sess == nil {
			s.logger.Debug("signed out, dropping bookmark caches")
			s.cache.InvalidatePrefix(bookmarkCachePrefix)
		}
	})
	return s
}

// Save persists a bookmark for the signed-in user and returns the created
// row. A zero Status defaults to unread.
func (s *BookmarkService) Save(ctx context.Context, b *bookmark.Bookmark) (*bookmark.Bookmark, error) {
	user := s.auth.GetCurrentUser()
	if user == nil {
		return nil, ErrNotAuthenticated
	}

	if b.Status == "" {
		b.Status = bookmark.StatusUnread
	}
	b.Tags = bookmark.NormalizeTags(b.Tags)
	if err := s.validate.Struct(b); err != nil {
		return nil, fmt.Errorf("invalid bookmark: %w", err)
	}

	now := time.Now().UTC()
	row := *b
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	row.UserID = user.UserID
	row.CreatedAt = now
	row.UpdatedAt = now

	var created []bookmark.Bookmark
	if err := s.rest.Insert(ctx, bookmarkTable, row, user.AccessToken, &created); err != nil {
		return nil, fmt.Errorf("save bookmark: %w", err)
	}

	s.cache.InvalidatePrefix(bookmarkCachePrefix)

	if len(created) > 0 {
		return &created[0], nil
	}
	return &row, nil
}

// List returns the signed-in user's bookmarks matching q, served from the
// query cache when fresh.
func (s *BookmarkService) List(ctx context.Context, q bookmark.Query) ([]bookmark.Bookmark, error) {
	user := s.auth.GetCurrentUser()
	if user == nil {
		return nil, ErrNotAuthenticated
	}

	key := q.CacheKey(user.UserID)
	if v, ok := s.cache.Get(key); ok {
		if cached, ok := v.([]bookmark.Bookmark); ok {
			return cached, nil
		}
	}

	var rows []bookmark.Bookmark
	if err := s.rest.Select(ctx, bookmarkTable, listParams(q), user.AccessToken, &rows); err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}

	s.cache.Set(key, rows, bookmarkCacheTTL)
	return rows, nil
}

// UpdateStatus moves a bookmark to a new status.
func (s *BookmarkService) UpdateStatus(ctx context.Context, id string, status bookmark.Status) error {
	user := s.auth.GetCurrentUser()
	if user == nil {
		return ErrNotAuthenticated
	}
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	params := url.Values{}
	params.Set("id", "eq."+id)
	patch := map[string]any{
		"read_status": status,
		"updated_at":  time.Now().UTC(),
	}
	if err := s.rest.Update(ctx, bookmarkTable, params, patch, user.AccessToken); err != nil {
		return fmt.Errorf("update bookmark status: %w", err)
	}

	s.cache.InvalidatePrefix(bookmarkCachePrefix)
	return nil
}

// Delete removes a bookmark.
func (s *BookmarkService) Delete(ctx context.Context, id string) error {
	user := s.auth.GetCurrentUser()
	if user == nil {
		return ErrNotAuthenticated
	}

	params := url.Values{}
	params.Set("id", "eq."+id)
	if err := s.rest.Delete(ctx, bookmarkTable, params, user.AccessToken); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}

	s.cache.InvalidatePrefix(bookmarkCachePrefix)
	return nil
}

// Close releases the auth change subscription.
func (s *BookmarkService) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// listParams translates a Query into PostgREST filter parameters.
func listParams(q bookmark.Query) url.Values {
	params := url.Values{}
	params.Set("select", "*")
	params.Set("order", "created_at.desc")

	if q.Status != "" {
		params.Set("read_status", "eq."+string(q.Status))
	}
	if q.Tag != "" {
		params.Set("tags", "cs.{"+q.Tag+"}")
	}
	if q.Search != "" {
		term := strings.ReplaceAll(q.Search, "*", "")
		params.Set("or", fmt.Sprintf("(title.ilike.*%s*,url.ilike.*%s*)", term, term))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	return params
}
