package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/bookmark"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/cache"
	"github.com/davidshq/forgetfulme-sub002/internal/domain/session"
)

// fakeAuthState is a hand-rolled AuthState with a settable session.
type fakeAuthState struct {
	mu        sync.Mutex
	current   *session.Session
	listeners []AuthChangeListener
}

func (f *fakeAuthState) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *fakeAuthState) GetCurrentUser() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.Clone()
}

func (f *fakeAuthState) AddAuthChangeListener(cb AuthChangeListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, cb)
	return func() {}
}

func (f *fakeAuthState) setSession(s *session.Session) {
	f.mu.Lock()
	f.current = s
	listeners := append([]AuthChangeListener(nil), f.listeners...)
	f.mu.Unlock()
	for _, cb := range listeners {
		cb(s)
	}
}

// mockDataAPI records calls and plays back canned rows.
type mockDataAPI struct {
	mu      sync.Mutex
	selects int
	inserts int
	updates int
	deletes int

	rows      []bookmark.Bookmark
	lastQuery url.Values
	err       error
}

func (m *mockDataAPI) Select(_ context.Context, _ string, params url.Values, _ string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selects++
	m.lastQuery = params
	if m.err != nil {
		return m.err
	}
	data, _ := json.Marshal(m.rows)
	return json.Unmarshal(data, out)
}

func (m *mockDataAPI) Insert(_ context.Context, _ string, row any, _ string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.err != nil {
		return m.err
	}
	if out != nil {
		data, _ := json.Marshal([]any{row})
		return json.Unmarshal(data, out)
	}
	return nil
}

func (m *mockDataAPI) Update(_ context.Context, _ string, params url.Values, _ any, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.lastQuery = params
	return m.err
}

func (m *mockDataAPI) Delete(_ context.Context, _ string, params url.Values, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.lastQuery = params
	return m.err
}

func signedInState() *fakeAuthState {
	return &fakeAuthState{current: &session.Session{
		UserID:       "u1",
		Email:        "a@example.com",
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	}}
}

func newBookmarkFixture(t *testing.T, auth *fakeAuthState) (*BookmarkService, *mockDataAPI, *cache.Cache) {
	t.Helper()
	rest := &mockDataAPI{}
	c := cache.New(cache.Config{TTL: time.Minute, MaxEntries: 50})
	svc := NewBookmarkService(auth, rest, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(svc.Close)
	return svc, rest, c
}

func TestBookmarkService_RequiresAuth(t *testing.T) {
	svc, _, _ := newBookmarkFixture(t, &fakeAuthState{})
	ctx := context.Background()

	if _, err := svc.Save(ctx, &bookmark.Bookmark{URL: "https://example.com"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Save() error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.List(ctx, bookmark.Query{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("List() error = %v, want ErrNotAuthenticated", err)
	}
	if err := svc.UpdateStatus(ctx, "b1", bookmark.StatusUnread); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("UpdateStatus() error = %v, want ErrNotAuthenticated", err)
	}
	if err := svc.Delete(ctx, "b1"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Delete() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestBookmarkService_Save(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())

	created, err := svc.Save(context.Background(), &bookmark.Bookmark{
		URL:  "https://example.com/article",
		Tags: []string{"go", "notes", "go"},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if created.ID == "" {
		t.Error("Save() should assign an ID")
	}
	if created.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", created.UserID)
	}
	if created.Status != bookmark.StatusUnread {
		t.Errorf("Status = %q, want unread default", created.Status)
	}
	if len(created.Tags) != 2 {
		t.Errorf("Tags = %v, want deduplicated", created.Tags)
	}
	if rest.inserts != 1 {
		t.Errorf("inserts = %d, want 1", rest.inserts)
	}
}

func TestBookmarkService_SaveValidation(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())
	ctx := context.Background()

	tests := []struct {
		name string
		b    bookmark.Bookmark
	}{
		{"missing url", bookmark.Bookmark{}},
		{"malformed url", bookmark.Bookmark{URL: "not a url"}},
		{"unknown status", bookmark.Bookmark{URL: "https://example.com", Status: "archived"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Save(ctx, &tt.b); err == nil {
				t.Error("Save() of invalid bookmark should fail")
			}
		})
	}
	if rest.inserts != 0 {
		t.Errorf("invalid bookmarks reached the backend %d times", rest.inserts)
	}
}

func TestBookmarkService_ListCaching(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())
	ctx := context.Background()

	rest.rows = []bookmark.Bookmark{{ID: "b1", URL: "https://example.com", Status: bookmark.StatusUnread}}

	q := bookmark.Query{Status: bookmark.StatusUnread}
	first, err := svc.List(ctx, q)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(first) != 1 || first[0].ID != "b1" {
		t.Errorf("List() = %+v", first)
	}

	// Identical query is served from cache.
	if _, err := svc.List(ctx, q); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rest.selects != 1 {
		t.Errorf("selects = %d, want 1 (second call cached)", rest.selects)
	}

	// A different query misses the cache.
	if _, err := svc.List(ctx, bookmark.Query{Status: bookmark.StatusGoodReference}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rest.selects != 2 {
		t.Errorf("selects = %d, want 2", rest.selects)
	}
}

func TestBookmarkService_SaveInvalidatesListCache(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())
	ctx := context.Background()

	if _, err := svc.List(ctx, bookmark.Query{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if _, err := svc.Save(ctx, &bookmark.Bookmark{URL: "https://example.com"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := svc.List(ctx, bookmark.Query{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rest.selects != 2 {
		t.Errorf("selects = %d, want 2 (save invalidates list cache)", rest.selects)
	}
}

func TestBookmarkService_SignOutInvalidatesCache(t *testing.T) {
	auth := signedInState()
	svc, rest, c := newBookmarkFixture(t, auth)
	ctx := context.Background()

	if _, err := svc.List(ctx, bookmark.Query{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// An unrelated cache entry must survive the sign-out sweep; only the
	// bookmark slice of the cache is dropped.
	c.Set("other", "keep", 0)

	auth.setSession(nil)

	if _, ok := c.Get("other"); !ok {
		t.Error("sign-out should only drop bookmark cache entries")
	}

	auth.setSession(signedInState().current)
	if _, err := svc.List(ctx, bookmark.Query{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rest.selects != 2 {
		t.Errorf("selects = %d, want 2 (cache dropped on sign-out)", rest.selects)
	}
}

func TestBookmarkService_UpdateStatus(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())
	ctx := context.Background()

	if err := svc.UpdateStatus(ctx, "b1", bookmark.StatusGoodReference); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if rest.updates != 1 {
		t.Errorf("updates = %d, want 1", rest.updates)
	}
	if got := rest.lastQuery.Get("id"); got != "eq.b1" {
		t.Errorf("id filter = %q, want eq.b1", got)
	}

	if err := svc.UpdateStatus(ctx, "b1", "archived"); err == nil {
		t.Error("UpdateStatus() with unknown status should fail")
	}
}

func TestBookmarkService_Delete(t *testing.T) {
	svc, rest, _ := newBookmarkFixture(t, signedInState())

	if err := svc.Delete(context.Background(), "b1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rest.deletes != 1 {
		t.Errorf("deletes = %d, want 1", rest.deletes)
	}
	if got := rest.lastQuery.Get("id"); got != "eq.b1" {
		t.Errorf("id filter = %q, want eq.b1", got)
	}
}

func TestListParams(t *testing.T) {
	tests := []struct {
		name string
		q    bookmark.Query
		want map[string]string
	}{
		{
			name: "defaults",
			q:    bookmark.Query{},
			want: map[string]string{"select": "*", "order": "created_at.desc", "limit": "50"},
		},
		{
			name: "status filter",
			q:    bookmark.Query{Status: bookmark.StatusUnread},
			want: map[string]string{"read_status": "eq.unread"},
		},
		{
			name: "tag containment",
			q:    bookmark.Query{Tag: "go"},
			want: map[string]string{"tags": "cs.{go}"},
		},
		{
			name: "search strips wildcards",
			q:    bookmark.Query{Search: "cook*book"},
			want: map[string]string{"or": "(title.ilike.*cookbook*,url.ilike.*cookbook*)"},
		},
		{
			name: "paging",
			q:    bookmark.Query{Limit: 10, Offset: 20},
			want: map[string]string{"limit": "10", "offset": "20"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := listParams(tt.q)
			for key, want := range tt.want {
				if got := params.Get(key); got != want {
					t.Errorf("params[%s] = %q, want %q", key, got, want)
				}
			}
		})
	}
}
