package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidshq/forgetfulme-sub002/internal/domain/storage"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "local.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SetGetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	type payload struct {
		URL  string   `json:"url"`
		Tags []string `json:"tags"`
	}
	want := payload{URL: "https://example.com", Tags: []string{"go", "notes"}}
	if err := s.Set(ctx, "k", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got payload
	found, err := storage.GetJSON(ctx, s, "k", &got)
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if !found {
		t.Fatal("GetJSON() should find the stored key")
	}
	if got.URL != want.URL || len(got.Tags) != 2 {
		t.Errorf("GetJSON() = %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_GetAbsent(t *testing.T) {
	s := newTestSQLiteStore(t)

	raw, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if raw != nil {
		t.Errorf("Get() of absent key = %s, want nil", raw)
	}
}

func TestSQLiteStore_Upsert(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "k", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "k", 2); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	raw, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(raw) != "2" {
		t.Errorf("Get() after overwrite = %s, want 2", raw)
	}
}

func TestSQLiteStore_NoQuota(t *testing.T) {
	s := newTestSQLiteStore(t)

	// The local tier accepts payloads well past the synced write ceiling.
	big := strings.Repeat("x", 4*storage.DefaultMaxValueBytes)
	if err := s.Set(context.Background(), "k", big); err != nil {
		t.Fatalf("Set() of large local value error = %v", err)
	}
}

func TestSQLiteStore_RemoveAndClear(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "a", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Set(ctx, "b", 2); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	raw, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if raw != nil {
		t.Error("removed key should be absent")
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() of absent key error = %v", err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	raw, err = s.Get(ctx, "b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if raw != nil {
		t.Error("Clear() should remove every key")
	}
}

func TestSQLiteStore_ChangeEvents(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	var events []storage.Change
	cancel := s.Watch(func(ch storage.Change) { events = append(events, ch) })
	defer cancel()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Key != "k" || string(events[0].NewValue) != `"v"` {
		t.Errorf("set event = %+v", events[0])
	}
	if events[1].NewValue != nil || string(events[1].OldValue) != `"v"` {
		t.Errorf("remove event = %+v", events[1])
	}
	if events[0].Namespace != storage.NamespaceLocal {
		t.Errorf("event namespace = %q, want local", events[0].Namespace)
	}
}
