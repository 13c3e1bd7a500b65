// Package storage defines the persistence port for ForgetfulMe's two-tier
// key-value store.
//
// Two namespaces exist: "synced" (replicated across the user's devices,
// subject to a hard per-write quota) and "local" (device-only, larger).
// Implementations live under internal/adapter/outbound/storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Namespace identifies one of the two persistence tiers.
type Namespace string

const (
	// NamespaceSynced is replicated across the user's devices.
	NamespaceSynced Namespace = "synced"
	// NamespaceLocal is confined to the current device.
	NamespaceLocal Namespace = "local"
)

// DefaultMaxValueBytes is the per-write ceiling on a serialized value in the
// synced namespace. The synced tier has a platform quota; oversized writes
// are rejected up front rather than failing half-replicated.
const DefaultMaxValueBytes = 8 * 1024

// Storage errors.
var (
	// ErrQuotaExceeded is returned by Set when the serialized payload is
	// larger than the store's per-write ceiling.
	ErrQuotaExceeded = errors.New("storage: serialized value exceeds quota")

	// ErrUnavailable is returned when the underlying store cannot be
	// reached at all. Distinct from a missing key, which is not an error.
	ErrUnavailable = errors.New("storage: backend unavailable")
)

// Change describes one key mutation, delivered to Watch subscribers.
// NewValue is nil for removals; OldValue is nil for first writes.
type Change struct {
	Key       string
	NewValue  json.RawMessage
	OldValue  json.RawMessage
	Namespace Namespace
}

// Store is the persistence port for a single namespace.
//
// Get resolves a missing key to (nil, nil) -- absence is an expected state,
// not an error. Set serializes the value as JSON and enforces the store's
// size ceiling. Watch registers a change callback that fires for every key
// mutation, including mutations performed by other processes sharing the
// same backing store; the returned function cancels the subscription.
type Store interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Namespace() Namespace
	Watch(fn func(Change)) (cancel func())
}

// Tiered bundles the two namespaces of a ForgetfulMe installation.
type Tiered struct {
	Synced Store
	Local  Store
}

// GetJSON reads key from the store and unmarshals it into out.
// Returns (false, nil) when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// CheckSize enforces a serialized-size ceiling. A limit of zero disables
// the check.
func CheckSize(data []byte, limit int) error {
	if limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d bytes > %d byte limit", ErrQuotaExceeded, len(data), limit)
	}
	return nil
}
