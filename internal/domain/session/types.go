// Package session holds the authenticated principal's credential bundle
// and its persistence specialization over the synced storage namespace.
package session

import (
	"time"
)

// Session is the credential bundle for one authenticated principal.
//
// A session is all-or-nothing: every field is populated from a successful
// remote authentication response, or the auth service holds no session at
// all. Partial sessions are never retained.
type Session struct {
	// UserID is the opaque user identifier assigned by the remote service.
	UserID string `json:"id"`
	// Email is the account email.
	Email string `json:"email"`
	// AccessToken authorizes REST calls on behalf of the user.
	AccessToken string `json:"access_token"`
	// RefreshToken obtains a replacement session when the access token expires.
	RefreshToken string `json:"refresh_token"`
	// ExpiresAt is the access token expiry as a Unix epoch value. The
	// remote service is inconsistent about the unit; see NormalizeExpiry.
	ExpiresAt int64 `json:"expires_at"`
}

// Complete reports whether every credential field is populated.
// An incomplete stored session is treated as absent.
func (s *Session) Complete() bool {
	return s != nil &&
		s.UserID != "" &&
		s.Email != "" &&
		s.AccessToken != "" &&
		s.RefreshToken != "" &&
		s.ExpiresAt != 0
}

// ExpiryTime returns the normalized expiry instant.
func (s *Session) ExpiryTime() time.Time {
	return NormalizeExpiry(s.ExpiresAt, time.Now())
}

// IsExpired reports whether the access token expiry has passed.
func (s *Session) IsExpired() bool {
	return !time.Now().Before(s.ExpiryTime())
}

// Clone returns a copy of the session, or nil for nil input.
// Callers hand out clones so external mutation cannot corrupt the
// installed session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// NormalizeExpiry converts an epoch expiry of ambiguous unit to a
// time.Time. The remote service reports expires_at sometimes in seconds
// and sometimes in milliseconds; a value far below the current epoch
// milliseconds is assumed to be seconds.
//
// The threshold (now_ms / 100) reproduces the established heuristic
// exactly. It misclassifies near the unit boundary; confirm the remote
// service's actual convention before changing it.
func NormalizeExpiry(expiresAt int64, now time.Time) time.Time {
	nowMillis := now.UnixMilli()
	if expiresAt < nowMillis/100 {
		return time.UnixMilli(expiresAt * 1000)
	}
	return time.UnixMilli(expiresAt)
}
