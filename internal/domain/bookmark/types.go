// Package bookmark contains the domain types for saved pages and their
// status/tag taxonomy.
package bookmark

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Status classifies how the user filed a saved page.
type Status string

// The status taxonomy.
const (
	StatusUnread        Status = "unread"
	StatusGoodReference Status = "good-reference"
	StatusLowValue      Status = "low-value"
	StatusRevisitLater  Status = "revisit-later"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUnread, StatusGoodReference, StatusLowValue, StatusRevisitLater:
		return true
	}
	return false
}

// Bookmark is one saved page.
type Bookmark struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	URL       string    `json:"url" validate:"required,url"`
	Title     string    `json:"title" validate:"max=500"`
	Status    Status    `json:"read_status" validate:"required,oneof=unread good-reference low-value revisit-later"`
	Tags      []string  `json:"tags" validate:"omitempty,dive,min=1,max=50"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query filters a bookmark listing.
type Query struct {
	Status Status
	Tag    string
	Search string
	Limit  int
	Offset int
}

// CacheKey derives a stable cache key for this query scoped to one user.
// xxhash keeps keys short while staying collision-resistant for the small
// query space involved.
func (q Query) CacheKey(userID string) string {
	h := xxhash.New()
	_, _ = h.WriteString(userID)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(q.Status))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(q.Tag)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(q.Search)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(q.Limit))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(q.Offset))
	return fmt.Sprintf("bookmarks:%016x", h.Sum64())
}

// NormalizeTags sorts and deduplicates a tag list in place-safe fashion.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
