package library

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/tutor-be/internal/pagination"
	"github.com/lib/pq"
)

var (
	// ErrItemNotFound covers both missing rows and rows owned by someone else
	ErrItemNotFound = errors.New("library item not found")

	// ErrUnauthenticated is returned when no owner is supplied
	ErrUnauthenticated = errors.New("owner is required")
)

// Item is a persisted piece of generated study content
type Item struct {
	ItemID      string         `db:"item_id"`
	UserID      string         `db:"user_id"`
	ContentType string         `db:"content_type"`
	Subject     string         `db:"subject"`
	Topic       string         `db:"topic"`
	Tags        pq.StringArray `db:"tags"`
	Difficulty  string         `db:"difficulty"`
	IsFavorite  bool           `db:"is_favorite"`
	Content     string         `db:"content"` // JSON document
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Filter narrows a listing. Empty fields are ignored.
type Filter struct {
	ContentType   string
	Subject       string
	FavoritesOnly bool
	PageSize      int
	Cursor        *pagination.Cursor
}

// NormalizeTags trims, drops empties, de-duplicates and sorts, so applying the
// same tag set twice stores the same value.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
