// Package searchhist is the search-history collaborator: it reserves
// placeholder list ids before a redirect so the shortened URL can
// reference a search that has not been fully persisted yet.
package searchhist

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Store is what the redirect engine needs from search history.
type Store interface {
	// CreatePlaceholder reserves a new list id for the user's cleaned
	// query and returns it.
	CreatePlaceholder(ctx context.Context, userID int64, query string) (int64, error)

	// Exists quietly checks whether the user owns the given list id. It
	// never errors: an unknown id simply reports false and the caller
	// re-canonicalizes.
	Exists(ctx context.Context, userID int64, listID int64) bool
}

// Entry is a reserved search-history row.
type Entry struct {
	ListID int64
	UserID int64
	Query  string
	Token  string
	At     time.Time
}

// Memory is an in-process Store. Entries expire after TTL; the real
// deployment prunes old rows the same way, so an expired placeholder
// behaving like a missing one is the intended semantics.
type Memory struct {
	next    atomic.Int64
	entries *gocache.Cache
}

// NewMemory builds a Memory store whose placeholders live for ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{
		entries: gocache.New(ttl, 10*time.Minute),
	}
}

func (m *Memory) CreatePlaceholder(_ context.Context, userID int64, query string) (int64, error) {
	id := m.next.Add(1)
	m.entries.SetDefault(key(userID, id), Entry{
		ListID: id,
		UserID: userID,
		Query:  query,
		Token:  uuid.NewString(),
		At:     time.Now(),
	})
	return id, nil
}

func (m *Memory) Exists(_ context.Context, userID int64, listID int64) bool {
	_, ok := m.entries.Get(key(userID, listID))
	return ok
}

// Get returns the stored entry, for handlers that render the list.
func (m *Memory) Get(userID, listID int64) (Entry, bool) {
	v, ok := m.entries.Get(key(userID, listID))
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

func key(userID, listID int64) string {
	return strconv.FormatInt(userID, 10) + "/" + strconv.FormatInt(listID, 10)
}
