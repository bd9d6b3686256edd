// interfaces.go
// Core interfaces for linkcheck: CacheBackend, LinkStore, UserStore, Scraper.
// These are public and intended for use by the drivers and by tests that
// substitute their own backends.

package linkcheck

import (
	"context"
	"iter"
	"time"
)

// CacheBackend defines the interface for cache drivers. Values are opaque
// strings; the CacheService owns encoding.
// Get returns common.ErrNotFound for absent or expired keys.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithExpiry(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// ScanKeys lazily enumerates keys matching a glob pattern (*, ?, [...]).
	// Iteration stops at the first error, which is yielded with an empty key.
	ScanKeys(ctx context.Context, pattern string) iter.Seq2[string, error]
	DeleteMany(ctx context.Context, keys ...string) error

	Close() error
}

// LinkStore is the durable source of truth for links and verifications.
// Lookups are always owner-scoped; FindLink returns common.ErrNotFound when
// the id is unknown or belongs to another owner.
type LinkStore interface {
	FindLink(ctx context.Context, id, ownerID int64) (*Link, error)
	// ListLinks returns one page ordered created_at DESC, id ASC and the total
	// number of rows matching the filter.
	ListLinks(ctx context.Context, filter LinkFilter) ([]Link, int64, error)
	CountLinksByStatus(ctx context.Context, ownerID int64) (map[LinkStatus]int64, error)
	// AverageCredibility averages non-null scores; nil when there are none.
	AverageCredibility(ctx context.Context, ownerID int64) (*float64, error)
	LinkURLExists(ctx context.Context, ownerID int64, url string) (bool, error)

	InsertLink(ctx context.Context, link *Link) error
	UpdateLink(ctx context.Context, link *Link) error
	// DeleteLink removes the link and its dependent rows.
	DeleteLink(ctx context.Context, id, ownerID int64) error
	UpsertVerification(ctx context.Context, v *Verification) error
}

// UserStore persists users. Lookups return common.ErrNotFound on a miss.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
	InsertUser(ctx context.Context, user *User) error
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// Scraper fetches a URL and extracts article metadata. A failed fetch is
// reported through ScrapedArticle.Error, not the error return, which is kept
// for context cancellation.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*ScrapedArticle, error)
}

// LinkFilter selects one page of an owner's links.
type LinkFilter struct {
	OwnerID int64
	Status  *LinkStatus
	Offset  int
	Limit   int
}
