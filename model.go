package linkcheck

import (
	"fmt"
	"time"
)

// LinkStatus is the processing state of a submitted link.
type LinkStatus string

const (
	StatusPending    LinkStatus = "pending"
	StatusProcessing LinkStatus = "processing"
	StatusScraped    LinkStatus = "scraped"
	StatusVerified   LinkStatus = "verified"
	StatusFailed     LinkStatus = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []LinkStatus{StatusPending, StatusProcessing, StatusScraped, StatusVerified, StatusFailed}

func (s LinkStatus) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s LinkStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseLinkStatus converts a query or body value into a LinkStatus.
func ParseLinkStatus(v string) (LinkStatus, error) {
	s := LinkStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, v)
	}
	return s, nil
}

// Link is the persistence entity for a submitted article URL.
type Link struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	URL          string     `db:"url"`
	Title        *string    `db:"title"`
	Content      *string    `db:"content"`
	SourceDomain *string    `db:"source_domain"`
	Author       *string    `db:"author"`
	PublishedAt  *time.Time `db:"published_at"`
	Status       LinkStatus `db:"status"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`

	// Verification is loaded by FindLink and ListLinks; nil when the link
	// has not been verified yet.
	Verification *Verification `db:"-"`
}

// Verification is the credibility result recorded for one link.
type Verification struct {
	ID               int64        `db:"id"`
	LinkID           int64        `db:"link_id"`
	CredibilityScore *float64     `db:"credibility_score"`
	Claims           []ClaimCheck `db:"-"`
	SourcesChecked   []string     `db:"-"`
	Summary          *string      `db:"summary"`
	VerifiedAt       time.Time    `db:"verified_at"`
}

// ClaimCheck is a single fact-checked claim.
type ClaimCheck struct {
	Claim       string   `json:"claim"`
	Verdict     string   `json:"verdict"` // verified, false, unverified, partially_true
	Sources     []string `json:"sources"`
	Explanation *string  `json:"explanation,omitempty"`
}

// User owns links. Authentication is out of scope; the id is opaque.
type User struct {
	ID          int64      `db:"id" json:"id"`
	Email       string     `db:"email" json:"email"`
	Name        *string    `db:"name" json:"name"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at"`
}

// ScrapedArticle is what a Scraper extracted from a page.
type ScrapedArticle struct {
	URL          string
	Title        *string
	Content      *string
	Author       *string
	PublishedAt  *time.Time
	SourceDomain string
	// Error is set when the page could not be fetched.
	Error string
}

// --- Write inputs ---

// LinkCreate is the input of CreateLink.
type LinkCreate struct {
	URL   string
	Title *string
}

// LinkUpdate is the input of UpdateLink; nil fields are left unchanged.
type LinkUpdate struct {
	Title *string
}

// LinkMetadata carries scraped fields; nil or empty fields are left unchanged.
type LinkMetadata struct {
	Title       *string
	Content     *string
	Author      *string
	PublishedAt *time.Time
}

// VerificationInput is the input of RecordVerification.
type VerificationInput struct {
	CredibilityScore *float64
	Claims           []ClaimCheck
	SourcesChecked   []string
	Summary          *string
}

// --- Cached projections ---
//
// Every cached read has a dedicated projection type so that a cache hit and a
// fresh load return the same shape.

// LinkView is the common projection of a link without content.
type LinkView struct {
	ID           int64      `json:"id"`
	URL          string     `json:"url"`
	Title        *string    `json:"title"`
	SourceDomain *string    `json:"source_domain"`
	Author       *string    `json:"author"`
	PublishedAt  *time.Time `json:"published_at"`
	Status       LinkStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// VerificationSummary is the verification as shown in listings.
type VerificationSummary struct {
	CredibilityScore *float64  `json:"credibility_score"`
	ClaimsCount      int       `json:"claims_count"`
	VerifiedAt       time.Time `json:"verified_at"`
	Summary          *string   `json:"summary"`
}

// LinkSummary is one row of a LinkPage.
type LinkSummary struct {
	LinkView
	Verification *VerificationSummary `json:"verification"`
}

// VerificationDetail is the full verification of a LinkDetail.
type VerificationDetail struct {
	ID               int64        `json:"id"`
	LinkID           int64        `json:"link_id"`
	CredibilityScore *float64     `json:"credibility_score"`
	Claims           []ClaimCheck `json:"claims"`
	SourcesChecked   []string     `json:"sources_checked"`
	Summary          *string      `json:"summary"`
	VerifiedAt       time.Time    `json:"verified_at"`
}

// LinkDetail is the single-link projection.
type LinkDetail struct {
	LinkView
	Content      *string             `json:"content"`
	ErrorMessage *string             `json:"error_message"`
	Verification *VerificationDetail `json:"verification"`
}

// LinkPage is one page of an owner's links.
type LinkPage struct {
	Items      []LinkSummary `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// LinkStats aggregates an owner's links.
type LinkStats struct {
	TotalLinks    int64 `json:"total_links"`
	VerifiedLinks int64 `json:"verified_links"`
	// PendingLinks counts pending and processing links.
	PendingLinks       int64            `json:"pending_links"`
	FailedLinks        int64            `json:"failed_links"`
	AverageCredibility *float64         `json:"average_credibility"`
	LinksByStatus      map[string]int64 `json:"links_by_status"`
	RecentLinks        []LinkView       `json:"recent_links"`
}

// UserWithStats is a user plus the headline numbers of their links.
type UserWithStats struct {
	User
	TotalLinks         int64    `json:"total_links"`
	VerifiedLinks      int64    `json:"verified_links"`
	PendingLinks       int64    `json:"pending_links"`
	FailedLinks        int64    `json:"failed_links"`
	AverageCredibility *float64 `json:"average_credibility"`
}

// Dashboard combines user info, stats and the most recent links.
type Dashboard struct {
	User        UserWithStats `json:"user"`
	Stats       LinkStats     `json:"stats"`
	RecentLinks []LinkSummary `json:"recent_links"`
}

// --- Projection builders ---

// NewLinkView projects a persisted link for write responses.
func NewLinkView(l *Link) LinkView {
	return LinkView{
		ID:           l.ID,
		URL:          l.URL,
		Title:        l.Title,
		SourceDomain: l.SourceDomain,
		Author:       l.Author,
		PublishedAt:  utcPtr(l.PublishedAt),
		Status:       l.Status,
		CreatedAt:    l.CreatedAt.UTC(),
		UpdatedAt:    l.UpdatedAt.UTC(),
	}
}

func newLinkSummary(l *Link) LinkSummary {
	s := LinkSummary{LinkView: NewLinkView(l)}
	if v := l.Verification; v != nil {
		s.Verification = &VerificationSummary{
			CredibilityScore: v.CredibilityScore,
			ClaimsCount:      len(v.Claims),
			VerifiedAt:       v.VerifiedAt.UTC(),
			Summary:          v.Summary,
		}
	}
	return s
}

func newLinkDetail(l *Link) LinkDetail {
	d := LinkDetail{
		LinkView:     NewLinkView(l),
		Content:      l.Content,
		ErrorMessage: l.ErrorMessage,
	}
	if v := l.Verification; v != nil {
		d.Verification = &VerificationDetail{
			ID:               v.ID,
			LinkID:           v.LinkID,
			CredibilityScore: v.CredibilityScore,
			Claims:           v.Claims,
			SourcesChecked:   v.SourcesChecked,
			Summary:          v.Summary,
			VerifiedAt:       v.VerifiedAt.UTC(),
		}
	}
	return d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
