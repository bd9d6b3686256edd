package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// LinkService is the query service for links. Reads are served cache-aside
// (see query.go); writes always go to the store and then invalidate the
// affected cache scope. Invalidation runs strictly after a successful write.
type LinkService struct {
	store   LinkStore
	cache   *CacheService
	scraper Scraper
	logger  *zap.Logger
	now     func() time.Time
}

// NewLinkService builds a LinkService. cache may be nil, in which case every
// read is served fresh. scraper may be nil when ScrapeLink is not used.
func NewLinkService(store LinkStore, cache *CacheService, scraper Scraper, logger *zap.Logger) (*LinkService, error) {
	if store == nil {
		return nil, ErrStoreNotSet
	}
	if cache == nil {
		cache = NewCacheService(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkService{
		store:   store,
		cache:   cache,
		scraper: scraper,
		logger:  logger.Named("links"),
		now:     time.Now,
	}, nil
}

// Cache returns the cache service the link service reads through.
func (s *LinkService) Cache() *CacheService { return s.cache }

// --- Writes ---

// CreateLink stores a new pending link for ownerID. The URL must be an
// absolute http(s) URL not yet submitted by the same owner.
func (s *LinkService) CreateLink(ctx context.Context, ownerID int64, in LinkCreate) (*Link, error) {
	rawURL := strings.TrimSpace(in.URL)
	domain, err := sourceDomain(rawURL)
	if err != nil {
		return nil, err
	}
	exists, err := s.store.LinkURLExists(ctx, ownerID, rawURL)
	if err != nil {
		return nil, fmt.Errorf("check url for user %d: %w", ownerID, err)
	}
	if exists {
		return nil, ErrDuplicateURL
	}

	now := s.now().UTC()
	link := &Link{
		UserID:       ownerID,
		URL:          rawURL,
		Title:        nonEmpty(in.Title),
		SourceDomain: &domain,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertLink(ctx, link); err != nil {
		return nil, fmt.Errorf("insert link for user %d: %w", ownerID, err)
	}

	// No detail entry can exist for a fresh id.
	s.cache.Invalidate(ctx, ListingScope(ownerID))
	s.logger.Info("link created", zap.Int64("link_id", link.ID), zap.Int64("user_id", ownerID), zap.String("domain", domain))
	return link, nil
}

// URLExists reports whether ownerID already submitted rawURL.
func (s *LinkService) URLExists(ctx context.Context, ownerID int64, rawURL string) (bool, error) {
	return s.store.LinkURLExists(ctx, ownerID, strings.TrimSpace(rawURL))
}

// UpdateLink applies the user-editable fields of in. Returns ErrNotFound
// for an unknown or foreign id.
func (s *LinkService) UpdateLink(ctx context.Context, id, ownerID int64, in LinkUpdate) (*Link, error) {
	return s.mutate(ctx, id, ownerID, "update", func(l *Link) error {
		if in.Title != nil {
			l.Title = in.Title
		}
		return nil
	})
}

// UpdateStatus moves a link to status. errMsg replaces the stored error
// message, so passing nil clears it.
func (s *LinkService) UpdateStatus(ctx context.Context, id, ownerID int64, status LinkStatus, errMsg *string) (*Link, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.mutate(ctx, id, ownerID, "status", func(l *Link) error {
		l.Status = status
		l.ErrorMessage = errMsg
		return nil
	})
}

// UpdateMetadata stores scraped fields. Nil and empty fields keep the
// current value.
func (s *LinkService) UpdateMetadata(ctx context.Context, id, ownerID int64, meta LinkMetadata) (*Link, error) {
	return s.mutate(ctx, id, ownerID, "metadata", func(l *Link) error {
		applyMetadata(l, meta)
		return nil
	})
}

// DeleteLink removes a link and its verification.
func (s *LinkService) DeleteLink(ctx context.Context, id, ownerID int64) error {
	if err := s.store.DeleteLink(ctx, id, ownerID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete link %d: %w", id, err)
	}
	s.cache.Invalidate(ctx, EntityScope(ownerID, id))
	s.logger.Info("link deleted", zap.Int64("link_id", id), zap.Int64("user_id", ownerID))
	return nil
}

// RecordVerification stores the credibility result of a link and marks it
// verified. A score, when present, must be within [0, 100].
func (s *LinkService) RecordVerification(ctx context.Context, id, ownerID int64, in VerificationInput) (*Link, error) {
	if sc := in.CredibilityScore; sc != nil && (*sc < 0 || *sc > 100) {
		return nil, ErrInvalidScore
	}
	link, err := s.findForWrite(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	v := &Verification{
		LinkID:           link.ID,
		CredibilityScore: in.CredibilityScore,
		Claims:           in.Claims,
		SourcesChecked:   in.SourcesChecked,
		Summary:          in.Summary,
		VerifiedAt:       now,
	}
	if err := s.store.UpsertVerification(ctx, v); err != nil {
		return nil, fmt.Errorf("store verification for link %d: %w", id, err)
	}
	link.Verification = v
	link.Status = StatusVerified
	link.ErrorMessage = nil
	link.UpdatedAt = now
	if err := s.store.UpdateLink(ctx, link); err != nil {
		// The verification row is already durable.
		s.cache.Invalidate(ctx, EntityScope(ownerID, id))
		return nil, fmt.Errorf("update link %d: %w", id, err)
	}

	s.cache.Invalidate(ctx, EntityScope(ownerID, id))
	s.logger.Info("link verified", zap.Int64("link_id", id), zap.Int64("user_id", ownerID))
	return link, nil
}

// ScrapeLink fetches the link's page and stores what was extracted. The link
// passes through processing and ends scraped, or failed with the scrape
// error as its message. The returned article carries that error.
func (s *LinkService) ScrapeLink(ctx context.Context, id, ownerID int64) (*Link, *ScrapedArticle, error) {
	if s.scraper == nil {
		return nil, nil, errors.New("linkcheck: scraper not configured")
	}
	link, err := s.UpdateStatus(ctx, id, ownerID, StatusProcessing, nil)
	if err != nil {
		return nil, nil, err
	}

	article, err := s.scraper.Scrape(ctx, link.URL)
	if err != nil {
		// Cancelled mid-scrape: leave a terminal state behind.
		msg := err.Error()
		if _, uerr := s.UpdateStatus(context.WithoutCancel(ctx), id, ownerID, StatusFailed, &msg); uerr != nil {
			s.logger.Warn("failed to mark link failed", zap.Int64("link_id", id), zap.Error(uerr))
		}
		return nil, nil, fmt.Errorf("scrape link %d: %w", id, err)
	}

	link, err = s.mutate(ctx, id, ownerID, "scrape", func(l *Link) error {
		if article.Error != "" {
			msg := article.Error
			l.Status = StatusFailed
			l.ErrorMessage = &msg
			return nil
		}
		applyMetadata(l, LinkMetadata{
			Title:       article.Title,
			Content:     article.Content,
			Author:      article.Author,
			PublishedAt: article.PublishedAt,
		})
		l.Status = StatusScraped
		l.ErrorMessage = nil
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("link scraped",
		zap.Int64("link_id", id),
		zap.String("status", link.Status.String()),
		zap.String("error", article.Error))
	return link, article, nil
}

// mutate loads a link, applies fn, stores it and invalidates the link's
// scope. fn works on the loaded copy, never on a cached projection.
func (s *LinkService) mutate(ctx context.Context, id, ownerID int64, op string, fn func(*Link) error) (*Link, error) {
	link, err := s.findForWrite(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	if err := fn(link); err != nil {
		return nil, err
	}
	link.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateLink(ctx, link); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%s link %d: %w", op, id, err)
	}
	s.cache.Invalidate(ctx, EntityScope(ownerID, id))
	s.logger.Debug("link updated", zap.String("op", op), zap.Int64("link_id", id), zap.Int64("user_id", ownerID))
	return link, nil
}

// findForWrite always reads the store; writes never trust the cache.
func (s *LinkService) findForWrite(ctx context.Context, id, ownerID int64) (*Link, error) {
	link, err := s.store.FindLink(ctx, id, ownerID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find link %d: %w", id, err)
	}
	return link, nil
}

func applyMetadata(l *Link, meta LinkMetadata) {
	if v := nonEmpty(meta.Title); v != nil {
		l.Title = v
	}
	if v := nonEmpty(meta.Content); v != nil {
		l.Content = v
	}
	if v := nonEmpty(meta.Author); v != nil {
		l.Author = v
	}
	if meta.PublishedAt != nil && !meta.PublishedAt.IsZero() {
		l.PublishedAt = utcPtr(meta.PublishedAt)
	}
}

// sourceDomain validates rawURL and returns its host, port included.
func sourceDomain(rawURL string) (string, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u.Host, nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}
