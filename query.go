package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ListQuery selects one page of an owner's links.
type ListQuery struct {
	OwnerID  int64
	Page     int // 1-indexed
	PageSize int
	Status   *LinkStatus
}

// --- Reads ---
//
// Every read is cache-aside: derive the key, try the cache, and on a miss
// load from the store, shape the projection, populate and return. Store
// errors always propagate; cache errors never do.

// GetLink returns the owner-scoped detail of one link. An unknown id and an
// id owned by someone else are both reported as a nil Value with no error.
// Not-found results are not cached.
func (s *LinkService) GetLink(ctx context.Context, id, ownerID int64) (QueryResult[*LinkDetail], error) {
	key := linkDetailKey(id, ownerID)
	res, err := cacheAside(ctx, s.cache, key, func(ctx context.Context) (*LinkDetail, bool, error) {
		link, err := s.store.FindLink(ctx, id, ownerID)
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("find link %d: %w", id, err)
		}
		detail := newLinkDetail(link)
		return &detail, true, nil
	})
	if err != nil {
		return QueryResult[*LinkDetail]{}, err
	}
	s.logger.Debug("get link", zap.Int64("link_id", id), zap.Int64("user_id", ownerID), zap.Bool("cached", res.Cached))
	return res, nil
}

// ListLinks returns one page of the owner's links, newest first with ties
// broken by ascending id. Bounding PageSize is the caller's concern.
func (s *LinkService) ListLinks(ctx context.Context, q ListQuery) (QueryResult[*LinkPage], error) {
	if q.Page < 1 {
		return QueryResult[*LinkPage]{}, ErrInvalidPage
	}
	if q.PageSize < 1 {
		return QueryResult[*LinkPage]{}, ErrInvalidPageSize
	}
	if q.Status != nil && !q.Status.Valid() {
		return QueryResult[*LinkPage]{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *q.Status)
	}

	res, err := cacheAside(ctx, s.cache, linkListKey(q), func(ctx context.Context) (*LinkPage, bool, error) {
		links, total, err := s.store.ListLinks(ctx, LinkFilter{
			OwnerID: q.OwnerID,
			Status:  q.Status,
			Offset:  pageOffset(q.Page, q.PageSize),
			Limit:   q.PageSize,
		})
		if err != nil {
			return nil, false, fmt.Errorf("list links for user %d: %w", q.OwnerID, err)
		}
		page := &LinkPage{
			Items:      make([]LinkSummary, 0, len(links)),
			Total:      total,
			Page:       q.Page,
			PageSize:   q.PageSize,
			TotalPages: totalPages(total, q.PageSize),
		}
		for i := range links {
			page.Items = append(page.Items, newLinkSummary(&links[i]))
		}
		return page, true, nil
	})
	if err != nil {
		return QueryResult[*LinkPage]{}, err
	}
	s.logger.Debug("list links",
		zap.Int64("user_id", q.OwnerID),
		zap.Int("page", q.Page),
		zap.Int("page_size", q.PageSize),
		zap.Bool("cached", res.Cached))
	return res, nil
}

// Stats aggregates the owner's links. AverageCredibility is nil when no link
// has a score.
func (s *LinkService) Stats(ctx context.Context, ownerID int64) (QueryResult[*LinkStats], error) {
	res, err := cacheAside(ctx, s.cache, linkStatsKey(ownerID), func(ctx context.Context) (*LinkStats, bool, error) {
		stats, err := s.loadStats(ctx, ownerID)
		if err != nil {
			return nil, false, err
		}
		return stats, true, nil
	})
	if err != nil {
		return QueryResult[*LinkStats]{}, err
	}
	s.logger.Debug("link stats", zap.Int64("user_id", ownerID), zap.Bool("cached", res.Cached))
	return res, nil
}

func (s *LinkService) loadStats(ctx context.Context, ownerID int64) (*LinkStats, error) {
	var (
		counts map[LinkStatus]int64
		avg    *float64
		recent []Link
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		counts, err = s.store.CountLinksByStatus(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("count links for user %d: %w", ownerID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		avg, err = s.store.AverageCredibility(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("average credibility for user %d: %w", ownerID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		recent, _, err = s.store.ListLinks(gctx, LinkFilter{OwnerID: ownerID, Limit: recentLinksLimit})
		if err != nil {
			return fmt.Errorf("recent links for user %d: %w", ownerID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &LinkStats{
		LinksByStatus: make(map[string]int64, len(counts)),
		RecentLinks:   make([]LinkView, 0, len(recent)),
	}
	for status, n := range counts {
		stats.LinksByStatus[string(status)] = n
		stats.TotalLinks += n
	}
	stats.VerifiedLinks = counts[StatusVerified]
	stats.PendingLinks = counts[StatusPending] + counts[StatusProcessing]
	stats.FailedLinks = counts[StatusFailed]
	if avg != nil {
		rounded := math.Round(*avg*100) / 100
		stats.AverageCredibility = &rounded
	}
	for i := range recent {
		stats.RecentLinks = append(stats.RecentLinks, NewLinkView(&recent[i]))
	}
	return stats, nil
}

// pageOffset returns the row offset of a 1-indexed page. Offsets that would
// overflow are clamped to math.MaxInt, which is past the end of any table.
func pageOffset(page, pageSize int) int {
	if page-1 > math.MaxInt/pageSize {
		return math.MaxInt
	}
	return (page - 1) * pageSize
}

func totalPages(total int64, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
