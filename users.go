package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// UserService handles the email-only account flow. There are no credentials:
// a user is identified by email and links are scoped by the user's id.
type UserService struct {
	store    UserStore
	links    *LinkService
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewUserService builds a UserService. links is used for the stats part of
// WithStats and Dashboard.
func NewUserService(store UserStore, links *LinkService, logger *zap.Logger) (*UserService, error) {
	if store == nil || links == nil {
		return nil, ErrStoreNotSet
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		store:    store,
		links:    links,
		validate: validator.New(),
		logger:   logger.Named("users"),
		now:      time.Now,
	}, nil
}

// Register creates a user. Emails are compared case-insensitively.
func (s *UserService) Register(ctx context.Context, email string, name *string) (*User, error) {
	email, err := s.normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	_, err = s.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrEmailTaken
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}

	user := &User{Email: email, Name: nonEmpty(name), CreatedAt: s.now().UTC()}
	if err := s.store.InsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("insert user %s: %w", email, err)
	}
	s.logger.Info("user registered", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login records a login for email and returns the user with stats.
// Returns ErrNotFound for an unknown email.
func (s *UserService) Login(ctx context.Context, email string) (*UserWithStats, error) {
	user, err := s.ResolveEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("touch last login for user %d: %w", user.ID, err)
	}
	user.LastLoginAt = &now
	return s.WithStats(ctx, user)
}

// CheckEmail reports whether email belongs to a registered user.
func (s *UserService) CheckEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.ResolveEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolveEmail returns the user owning email, or ErrNotFound.
func (s *UserService) ResolveEmail(ctx context.Context, email string) (*User, error) {
	email, err := s.normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}
	return user, nil
}

// WithStats attaches the headline link numbers to user. The numbers come
// from the cached stats query.
func (s *UserService) WithStats(ctx context.Context, user *User) (*UserWithStats, error) {
	stats, err := s.links.Stats(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return newUserWithStats(user, stats.Value), nil
}

// Dashboard combines user info, stats and the first page of five links.
// Cached is set when either query was served from the cache.
func (s *UserService) Dashboard(ctx context.Context, user *User) (QueryResult[*Dashboard], error) {
	stats, err := s.links.Stats(ctx, user.ID)
	if err != nil {
		return QueryResult[*Dashboard]{}, err
	}
	page, err := s.links.ListLinks(ctx, ListQuery{OwnerID: user.ID, Page: 1, PageSize: recentLinksLimit})
	if err != nil {
		return QueryResult[*Dashboard]{}, err
	}

	summary := *stats.Value
	// The dashboard lists recent links with their verification instead.
	summary.RecentLinks = nil
	return QueryResult[*Dashboard]{
		Value: &Dashboard{
			User:        *newUserWithStats(user, stats.Value),
			Stats:       summary,
			RecentLinks: page.Value.Items,
		},
		Cached: stats.Cached || page.Cached,
	}, nil
}

func (s *UserService) normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(email, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return email, nil
}

func newUserWithStats(user *User, stats *LinkStats) *UserWithStats {
	return &UserWithStats{
		User:               *user,
		TotalLinks:         stats.TotalLinks,
		VerifiedLinks:      stats.VerifiedLinks,
		PendingLinks:       stats.PendingLinks,
		FailedLinks:        stats.FailedLinks,
		AverageCredibility: stats.AverageCredibility,
	}
}
