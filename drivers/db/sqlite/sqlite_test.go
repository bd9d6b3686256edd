package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burugo/linkcheck"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(t.TempDir(), "test.db"))
	s, err := Open(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertUser(t *testing.T, s *Store, email string) int64 {
	t.Helper()
	u := &linkcheck.User{Email: email, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.InsertUser(context.Background(), u))
	return u.ID
}

func insertLink(t *testing.T, s *Store, owner int64, url string, at time.Time) *linkcheck.Link {
	t.Helper()
	l := &linkcheck.Link{UserID: owner, URL: url, Status: linkcheck.StatusPending, CreatedAt: at, UpdatedAt: at}
	require.NoError(t, s.InsertLink(context.Background(), l))
	require.NotZero(t, l.ID)
	return l
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestStore_Users(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := insertUser(t, s, "a@example.com")
	u, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Nil(t, u.LastLoginAt)

	err = s.InsertUser(ctx, &linkcheck.User{Email: "a@example.com", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, linkcheck.ErrEmailTaken)

	_, err = s.FindUserByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, linkcheck.ErrNotFound)
	_, err = s.FindUserByID(ctx, 999)
	assert.ErrorIs(t, err, linkcheck.ErrNotFound)

	at := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, s.TouchLastLogin(ctx, id, at))
	u, err = s.FindUserByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, u.LastLoginAt)
	assert.True(t, at.Equal(*u.LastLoginAt))

	assert.ErrorIs(t, s.TouchLastLogin(ctx, 999, at), linkcheck.ErrNotFound)
}

func TestStore_LinkCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := insertUser(t, s, "a@example.com")
	other := insertUser(t, s, "b@example.com")
	l := insertLink(t, s, owner, "https://example.com/a", time.Now().UTC())

	got, err := s.FindLink(ctx, l.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", got.URL)
	assert.Nil(t, got.Verification)

	_, err = s.FindLink(ctx, l.ID, other)
	assert.ErrorIs(t, err, linkcheck.ErrNotFound)

	title := "Title"
	got.Title = &title
	got.Status = linkcheck.StatusScraped
	require.NoError(t, s.UpdateLink(ctx, got))
	got, err = s.FindLink(ctx, l.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, "Title", *got.Title)
	assert.Equal(t, linkcheck.StatusScraped, got.Status)

	// Another owner cannot update it.
	foreign := *got
	foreign.UserID = other
	assert.ErrorIs(t, s.UpdateLink(ctx, &foreign), linkcheck.ErrNotFound)

	exists, err := s.LinkURLExists(ctx, owner, "https://example.com/a")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.LinkURLExists(ctx, other, "https://example.com/a")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, s.DeleteLink(ctx, l.ID, other), linkcheck.ErrNotFound)
	require.NoError(t, s.DeleteLink(ctx, l.ID, owner))
	_, err = s.FindLink(ctx, l.ID, owner)
	assert.ErrorIs(t, err, linkcheck.ErrNotFound)
	assert.ErrorIs(t, s.DeleteLink(ctx, l.ID, owner), linkcheck.ErrNotFound)
}

func TestStore_ListLinksOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := insertUser(t, s, "a@example.com")

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	older := insertLink(t, s, owner, "https://example.com/old", t0)
	tieA := insertLink(t, s, owner, "https://example.com/tie-a", t0.Add(time.Hour))
	tieB := insertLink(t, s, owner, "https://example.com/tie-b", t0.Add(time.Hour))
	newest := insertLink(t, s, owner, "https://example.com/new", t0.Add(2*time.Hour))

	links, total, err := s.ListLinks(ctx, linkcheck.LinkFilter{OwnerID: owner, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	var ids []int64
	for _, l := range links {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []int64{newest.ID, tieA.ID, tieB.ID, older.ID}, ids)

	page, total, err := s.ListLinks(ctx, linkcheck.LinkFilter{OwnerID: owner, Offset: 3, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, page, 1)
	assert.Equal(t, older.ID, page[0].ID)

	// No limit returns everything.
	all, _, err := s.ListLinks(ctx, linkcheck.LinkFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, total, err := s.ListLinks(ctx, linkcheck.LinkFilter{OwnerID: owner + 100, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestStore_VerificationsAndAggregates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := insertUser(t, s, "a@example.com")
	now := time.Now().UTC()
	a := insertLink(t, s, owner, "https://example.com/a", now)
	b := insertLink(t, s, owner, "https://example.com/b", now)
	insertLink(t, s, owner, "https://example.com/c", now)

	avg, err := s.AverageCredibility(ctx, owner)
	require.NoError(t, err)
	assert.Nil(t, avg)

	explanation := "checked against two outlets"
	score := 70.0
	v := &linkcheck.Verification{
		LinkID:           a.ID,
		CredibilityScore: &score,
		Claims: []linkcheck.ClaimCheck{{
			Claim: "x", Verdict: "partially_true", Sources: []string{"s1"}, Explanation: &explanation,
		}},
		SourcesChecked: []string{"s1", "s2"},
		VerifiedAt:     now,
	}
	require.NoError(t, s.UpsertVerification(ctx, v))
	firstID := v.ID
	require.NotZero(t, firstID)

	score2 := 90.0
	require.NoError(t, s.UpsertVerification(ctx, &linkcheck.Verification{LinkID: b.ID, CredibilityScore: &score2, VerifiedAt: now}))

	avg, err = s.AverageCredibility(ctx, owner)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 80.0, *avg, 1e-9)

	got, err := s.FindLink(ctx, a.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, got.Verification)
	assert.Equal(t, 70.0, *got.Verification.CredibilityScore)
	require.Len(t, got.Verification.Claims, 1)
	assert.Equal(t, "checked against two outlets", *got.Verification.Claims[0].Explanation)
	assert.Equal(t, []string{"s1", "s2"}, got.Verification.SourcesChecked)

	// Upsert replaces in place.
	score3 := 10.0
	v2 := &linkcheck.Verification{LinkID: a.ID, CredibilityScore: &score3, VerifiedAt: now}
	require.NoError(t, s.UpsertVerification(ctx, v2))
	assert.Equal(t, firstID, v2.ID)
	got, err = s.FindLink(ctx, a.ID, owner)
	require.NoError(t, err)
	assert.Nil(t, got.Verification.Claims)
	assert.Nil(t, got.Verification.SourcesChecked)

	b.Status = linkcheck.StatusVerified
	require.NoError(t, s.UpdateLink(ctx, b))
	counts, err := s.CountLinksByStatus(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, map[linkcheck.LinkStatus]int64{linkcheck.StatusPending: 2, linkcheck.StatusVerified: 1}, counts)

	list, _, err := s.ListLinks(ctx, linkcheck.LinkFilter{OwnerID: owner, Status: &b.Status})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Verification)
	assert.Equal(t, 90.0, *list[0].Verification.CredibilityScore)

	// Deleting a link takes its verification with it.
	require.NoError(t, s.DeleteLink(ctx, b.ID, owner))
	var n int
	require.NoError(t, s.DB().GetContext(ctx, &n, `SELECT COUNT(*) FROM verifications WHERE link_id = ?`, b.ID))
	assert.Zero(t, n)
}

func TestStore_Closed(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := s.FindLink(context.Background(), 1, 1)
	assert.ErrorIs(t, err, errClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), errClosed)
}
