package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/burugo/linkcheck"
)

const linkColumns = `id, user_id, url, title, content, source_domain, author, published_at,
	status, error_message, created_at, updated_at`

// Newest first; id breaks created_at ties so pages never overlap.
const linkOrder = `ORDER BY created_at DESC, id ASC`

// verificationRow is the scan target of the verifications table. The JSON
// columns are decoded into the domain type by toVerification.
type verificationRow struct {
	ID               int64              `db:"id"`
	LinkID           int64              `db:"link_id"`
	CredibilityScore sql.NullFloat64    `db:"credibility_score"`
	Claims           types.NullJSONText `db:"claims"`
	SourcesChecked   types.NullJSONText `db:"sources_checked"`
	Summary          sql.NullString     `db:"summary"`
	VerifiedAt       time.Time          `db:"verified_at"`
}

func (r verificationRow) toVerification() (*linkcheck.Verification, error) {
	v := &linkcheck.Verification{
		ID:         r.ID,
		LinkID:     r.LinkID,
		VerifiedAt: r.VerifiedAt.UTC(),
	}
	if r.CredibilityScore.Valid {
		score := r.CredibilityScore.Float64
		v.CredibilityScore = &score
	}
	if r.Summary.Valid {
		summary := r.Summary.String
		v.Summary = &summary
	}
	if r.Claims.Valid {
		if err := r.Claims.Unmarshal(&v.Claims); err != nil {
			return nil, fmt.Errorf("decode claims of verification %d: %w", r.ID, err)
		}
	}
	if r.SourcesChecked.Valid {
		if err := r.SourcesChecked.Unmarshal(&v.SourcesChecked); err != nil {
			return nil, fmt.Errorf("decode sources of verification %d: %w", r.ID, err)
		}
	}
	return v, nil
}

// FindLink loads one owner-scoped link with its verification.
func (s *Store) FindLink(ctx context.Context, id, ownerID int64) (link *linkcheck.Link, err error) {
	defer s.logQuery("find_link", time.Now(), &err)
	if s.isClosed() {
		return nil, errClosed
	}

	var l linkcheck.Link
	err = s.db.GetContext(ctx, &l,
		`SELECT `+linkColumns+` FROM links WHERE id = ? AND user_id = ?`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, linkcheck.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite find link: %w", err)
	}
	links := []linkcheck.Link{l}
	if err = s.attachVerifications(ctx, links); err != nil {
		return nil, err
	}
	return &links[0], nil
}

// ListLinks returns one page and the total row count for the filter.
// A non-positive Limit returns every row from Offset on.
func (s *Store) ListLinks(ctx context.Context, f linkcheck.LinkFilter) (links []linkcheck.Link, total int64, err error) {
	defer s.logQuery("list_links", time.Now(), &err)
	if s.isClosed() {
		return nil, 0, errClosed
	}

	where := `WHERE user_id = ?`
	args := []interface{}{f.OwnerID}
	if f.Status != nil {
		where += ` AND status = ?`
		args = append(args, string(*f.Status))
	}

	if err = s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM links `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("sqlite count links: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `SELECT ` + linkColumns + ` FROM links ` + where + ` ` + linkOrder + ` LIMIT ? OFFSET ?`
	links = []linkcheck.Link{}
	if err = s.db.SelectContext(ctx, &links, query, append(args, limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("sqlite list links: %w", err)
	}
	if err = s.attachVerifications(ctx, links); err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

// attachVerifications loads the verifications of links with one IN query.
func (s *Store) attachVerifications(ctx context.Context, links []linkcheck.Link) error {
	if len(links) == 0 {
		return nil
	}
	ids := make([]int64, len(links))
	for i := range links {
		ids[i] = links[i].ID
	}
	query, args, err := sqlx.In(`SELECT id, link_id, credibility_score, claims, sources_checked, summary, verified_at
		FROM verifications WHERE link_id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("sqlite build verification query: %w", err)
	}
	var rows []verificationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("sqlite load verifications: %w", err)
	}

	byLink := make(map[int64]*linkcheck.Verification, len(rows))
	for _, r := range rows {
		v, err := r.toVerification()
		if err != nil {
			return err
		}
		byLink[r.LinkID] = v
	}
	for i := range links {
		links[i].Verification = byLink[links[i].ID]
	}
	return nil
}

// CountLinksByStatus groups the owner's links by status. Statuses with no
// links are absent from the map.
func (s *Store) CountLinksByStatus(ctx context.Context, ownerID int64) (counts map[linkcheck.LinkStatus]int64, err error) {
	defer s.logQuery("count_by_status", time.Now(), &err)
	if s.isClosed() {
		return nil, errClosed
	}

	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"n"`
	}
	err = s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS n FROM links WHERE user_id = ? GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite count links by status: %w", err)
	}
	counts = make(map[linkcheck.LinkStatus]int64, len(rows))
	for _, r := range rows {
		counts[linkcheck.LinkStatus(r.Status)] = r.Count
	}
	return counts, nil
}

// AverageCredibility averages the non-null scores of the owner's
// verifications. It returns nil when there is none.
func (s *Store) AverageCredibility(ctx context.Context, ownerID int64) (avg *float64, err error) {
	defer s.logQuery("average_credibility", time.Now(), &err)
	if s.isClosed() {
		return nil, errClosed
	}

	var v sql.NullFloat64
	err = s.db.GetContext(ctx, &v, `SELECT AVG(v.credibility_score)
		FROM verifications v JOIN links l ON v.link_id = l.id
		WHERE l.user_id = ? AND v.credibility_score IS NOT NULL`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite average credibility: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	return &v.Float64, nil
}

func (s *Store) LinkURLExists(ctx context.Context, ownerID int64, url string) (exists bool, err error) {
	defer s.logQuery("link_url_exists", time.Now(), &err)
	if s.isClosed() {
		return false, errClosed
	}
	err = s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM links WHERE user_id = ? AND url = ?)`, ownerID, url)
	if err != nil {
		return false, fmt.Errorf("sqlite link url exists: %w", err)
	}
	return exists, nil
}

// InsertLink stores link and sets its ID.
func (s *Store) InsertLink(ctx context.Context, link *linkcheck.Link) (err error) {
	defer s.logQuery("insert_link", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO links
		(user_id, url, title, content, source_domain, author, published_at, status, error_message, created_at, updated_at)
		VALUES (:user_id, :url, :title, :content, :source_domain, :author, :published_at, :status, :error_message, :created_at, :updated_at)`,
		link)
	if err != nil {
		return fmt.Errorf("sqlite insert link: %w", err)
	}
	if link.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("sqlite insert link id: %w", err)
	}
	return nil
}

// UpdateLink overwrites the mutable columns of an owner-scoped link.
func (s *Store) UpdateLink(ctx context.Context, link *linkcheck.Link) (err error) {
	defer s.logQuery("update_link", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	res, err := s.db.NamedExecContext(ctx, `UPDATE links SET
		title = :title, content = :content, source_domain = :source_domain, author = :author,
		published_at = :published_at, status = :status, error_message = :error_message, updated_at = :updated_at
		WHERE id = :id AND user_id = :user_id`, link)
	if err != nil {
		return fmt.Errorf("sqlite update link: %w", err)
	}
	return expectRow(res)
}

// DeleteLink removes an owner-scoped link and its verification in one
// transaction, independent of the foreign_keys pragma.
func (s *Store) DeleteLink(ctx context.Context, id, ownerID int64) (err error) {
	defer s.logQuery("delete_link", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite delete link: begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM links WHERE id = ? AND user_id = ?)`, id, ownerID); err != nil {
		return fmt.Errorf("sqlite delete link: %w", err)
	}
	if !exists {
		return linkcheck.ErrNotFound
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM verifications WHERE link_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite delete verification: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM links WHERE id = ? AND user_id = ?`, id, ownerID); err != nil {
		return fmt.Errorf("sqlite delete link: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite delete link: commit: %w", err)
	}
	return nil
}

// UpsertVerification inserts or replaces the verification of v.LinkID and
// sets v.ID.
func (s *Store) UpsertVerification(ctx context.Context, v *linkcheck.Verification) (err error) {
	defer s.logQuery("upsert_verification", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	claims, err := jsonColumn(v.Claims)
	if err != nil {
		return fmt.Errorf("sqlite encode claims: %w", err)
	}
	sources, err := jsonColumn(v.SourcesChecked)
	if err != nil {
		return fmt.Errorf("sqlite encode sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO verifications
		(link_id, credibility_score, claims, sources_checked, summary, verified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO UPDATE SET
			credibility_score = excluded.credibility_score,
			claims = excluded.claims,
			sources_checked = excluded.sources_checked,
			summary = excluded.summary,
			verified_at = excluded.verified_at`,
		v.LinkID, v.CredibilityScore, claims, sources, v.Summary, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("sqlite upsert verification: %w", err)
	}
	// LastInsertId is not reliable for the update branch of an upsert.
	if err = s.db.GetContext(ctx, &v.ID, `SELECT id FROM verifications WHERE link_id = ?`, v.LinkID); err != nil {
		return fmt.Errorf("sqlite verification id: %w", err)
	}
	return nil
}

func jsonColumn(v interface{}) (types.NullJSONText, error) {
	switch x := v.(type) {
	case []linkcheck.ClaimCheck:
		if x == nil {
			return types.NullJSONText{}, nil
		}
	case []string:
		if x == nil {
			return types.NullJSONText{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return types.NullJSONText{}, err
	}
	return types.NullJSONText{JSONText: types.JSONText(b), Valid: true}, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite rows affected: %w", err)
	}
	if n == 0 {
		return linkcheck.ErrNotFound
	}
	return nil
}
