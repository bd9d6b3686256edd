package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/burugo/linkcheck"
)

const userColumns = `id, email, name, created_at, last_login_at`

func (s *Store) FindUserByEmail(ctx context.Context, email string) (user *linkcheck.User, err error) {
	defer s.logQuery("find_user_by_email", time.Now(), &err)
	return s.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (s *Store) FindUserByID(ctx context.Context, id int64) (user *linkcheck.User, err error) {
	defer s.logQuery("find_user_by_id", time.Now(), &err)
	return s.findUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Store) findUser(ctx context.Context, query string, arg interface{}) (*linkcheck.User, error) {
	if s.isClosed() {
		return nil, errClosed
	}
	var u linkcheck.User
	err := s.db.GetContext(ctx, &u, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, linkcheck.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite find user: %w", err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if u.LastLoginAt != nil {
		t := u.LastLoginAt.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

// InsertUser stores user and sets its ID. A duplicate email yields
// linkcheck.ErrEmailTaken.
func (s *Store) InsertUser(ctx context.Context, user *linkcheck.User) (err error) {
	defer s.logQuery("insert_user", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO users (email, name, created_at, last_login_at)
		VALUES (:email, :name, :created_at, :last_login_at)`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return linkcheck.ErrEmailTaken
		}
		return fmt.Errorf("sqlite insert user: %w", err)
	}
	if user.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("sqlite insert user id: %w", err)
	}
	return nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) (err error) {
	defer s.logQuery("touch_last_login", time.Now(), &err)
	if s.isClosed() {
		return errClosed
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("sqlite touch last login: %w", err)
	}
	return expectRow(res)
}
