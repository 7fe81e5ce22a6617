package server

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const adminSessionTTL = 7 * 24 * time.Hour

type AdminStore interface {
	AdminByUsername(ctx context.Context, username string) (adminID int64, passwordHash string, err error)
	CreateAdminSession(ctx context.Context, adminID int64) (token string, err error)
	DeleteAdminSession(ctx context.Context, token string) error
	AdminFromSession(ctx context.Context, token string) (adminSession, error)
	EnsureAdmin(ctx context.Context, username, password string) error
}

func (s *SQLiteStore) AdminByUsername(ctx context.Context, username string) (int64, string, error) {
	var id int64
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, password_hash FROM admins WHERE username = ?
	`, username).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	return id, hash, err
}

func (s *SQLiteStore) CreateAdminSession(ctx context.Context, adminID int64) (string, error) {
	token := uuid.NewString()
	expires := time.Now().UTC().Add(adminSessionTTL).Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_sessions (token, admin_id, expires_at) VALUES (?, ?, ?)
	`, token, adminID, expires)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *SQLiteStore) DeleteAdminSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token = ?`, token)
	return err
}

func (s *SQLiteStore) AdminFromSession(ctx context.Context, token string) (adminSession, error) {
	var sess adminSession
	var expires string
	err := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.username, s.expires_at
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.token = ?
	`, token).Scan(&sess.AdminID, &sess.Username, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return adminSession{}, errNoAdminSession
	}
	if err != nil {
		return adminSession{}, err
	}
	exp, err := time.Parse(time.RFC3339, expires)
	if err != nil || time.Now().UTC().After(exp) {
		s.DeleteAdminSession(ctx, token)
		return adminSession{}, errNoAdminSession
	}
	return sess, nil
}

// EnsureAdmin creates the admin account if it does not exist. Used at boot
// so a fresh deployment has a login.
func (s *SQLiteStore) EnsureAdmin(ctx context.Context, username, password string) error {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE username = ?`, username).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash) VALUES (?, ?)
	`, username, string(hash))
	return err
}
