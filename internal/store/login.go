package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/psychebridge/psychebridge/internal/model"
)

const loginSessionTTL = 24 * time.Hour

// CreateLoginSession creates a new login token for a catalog user.
func (s *Store) CreateLoginSession(userID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO login_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now, now.Add(loginSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetLoginSession returns the login session for the given token, or nil if not
// found or expired. Expired tokens are deleted on read.
func (s *Store) GetLoginSession(token string) (*model.LoginSession, error) {
	var sess model.LoginSession
	err := s.db.QueryRow(
		`SELECT id, user_id, created_at, expires_at FROM login_sessions WHERE id = ?`, token,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteLoginSession(token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteLoginSession removes a login token.
func (s *Store) DeleteLoginSession(token string) error {
	_, err := s.db.Exec(`DELETE FROM login_sessions WHERE id = ?`, token)
	return err
}

// CleanupExpiredLoginSessions removes all expired login tokens.
func (s *Store) CleanupExpiredLoginSessions() error {
	_, err := s.db.Exec(`DELETE FROM login_sessions WHERE expires_at < ?`, time.Now())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
