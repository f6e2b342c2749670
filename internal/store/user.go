package store

import (
	"database/sql"

	"github.com/psychebridge/psychebridge/internal/model"
)

// UpsertUser stores a catalog user, replacing an existing entry.
func (s *Store) UpsertUser(u model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, name, role, avatar_ref)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   role = excluded.role,
		   avatar_ref = excluded.avatar_ref`,
		u.ID, u.Name, u.Role, u.AvatarRef,
	)
	return err
}

// GetUserByID returns a user by ID, or nil if absent.
func (s *Store) GetUserByID(id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(
		`SELECT id, name, role, avatar_ref FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.AvatarRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all catalog users ordered by ID.
func (s *Store) ListUsers() ([]model.User, error) {
	rows, err := s.db.Query(`SELECT id, name, role, avatar_ref FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.AvatarRef); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UserCount returns the total number of catalog users.
func (s *Store) UserCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}
