package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when an external identity resolves to nothing.
var ErrUserNotFound = errors.New("user not found")

// GetOrCreateUser resolves an external identity (CLI username, chat user id,
// voice profile) to an account, creating one on first contact.
func (s *Store) GetOrCreateUser(ctx context.Context, externalID, source string) (*User, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external id is required")
	}
	if source == "" {
		source = "text"
	}

	user, err := s.ResolveUser(ctx, externalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, external_id, source) VALUES (?, ?, ?)
		 ON CONFLICT(external_id) DO NOTHING`,
		id, externalID, source,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user for %q: %w", externalID, err)
	}

	// Re-read rather than trusting the insert: a concurrent writer may have
	// won the conflict.
	return s.ResolveUser(ctx, externalID)
}

// ResolveUser looks up the account for an external identity.
func (s *Store) ResolveUser(ctx context.Context, externalID string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, source, display_name, created_at
		 FROM users WHERE external_id = ?`,
		externalID,
	).Scan(&user.ID, &user.ExternalID, &user.Source, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", externalID, err)
	}
	return user, nil
}

// SetDisplayName records the user's name for reciprocal fact rendering.
func (s *Store) SetDisplayName(ctx context.Context, userID, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET display_name = ? WHERE id = ?", name, userID)
	if err != nil {
		return fmt.Errorf("setting display name: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}
