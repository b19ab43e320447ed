package store

import (
	"context"
	"fmt"
)

// UpsertGrant lets viewer see owner's facts whose visibility tier is at
// least tier. Re-granting replaces the previous tier.
func (s *Store) UpsertGrant(ctx context.Context, viewerID, ownerID string, tier int) error {
	if tier < 1 || tier > 4 {
		return fmt.Errorf("access tier must be 1-4, got %d", tier)
	}
	if viewerID == ownerID {
		return fmt.Errorf("cannot grant access to oneself")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_grants (viewer_id, owner_id, access_tier)
		 VALUES (?, ?, ?)
		 ON CONFLICT(viewer_id, owner_id) DO UPDATE SET access_tier = excluded.access_tier`,
		viewerID, ownerID, tier,
	)
	if err != nil {
		return fmt.Errorf("storing access grant: %w", err)
	}
	return nil
}

// RevokeGrant removes viewer's access to owner's facts.
func (s *Store) RevokeGrant(ctx context.Context, viewerID, ownerID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM access_grants WHERE viewer_id = ? AND owner_id = ?`,
		viewerID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("revoking access grant: %w", err)
	}
	return nil
}

// AddFamilyMember records that a user belongs to a family.
func (s *Store) AddFamilyMember(ctx context.Context, familyID, userID, role string) error {
	if familyID == "" || userID == "" {
		return fmt.Errorf("family id and user id are required")
	}
	if role == "" {
		role = "member"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_members (family_id, user_id, role)
		 VALUES (?, ?, ?)
		 ON CONFLICT(family_id, user_id) DO UPDATE SET role = excluded.role`,
		familyID, userID, role,
	)
	if err != nil {
		return fmt.Errorf("adding family member: %w", err)
	}
	return nil
}

// RemoveFamilyMember removes a user from a family.
func (s *Store) RemoveFamilyMember(ctx context.Context, familyID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM family_members WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing family member: %w", err)
	}
	return nil
}

// FamiliesForUser lists the family ids a user belongs to.
func (s *Store) FamiliesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT family_id FROM family_members WHERE user_id = ? ORDER BY family_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing families: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
