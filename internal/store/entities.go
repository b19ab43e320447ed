package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ResolveEntity finds or creates the entity with the given name for an
// owner. Resolution is idempotent: the (owner, normalized name) pair is
// unique, and a second mention merges the relationship into the existing
// metadata instead of creating a duplicate. Existing metadata keys are
// never dropped.
func (s *Store) ResolveEntity(ctx context.Context, ownerID, name, entityType, relationship string) (*Entity, error) {
	if name == "" {
		return nil, fmt.Errorf("entity name is required")
	}
	if entityType == "" {
		entityType = "person"
	}
	normalized := strings.ToLower(strings.TrimSpace(name))

	existing, err := s.entityByNormalizedName(ctx, ownerID, normalized)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if existing != nil {
		if relationship != "" && existing.Metadata["relationship_to_user"] != relationship {
			existing.Metadata["relationship_to_user"] = relationship
			blob, err := json.Marshal(existing.Metadata)
			if err != nil {
				return nil, fmt.Errorf("encoding entity metadata: %w", err)
			}
			if _, err := s.db.ExecContext(ctx,
				`UPDATE entities SET metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
				string(blob), existing.ID,
			); err != nil {
				return nil, fmt.Errorf("updating entity metadata: %w", err)
			}
		}
		return existing, nil
	}

	metadata := map[string]string{}
	if relationship != "" {
		metadata["relationship_to_user"] = relationship
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding entity metadata: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, entity_type, name, normalized_name, owner_type, owner_id, created_by, metadata)
		 VALUES (?, ?, ?, ?, 'user', ?, ?, ?)
		 ON CONFLICT(owner_type, owner_id, normalized_name) DO NOTHING`,
		id, entityType, name, normalized, ownerID, ownerID, string(blob),
	)
	if err != nil {
		return nil, fmt.Errorf("creating entity %q: %w", name, err)
	}

	// A concurrent resolver may have won the conflict; read back either way.
	entity, err := s.entityByNormalizedName(ctx, ownerID, normalized)
	if err != nil {
		return nil, fmt.Errorf("re-reading entity %q: %w", name, err)
	}
	return entity, nil
}

func (s *Store) entityByNormalizedName(ctx context.Context, ownerID, normalized string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, entity_type, name, normalized_name, owner_type, owner_id, metadata, created_at, updated_at
		 FROM entities
		 WHERE normalized_name = ? AND owner_type = 'user' AND owner_id = ?`,
		normalized, ownerID,
	)
	return scanEntity(row)
}

func scanEntity(row rowScanner) (*Entity, error) {
	e := &Entity{}
	var metadata string
	err := row.Scan(&e.ID, &e.Type, &e.Name, &e.NormalizedName,
		&e.OwnerType, &e.OwnerID, &metadata, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}
	e.Metadata = map[string]string{}
	if metadata != "" {
		// Unparseable metadata degrades to empty, never fails the read.
		_ = json.Unmarshal([]byte(metadata), &e.Metadata)
	}
	return e, nil
}

// SearchEntities finds entities the viewer can see, ordered by how many
// facts reference them, then by name. Name and relationship filters are
// case-insensitive substring matches.
func (s *Store) SearchEntities(ctx context.Context, q EntityQuery) ([]*Entity, error) {
	if q.ViewerID == "" {
		return nil, fmt.Errorf("viewer id is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	conditions := []string{
		`((e.owner_type = 'user' AND e.owner_id = ?) OR e.owner_type = 'family')`,
	}
	args := []any{q.ViewerID}

	if q.Name != "" {
		conditions = append(conditions, `(e.name LIKE ? COLLATE NOCASE OR e.normalized_name LIKE ? COLLATE NOCASE)`)
		pattern := "%" + q.Name + "%"
		args = append(args, pattern, pattern)
	}
	if q.Type != "" {
		conditions = append(conditions, "e.entity_type = ?")
		args = append(args, q.Type)
	}
	if q.Relationship != "" {
		conditions = append(conditions, `json_extract(e.metadata, '$.relationship_to_user') LIKE ? COLLATE NOCASE`)
		args = append(args, "%"+q.Relationship+"%")
	}

	query := `SELECT e.id, e.entity_type, e.name, e.normalized_name, e.owner_type, e.owner_id,
			e.metadata, e.created_at, e.updated_at, COUNT(f.id) AS fact_count
		FROM entities e
		LEFT JOIN facts f ON f.about_entity_id = e.id
		WHERE ` + strings.Join(conditions, " AND ") + `
		GROUP BY e.id
		ORDER BY fact_count DESC, e.name ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e := &Entity{}
		var metadata string
		if err := rows.Scan(&e.ID, &e.Type, &e.Name, &e.NormalizedName,
			&e.OwnerType, &e.OwnerID, &metadata, &e.CreatedAt, &e.UpdatedAt,
			&e.FactCount); err != nil {
			return nil, fmt.Errorf("scanning entity row: %w", err)
		}
		e.Metadata = map[string]string{}
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &e.Metadata)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// LinkMention records that a fact mentions an entity. Duplicate links are
// ignored.
func (s *Store) LinkMention(ctx context.Context, factID, entityID, role string) error {
	if role == "" {
		role = "subject"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_mentions (fact_id, entity_id, role, confidence)
		 VALUES (?, ?, ?, 1.0)
		 ON CONFLICT DO NOTHING`,
		factID, entityID, role,
	)
	if err != nil {
		return fmt.Errorf("linking entity %s to fact %s: %w", entityID, factID, err)
	}
	return nil
}

// FactsAboutEntity lists facts referencing an entity, most important first.
// The viewer's permission policy still applies.
func (s *Store) FactsAboutEntity(ctx context.Context, entityID, viewerID string, limit int) ([]*Fact, error) {
	return s.Search(ctx, SearchQuery{
		ViewerID:      viewerID,
		AboutEntityID: entityID,
		Limit:         limit,
	})
}
