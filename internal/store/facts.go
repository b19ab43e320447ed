package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrNotPermitted is returned when a fact does not exist or the caller may
// not act on it. The two cases are deliberately indistinguishable.
var ErrNotPermitted = errors.New("fact not found or not permitted")

// NullDate is the sentinel callers pass in a partial update to clear a
// validity date rather than leave it untouched.
const NullDate = "null"

var validSources = map[string]struct{}{
	"voice": {}, "text": {}, "import": {}, "calendar": {}, "inferred": {},
}

// AddFact validates and persists a fact, returning its generated id.
func (s *Store) AddFact(ctx context.Context, f *Fact) (string, error) {
	if f.Content == "" {
		return "", fmt.Errorf("content is required")
	}
	if f.OwnerID == "" {
		return "", fmt.Errorf("owner id is required")
	}
	if f.OwnerType == "" {
		f.OwnerType = "user"
	}
	if f.OwnerType != "user" && f.OwnerType != "family" {
		return "", fmt.Errorf("owner type must be 'user' or 'family', got %q", f.OwnerType)
	}
	if f.Importance == 0 {
		f.Importance = 3
	}
	if f.Importance < 1 || f.Importance > 5 {
		return "", fmt.Errorf("importance must be 1-5, got %d", f.Importance)
	}
	if f.VisibilityTier == 0 {
		f.VisibilityTier = 3
	}
	if f.VisibilityTier < 1 || f.VisibilityTier > 4 {
		return "", fmt.Errorf("visibility tier must be 1-4, got %d", f.VisibilityTier)
	}
	if _, ok := validSources[f.Source]; !ok {
		f.Source = "text"
	}
	if f.CreatedBy == "" {
		f.CreatedBy = f.OwnerID
	}

	f.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (
			id, content, owner_type, owner_id, created_by, about_entity_id,
			importance, visibility_tier, source, valid_from, valid_to
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Content, f.OwnerType, f.OwnerID, f.CreatedBy,
		nullable(f.AboutEntityID), f.Importance, f.VisibilityTier, f.Source,
		nullable(f.ValidFrom), nullable(f.ValidTo),
	)
	if err != nil {
		return "", fmt.Errorf("storing fact: %w", err)
	}
	return f.ID, nil
}

// GetFact returns a single fact if the viewer is allowed to see it.
func (s *Store) GetFact(ctx context.Context, id, viewerID string) (*Fact, error) {
	clause, args := visibilityClause(viewerID, nil)
	query := `SELECT ` + factColumns + `
		FROM facts f
		LEFT JOIN entities e ON e.id = f.about_entity_id
		WHERE f.id = ? AND ` + clause
	row := s.db.QueryRowContext(ctx, query, append([]any{id}, args...)...)

	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotPermitted
	}
	if err != nil {
		return nil, fmt.Errorf("getting fact %s: %w", id, err)
	}
	return f, nil
}

// Search returns facts visible to the viewer, filtered and ordered by
// importance then recency.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]*Fact, error) {
	if q.ViewerID == "" {
		return nil, fmt.Errorf("viewer id is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	clause, args := visibilityClause(q.ViewerID, q.FamilyIDs)
	conditions := []string{clause}

	if q.Text != "" {
		// OR-match each term for recall; a single term degrades to one LIKE.
		var termClauses []string
		for _, term := range strings.Fields(q.Text) {
			termClauses = append(termClauses, "f.content LIKE ? COLLATE NOCASE")
			args = append(args, "%"+term+"%")
		}
		if len(termClauses) > 0 {
			conditions = append(conditions, "("+strings.Join(termClauses, " OR ")+")")
		}
	}

	if q.AboutEntityID != "" {
		conditions = append(conditions, "f.about_entity_id = ?")
		args = append(args, q.AboutEntityID)
	}

	if q.MinImportance > 0 {
		conditions = append(conditions, "f.importance >= ?")
		args = append(args, q.MinImportance)
	}

	if q.AsOf != "" {
		conditions = append(conditions, "(f.valid_from IS NULL OR f.valid_from <= ?)")
		args = append(args, q.AsOf)
		conditions = append(conditions, "(f.valid_to IS NULL OR f.valid_to > ?)")
		args = append(args, q.AsOf)
	}

	if len(q.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Tags)), ",")
		conditions = append(conditions, fmt.Sprintf(
			`f.id IN (
				SELECT ft.fact_id FROM fact_tags ft
				JOIN tags t ON t.id = ft.tag_id
				WHERE t.path IN (%s)
			)`, placeholders))
		for _, tag := range q.Tags {
			args = append(args, tag)
		}
	}

	query := `SELECT ` + factColumns + `
		FROM facts f
		LEFT JOIN entities e ON e.id = f.about_entity_id
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY f.importance DESC, f.recorded_at DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching facts: %w", err)
	}
	defer rows.Close()

	var facts []*Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning fact row: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// FactUpdate describes a partial update. Nil fields are untouched; date
// fields set to NullDate are cleared.
type FactUpdate struct {
	Content        *string
	Importance     *int
	VisibilityTier *int
	ValidFrom      *string
	ValidTo        *string
}

// UpdateFact applies a partial update. Only the owner may update, and a
// non-owner gets the same error as a missing fact.
func (s *Store) UpdateFact(ctx context.Context, factID, ownerID string, upd FactUpdate) (*Fact, error) {
	var sets []string
	var args []any

	if upd.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *upd.Content)
	}
	if upd.Importance != nil {
		if *upd.Importance < 1 || *upd.Importance > 5 {
			return nil, fmt.Errorf("importance must be 1-5, got %d", *upd.Importance)
		}
		sets = append(sets, "importance = ?")
		args = append(args, *upd.Importance)
	}
	if upd.VisibilityTier != nil {
		if *upd.VisibilityTier < 1 || *upd.VisibilityTier > 4 {
			return nil, fmt.Errorf("visibility tier must be 1-4, got %d", *upd.VisibilityTier)
		}
		sets = append(sets, "visibility_tier = ?")
		args = append(args, *upd.VisibilityTier)
	}
	if upd.ValidFrom != nil {
		if strings.EqualFold(*upd.ValidFrom, NullDate) {
			sets = append(sets, "valid_from = NULL")
		} else {
			sets = append(sets, "valid_from = ?")
			args = append(args, *upd.ValidFrom)
		}
	}
	if upd.ValidTo != nil {
		if strings.EqualFold(*upd.ValidTo, NullDate) {
			sets = append(sets, "valid_to = NULL")
		} else {
			sets = append(sets, "valid_to = ?")
			args = append(args, *upd.ValidTo)
		}
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no updates provided")
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")

	args = append(args, factID, ownerID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE facts SET `+strings.Join(sets, ", ")+
			` WHERE id = ? AND owner_type = 'user' AND owner_id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("updating fact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrNotPermitted
	}

	return s.GetFact(ctx, factID, ownerID)
}

// UpdateVisibility changes who can see a fact. Owner only.
func (s *Store) UpdateVisibility(ctx context.Context, factID, ownerID string, tier int) error {
	if tier < 1 || tier > 4 {
		return fmt.Errorf("visibility tier must be 1-4, got %d", tier)
	}
	_, err := s.UpdateFact(ctx, factID, ownerID, FactUpdate{VisibilityTier: &tier})
	return err
}

// DeleteFact removes a fact together with its tag links, entity mentions,
// and embedding, in one transaction. Owner only. The children are deleted
// explicitly rather than left to ON DELETE CASCADE so the cleanup does not
// depend on which pooled connection has foreign keys enabled.
func (s *Store) DeleteFact(ctx context.Context, factID, ownerID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting fact: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM facts WHERE id = ? AND owner_type = 'user' AND owner_id = ?`,
		factID, ownerID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotPermitted
	}
	if err != nil {
		return fmt.Errorf("deleting fact: %w", err)
	}

	for _, q := range []string{
		`DELETE FROM fact_tags WHERE fact_id = ?`,
		`DELETE FROM entity_mentions WHERE fact_id = ?`,
		`DELETE FROM fact_embeddings WHERE fact_id = ?`,
		`DELETE FROM facts WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, factID); err != nil {
			return fmt.Errorf("deleting fact: %w", err)
		}
	}
	return tx.Commit()
}

// ApplyTags ensures each tag path exists and links it to the fact.
// Duplicate links are ignored.
func (s *Store) ApplyTags(ctx context.Context, factID string, tags []string) error {
	for _, path := range tags {
		if path == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO tags (id, path) VALUES (?, ?) ON CONFLICT(path) DO NOTHING`,
			uuid.NewString(), path,
		); err != nil {
			return fmt.Errorf("ensuring tag %q: %w", path, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO fact_tags (fact_id, tag_id)
			 SELECT ?, id FROM tags WHERE path = ?
			 ON CONFLICT DO NOTHING`,
			factID, path,
		); err != nil {
			return fmt.Errorf("tagging fact with %q: %w", path, err)
		}
	}
	return nil
}

// TagsForFact returns the tag paths attached to a fact, sorted.
func (s *Store) TagsForFact(ctx context.Context, factID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.path FROM fact_tags ft
		 JOIN tags t ON t.id = ft.tag_id
		 WHERE ft.fact_id = ?
		 ORDER BY t.path`,
		factID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// factColumns is the shared projection for fact reads.
const factColumns = `f.id, f.content, f.owner_type, f.owner_id, f.created_by,
	COALESCE(f.about_entity_id, ''), f.importance, f.visibility_tier, f.source,
	COALESCE(f.valid_from, ''), COALESCE(f.valid_to, ''),
	f.recorded_at, f.updated_at, COALESCE(e.name, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*Fact, error) {
	f := &Fact{}
	err := row.Scan(
		&f.ID, &f.Content, &f.OwnerType, &f.OwnerID, &f.CreatedBy,
		&f.AboutEntityID, &f.Importance, &f.VisibilityTier, &f.Source,
		&f.ValidFrom, &f.ValidTo, &f.RecordedAt, &f.UpdatedAt, &f.EntityName,
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// visibilityClause builds the three-way permission union shared by every
// fact read path: own facts, granted facts, and family-owned facts.
func visibilityClause(viewerID string, familyIDs []string) (string, []any) {
	clauses := []string{
		"(f.owner_type = 'user' AND f.owner_id = ?)",
		`(f.owner_type = 'user' AND EXISTS (
			SELECT 1 FROM access_grants g
			WHERE g.viewer_id = ? AND g.owner_id = f.owner_id
			  AND g.access_tier <= f.visibility_tier
		))`,
	}
	args := []any{viewerID, viewerID}

	if len(familyIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(familyIDs)), ",")
		clauses = append(clauses, fmt.Sprintf("(f.owner_type = 'family' AND f.owner_id IN (%s))", placeholders))
		for _, id := range familyIDs {
			args = append(args, id)
		}
	} else {
		// No explicit scope: fall back to recorded memberships.
		clauses = append(clauses, `(f.owner_type = 'family' AND f.owner_id IN (
			SELECT family_id FROM family_members WHERE user_id = ?
		))`)
		args = append(args, viewerID)
	}

	return "(" + strings.Join(clauses, " OR ") + ")", args
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
