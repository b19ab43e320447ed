package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// AddEmbedding stores the vector for a fact, replacing any existing one.
func (s *Store) AddEmbedding(ctx context.Context, factID string, vector []float32, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("empty vector for fact %s", factID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fact_embeddings (fact_id, vector, dimensions, model)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fact_id) DO UPDATE SET
			vector = excluded.vector,
			dimensions = excluded.dimensions,
			model = excluded.model`,
		factID, float32ToBytes(vector), len(vector), model,
	)
	if err != nil {
		return fmt.Errorf("storing embedding for fact %s: %w", factID, err)
	}
	return nil
}

// GetEmbedding retrieves the stored vector for a fact.
func (s *Store) GetEmbedding(ctx context.Context, factID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT vector FROM fact_embeddings WHERE fact_id = ?", factID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no embedding for fact %s", factID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting embedding for fact %s: %w", factID, err)
	}
	return bytesToFloat32(blob), nil
}

// SearchSimilar ranks the viewer's visible facts by cosine similarity to
// the query vector. On top of the usual permission union, facts owned by
// other members of a shared family with tier 2 or above are included.
// Expired facts (valid_to in the past) and results below minSimilarity are
// dropped.
func (s *Store) SearchSimilar(ctx context.Context, viewerID string, query []float32, limit int, minSimilarity float64) ([]*SimilarItem, error) {
	if viewerID == "" {
		return nil, fmt.Errorf("viewer id is required")
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	clause, args := visibilityClause(viewerID, nil)
	// Close-family allowance: facts of users sharing a family with the
	// viewer, when not marked private-or-below tier 2.
	clause = `(` + clause + ` OR (
		f.owner_type = 'user' AND f.visibility_tier >= 2 AND EXISTS (
			SELECT 1 FROM family_members mine
			JOIN family_members theirs ON theirs.family_id = mine.family_id
			WHERE mine.user_id = ? AND theirs.user_id = f.owner_id
		)
	))`
	args = append(args, viewerID)

	today := time.Now().Format("2006-01-02")
	sqlQuery := `SELECT fe.vector, ` + factColumns + `
		FROM fact_embeddings fe
		JOIN facts f ON f.id = fe.fact_id
		LEFT JOIN entities e ON e.id = f.about_entity_id
		WHERE ` + clause + `
		AND (f.valid_to IS NULL OR f.valid_to > ?)`
	args = append(args, today)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying embeddings: %w", err)
	}
	defer rows.Close()

	var items []*SimilarItem
	for rows.Next() {
		var blob []byte
		f := &Fact{}
		if err := rows.Scan(&blob,
			&f.ID, &f.Content, &f.OwnerType, &f.OwnerID, &f.CreatedBy,
			&f.AboutEntityID, &f.Importance, &f.VisibilityTier, &f.Source,
			&f.ValidFrom, &f.ValidTo, &f.RecordedAt, &f.UpdatedAt, &f.EntityName,
		); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}

		sim := cosineSimilarity(query, bytesToFloat32(blob))
		if sim >= minSimilarity {
			items = append(items, &SimilarItem{Fact: *f, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Similarity > items[j].Similarity
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32ToBytes converts a float32 slice to little-endian bytes.
func float32ToBytes(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// bytesToFloat32 converts little-endian bytes back to a float32 slice.
func bytesToFloat32(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
