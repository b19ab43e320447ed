// Package search provides permission-aware retrieval over the fact store.
//
// Two retrieval modes:
//   - Keyword search: OR-matched terms against fact content, ordered by
//     importance then recency.
//   - Semantic search: the query is embedded by the external embedding
//     oracle and stored facts are ranked by cosine similarity.
//
// Both modes apply the store's permission policy; semantic search
// additionally surfaces facts of close family (tier 2 and above).
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/keeperhq/keeper/internal/embed"
	"github.com/keeperhq/keeper/internal/store"
)

// Defaults for semantic retrieval, caller-tunable per query.
const (
	DefaultLimit         = 10
	DefaultMinSimilarity = 0.7
)

// SemanticQuery describes one semantic retrieval request.
type SemanticQuery struct {
	ViewerID      string
	Text          string
	Limit         int     // default DefaultLimit
	MinSimilarity float64 // default DefaultMinSimilarity; pass negative for none
}

// Engine ties the embedding oracle to the permission-aware store.
type Engine struct {
	store    *store.Store
	embedder embed.Embedder
}

// NewEngine creates a retrieval engine over the given store and embedder.
func NewEngine(st *store.Store, embedder embed.Embedder) *Engine {
	return &Engine{store: st, embedder: embedder}
}

// Semantic embeds the query text and returns visible facts ranked by
// cosine similarity. Embedding failures propagate; the caller decides
// whether to retry or fall back to keyword search.
func (e *Engine) Semantic(ctx context.Context, q SemanticQuery) ([]*store.SimilarItem, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, fmt.Errorf("query text is required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	minSim := q.MinSimilarity
	if minSim == 0 {
		minSim = DefaultMinSimilarity
	}

	vector, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.store.SearchSimilar(ctx, q.ViewerID, vector, limit, minSim)
}

// Keyword runs a filtered keyword search through the store's permission
// policy.
func (e *Engine) Keyword(ctx context.Context, q store.SearchQuery) ([]*store.Fact, error) {
	return e.store.Search(ctx, q)
}

// ResolveViewer maps an external identity to an account id. Unknown
// identities resolve to ok=false: retrieval for an unknown viewer returns
// empty results rather than creating an account.
func (e *Engine) ResolveViewer(ctx context.Context, externalID string) (string, bool, error) {
	u, err := e.store.ResolveUser(ctx, externalID)
	if errors.Is(err, store.ErrUserNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return u.ID, true, nil
}
