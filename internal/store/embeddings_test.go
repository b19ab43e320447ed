package store

import (
	"context"
	"math"
	"testing"
)

func TestEmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	id, err := s.AddFact(ctx, &Fact{Content: "Alice likes tea", OwnerID: u.ID})
	if err != nil {
		t.Fatalf("AddFact failed: %v", err)
	}

	vec := []float32{0.1, -0.5, 0.25, 1.0}
	if err := s.AddEmbedding(ctx, id, vec, "test-model"); err != nil {
		t.Fatalf("AddEmbedding failed: %v", err)
	}
	got, err := s.GetEmbedding(ctx, id)
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("got %d dims, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("dim %d = %v, want %v", i, got[i], vec[i])
		}
	}

	// Re-embedding replaces the old vector.
	if err := s.AddEmbedding(ctx, id, []float32{1, 0, 0, 0}, "test-model-v2"); err != nil {
		t.Fatalf("re-AddEmbedding failed: %v", err)
	}
	got, err = s.GetEmbedding(ctx, id)
	if err != nil {
		t.Fatalf("GetEmbedding failed: %v", err)
	}
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("vector not replaced: %v", got)
	}

	if err := s.AddEmbedding(ctx, id, nil, "test-model"); err == nil {
		t.Error("empty vector should be rejected")
	}
}

func TestCosineSimilarity(t *testing.T) {
	cases := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1, 0, 0}, 0}, // dimension mismatch
		{[]float32{0, 0}, []float32{1, 0}, 0},    // zero vector
	}
	for _, tc := range cases {
		got := cosineSimilarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-6 {
			t.Errorf("cosineSimilarity(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

// addEmbeddedFact stores a fact with an embedding and returns its id.
func addEmbeddedFact(t *testing.T, s *Store, f *Fact, vec []float32) string {
	t.Helper()
	ctx := context.Background()
	id, err := s.AddFact(ctx, f)
	if err != nil {
		t.Fatalf("AddFact failed: %v", err)
	}
	if err := s.AddEmbedding(ctx, id, vec, "test-model"); err != nil {
		t.Fatalf("AddEmbedding failed: %v", err)
	}
	return id
}

func TestSearchSimilarRanksByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	near := addEmbeddedFact(t, s, &Fact{Content: "near", OwnerID: u.ID}, []float32{1, 0.1, 0})
	addEmbeddedFact(t, s, &Fact{Content: "far", OwnerID: u.ID}, []float32{0, 1, 0})
	addEmbeddedFact(t, s, &Fact{Content: "opposite", OwnerID: u.ID}, []float32{-1, 0, 0})

	items, err := s.SearchSimilar(ctx, u.ID, []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items above threshold, want 1", len(items))
	}
	if items[0].Fact.ID != near {
		t.Errorf("top item = %q, want the near fact", items[0].Fact.Content)
	}
	if items[0].Similarity < 0.9 {
		t.Errorf("similarity = %v, want close to 1", items[0].Similarity)
	}

	// With no threshold, everything comes back ranked.
	items, err = s.SearchSimilar(ctx, u.ID, []float32{1, 0, 0}, 10, -1)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].Similarity > items[i-1].Similarity {
			t.Error("items out of similarity order")
		}
	}

	// Limit truncates after ranking.
	items, err = s.SearchSimilar(ctx, u.ID, []float32{1, 0, 0}, 2, -1)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("limit 2 got %d items", len(items))
	}
}

func TestSearchSimilarPermissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s, "cli:alice")
	bob := newTestUser(t, s, "cli:bob")
	carol := newTestUser(t, s, "cli:carol")

	vec := []float32{1, 0, 0}
	addEmbeddedFact(t, s, &Fact{Content: "private", OwnerID: alice.ID, VisibilityTier: 1}, vec)
	addEmbeddedFact(t, s, &Fact{Content: "personal", OwnerID: alice.ID, VisibilityTier: 2}, vec)
	addEmbeddedFact(t, s, &Fact{Content: "shared", OwnerID: alice.ID, VisibilityTier: 3}, vec)

	// A stranger sees nothing.
	items, err := s.SearchSimilar(ctx, carol.ID, vec, 10, 0)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("stranger got %d items, want 0", len(items))
	}

	// Family membership opens tier 2 and up, never tier 1.
	if err := s.AddFamilyMember(ctx, "fam-1", alice.ID, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.AddFamilyMember(ctx, "fam-1", bob.ID, ""); err != nil {
		t.Fatal(err)
	}
	items, err = s.SearchSimilar(ctx, bob.ID, vec, 10, 0)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("family member got %d items, want 2", len(items))
	}
	for _, it := range items {
		if it.Fact.Content == "private" {
			t.Error("tier-1 fact leaked through family sharing")
		}
	}

	// A tier-1 grant opens everything.
	if err := s.UpsertGrant(ctx, carol.ID, alice.ID, 1); err != nil {
		t.Fatal(err)
	}
	items, err = s.SearchSimilar(ctx, carol.ID, vec, 10, 0)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("granted viewer got %d items, want 3", len(items))
	}

	// The owner always sees their own facts.
	items, err = s.SearchSimilar(ctx, alice.ID, vec, 10, 0)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("owner got %d items, want 3", len(items))
	}
}

func TestSearchSimilarSkipsExpiredFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	vec := []float32{1, 0, 0}
	addEmbeddedFact(t, s, &Fact{Content: "old job", OwnerID: u.ID, ValidTo: "2020-01-01"}, vec)
	current := addEmbeddedFact(t, s, &Fact{Content: "current job", OwnerID: u.ID}, vec)

	items, err := s.SearchSimilar(ctx, u.ID, vec, 10, 0)
	if err != nil {
		t.Fatalf("SearchSimilar failed: %v", err)
	}
	if len(items) != 1 || items[0].Fact.ID != current {
		t.Errorf("expired fact not filtered, got %d items", len(items))
	}
}

func TestSearchSimilarValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SearchSimilar(ctx, "", []float32{1}, 10, 0); err == nil {
		t.Error("missing viewer should error")
	}
	if _, err := s.SearchSimilar(ctx, "someone", nil, 10, 0); err == nil {
		t.Error("empty query vector should error")
	}
}
