package store

import (
	"context"
	"testing"
)

// newTestStore creates an in-memory store for testing.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// newTestUser resolves an external identity, failing the test on error.
func newTestUser(t *testing.T, s *Store, externalID string) *User {
	t.Helper()
	u, err := s.GetOrCreateUser(context.Background(), externalID, "text")
	if err != nil {
		t.Fatalf("GetOrCreateUser(%q) failed: %v", externalID, err)
	}
	return u
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	tables := []string{"users", "entities", "facts", "fact_embeddings",
		"recurring_events", "access_grants", "family_members", "tags",
		"fact_tags", "entity_mentions"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreateUser(ctx, "cli:alice", "text")
	if err != nil {
		t.Fatalf("first GetOrCreateUser failed: %v", err)
	}
	second, err := s.GetOrCreateUser(ctx, "cli:alice", "voice")
	if err != nil {
		t.Fatalf("second GetOrCreateUser failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same external id resolved to two users: %s vs %s", first.ID, second.ID)
	}
	// The original source wins; a later call never rewrites it.
	if second.Source != "text" {
		t.Errorf("source = %q, want %q", second.Source, "text")
	}
}

func TestResolveUserNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ResolveUser(context.Background(), "cli:nobody")
	if err != ErrUserNotFound {
		t.Errorf("ResolveUser error = %v, want ErrUserNotFound", err)
	}
}

func TestSetDisplayName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	if err := s.SetDisplayName(ctx, u.ID, "Alice"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}
	got, err := s.ResolveUser(ctx, "cli:alice")
	if err != nil {
		t.Fatalf("ResolveUser failed: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("display name = %q, want %q", got.DisplayName, "Alice")
	}

	if err := s.SetDisplayName(ctx, "no-such-user", "Bob"); err != ErrUserNotFound {
		t.Errorf("SetDisplayName on missing user = %v, want ErrUserNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	if _, err := s.AddFact(ctx, &Fact{Content: "Alice likes tea", OwnerID: u.ID}); err != nil {
		t.Fatalf("AddFact failed: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.FactCount != 1 {
		t.Errorf("fact count = %d, want 1", stats.FactCount)
	}
	if stats.UserCount != 1 {
		t.Errorf("user count = %d, want 1", stats.UserCount)
	}
}
