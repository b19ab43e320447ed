package store

import (
	"context"
	"testing"
)

func TestUpsertGrantValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertGrant(ctx, "viewer", "owner", 0); err == nil {
		t.Error("tier 0 should be rejected")
	}
	if err := s.UpsertGrant(ctx, "viewer", "owner", 5); err == nil {
		t.Error("tier 5 should be rejected")
	}
	if err := s.UpsertGrant(ctx, "same", "same", 2); err == nil {
		t.Error("self-grant should be rejected")
	}
}

func TestUpsertGrantReplacesTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := newTestUser(t, s, "cli:alice")
	bob := newTestUser(t, s, "cli:bob")

	if err := s.UpsertGrant(ctx, bob.ID, alice.ID, 4); err != nil {
		t.Fatalf("UpsertGrant failed: %v", err)
	}
	if err := s.UpsertGrant(ctx, bob.ID, alice.ID, 2); err != nil {
		t.Fatalf("re-UpsertGrant failed: %v", err)
	}

	var tier, count int
	if err := s.db.QueryRow(
		"SELECT access_tier, (SELECT COUNT(*) FROM access_grants) FROM access_grants WHERE viewer_id = ? AND owner_id = ?",
		bob.ID, alice.ID,
	).Scan(&tier, &count); err != nil {
		t.Fatal(err)
	}
	if tier != 2 {
		t.Errorf("tier = %d, want 2", tier)
	}
	if count != 1 {
		t.Errorf("grant count = %d, want 1", count)
	}
}

func TestFamilyMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "cli:alice")

	if err := s.AddFamilyMember(ctx, "fam-2", u.ID, ""); err != nil {
		t.Fatalf("AddFamilyMember failed: %v", err)
	}
	if err := s.AddFamilyMember(ctx, "fam-1", u.ID, "admin"); err != nil {
		t.Fatalf("AddFamilyMember failed: %v", err)
	}
	// Re-adding is an upsert, not a duplicate.
	if err := s.AddFamilyMember(ctx, "fam-1", u.ID, "member"); err != nil {
		t.Fatalf("re-AddFamilyMember failed: %v", err)
	}

	families, err := s.FamiliesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("FamiliesForUser failed: %v", err)
	}
	if len(families) != 2 || families[0] != "fam-1" || families[1] != "fam-2" {
		t.Errorf("families = %v, want [fam-1 fam-2]", families)
	}

	if err := s.RemoveFamilyMember(ctx, "fam-2", u.ID); err != nil {
		t.Fatalf("RemoveFamilyMember failed: %v", err)
	}
	families, err = s.FamiliesForUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("FamiliesForUser failed: %v", err)
	}
	if len(families) != 1 || families[0] != "fam-1" {
		t.Errorf("families after removal = %v, want [fam-1]", families)
	}

	if err := s.AddFamilyMember(ctx, "", u.ID, ""); err == nil {
		t.Error("empty family id should be rejected")
	}
}
