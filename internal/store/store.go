// Package store provides the SQLite storage layer for Keeper.
//
// Everything lives in a single SQLite database file:
// - Facts with ownership, visibility tiers, and validity windows
// - Entities deduplicated by normalized name, with relationship metadata
// - Embedding vectors for similarity search
// - Recurring annual events, access grants, and family memberships
//
// Every read path that returns facts goes through the same permission
// policy: a viewer sees their own facts, facts shared with them through an
// access grant of sufficient tier, and facts owned by a family they belong
// to. There is no privileged read path.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.keeper/keeper.db"

// Fact is a stored atomic statement.
type Fact struct {
	ID             string
	Content        string
	OwnerType      string // "user" or "family"
	OwnerID        string
	CreatedBy      string
	AboutEntityID  string // empty when the fact is not about a tracked entity
	Importance     int    // 1-5
	VisibilityTier int    // 1 (most private) - 4 (most open)
	Source         string // voice|text|import|calendar|inferred
	ValidFrom      string // YYYY-MM-DD, empty when unbounded
	ValidTo        string // YYYY-MM-DD, empty means ongoing
	RecordedAt     time.Time
	UpdatedAt      time.Time

	EntityName string // joined display name of the about-entity, read paths only
}

// Entity is a deduplicated named subject.
type Entity struct {
	ID             string
	Type           string // person|organization|place|project|event
	Name           string
	NormalizedName string
	OwnerType      string
	OwnerID        string
	Metadata       map[string]string // notably "relationship_to_user"
	CreatedAt      time.Time
	UpdatedAt      time.Time

	FactCount int // populated by SearchEntities
}

// RecurringEvent is an annual calendar event derived from a milestone.
type RecurringEvent struct {
	ID             string
	OwnerID        string
	Title          string
	Description    string
	StartTime      time.Time
	EndTime        time.Time
	AllDay         bool
	RecurrenceRule string
	VisibilityTier int
	SourceFactID   string
	EntityID       string
	CreatedAt      time.Time
}

// Grant lets viewer see owner's facts whose visibility tier is at least
// the grant tier.
type Grant struct {
	ViewerID   string
	OwnerID    string
	AccessTier int
	CreatedAt  time.Time
}

// User is an account resolved from an external identity.
type User struct {
	ID          string
	ExternalID  string
	Source      string
	DisplayName string
	CreatedAt   time.Time
}

// SearchQuery is the filter surface for permission-aware fact retrieval.
type SearchQuery struct {
	ViewerID      string
	Text          string   // free text; terms are OR-matched
	FamilyIDs     []string // family scope for family-owned facts
	AboutEntityID string
	Tags          []string
	MinImportance int
	AsOf          string // YYYY-MM-DD point-in-time validity filter
	Limit         int    // default 20
}

// SimilarItem pairs a visible fact with its cosine similarity to the query.
type SimilarItem struct {
	Fact       Fact
	Similarity float64
}

// EntityQuery filters entity search.
type EntityQuery struct {
	ViewerID     string
	Name         string // substring match on name or normalized name
	Type         string
	Relationship string // substring match on metadata relationship_to_user
	Limit        int    // default 20
}

// Stats summarizes the store for observability.
type Stats struct {
	FactCount      int64
	EntityCount    int64
	EmbeddingCount int64
	EventCount     int64
	UserCount      int64
	DBSizeBytes    int64
}

// Config holds options for Open.
type Config struct {
	DBPath string
}

// Store is the SQLite-backed storage engine.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates or opens the database at cfg.DBPath and runs migrations.
// Pass ":memory:" for in-memory databases (testing).
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	// The pragmas ride on the DSN so every pooled connection gets them;
	// a plain PRAGMA exec would only reach the connection that ran it.
	dsn := cfg.DBPath
	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
		dsn = "file:" + cfg.DBPath +
			"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if cfg.DBPath == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
		for _, p := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
			if _, err := db.Exec(p); err != nil {
				db.Close()
				return nil, fmt.Errorf("setting pragma %q: %w", p, err)
			}
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db, dbPath: cfg.DBPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Stats reports row counts and database size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM facts", &stats.FactCount},
		{"SELECT COUNT(*) FROM entities", &stats.EntityCount},
		{"SELECT COUNT(*) FROM fact_embeddings", &stats.EmbeddingCount},
		{"SELECT COUNT(*) FROM recurring_events", &stats.EventCount},
		{"SELECT COUNT(*) FROM users", &stats.UserCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}
	return stats, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
