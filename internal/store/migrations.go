package store

import "fmt"

// migrate creates all tables and indexes if they don't exist. Every
// statement is idempotent, so reopening an existing database is a no-op.
func (s *Store) migrate() error {
	statements := []string{
		// Accounts resolved from external identities (CLI, voice, chat bots).
		`CREATE TABLE IF NOT EXISTS users (
			id           TEXT PRIMARY KEY,
			external_id  TEXT NOT NULL UNIQUE,
			source       TEXT NOT NULL DEFAULT 'text',
			display_name TEXT NOT NULL DEFAULT '',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Entities deduplicated per owner by normalized name.
		`CREATE TABLE IF NOT EXISTS entities (
			id              TEXT PRIMARY KEY,
			entity_type     TEXT NOT NULL DEFAULT 'person',
			name            TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			owner_type      TEXT NOT NULL DEFAULT 'user' CHECK (owner_type IN ('user', 'family')),
			owner_id        TEXT NOT NULL,
			created_by      TEXT NOT NULL DEFAULT '',
			metadata        TEXT NOT NULL DEFAULT '{}',
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner_type, owner_id, normalized_name)
		)`,

		// Atomic facts. Owner is immutable; dates are YYYY-MM-DD text.
		`CREATE TABLE IF NOT EXISTS facts (
			id              TEXT PRIMARY KEY,
			content         TEXT NOT NULL,
			owner_type      TEXT NOT NULL DEFAULT 'user' CHECK (owner_type IN ('user', 'family')),
			owner_id        TEXT NOT NULL,
			created_by      TEXT NOT NULL DEFAULT '',
			about_entity_id TEXT REFERENCES entities(id),
			importance      INTEGER NOT NULL DEFAULT 3 CHECK (importance BETWEEN 1 AND 5),
			visibility_tier INTEGER NOT NULL DEFAULT 3 CHECK (visibility_tier BETWEEN 1 AND 4),
			source          TEXT NOT NULL DEFAULT 'text',
			valid_from      TEXT,
			valid_to        TEXT,
			recorded_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// One embedding per fact, little-endian float32 BLOB.
		`CREATE TABLE IF NOT EXISTS fact_embeddings (
			fact_id    TEXT PRIMARY KEY REFERENCES facts(id) ON DELETE CASCADE,
			vector     BLOB NOT NULL,
			dimensions INTEGER NOT NULL,
			model      TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Annual milestone events. The (owner_id, title) uniqueness backs
		// idempotent creation.
		`CREATE TABLE IF NOT EXISTS recurring_events (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			start_time      DATETIME NOT NULL,
			end_time        DATETIME NOT NULL,
			all_day         INTEGER NOT NULL DEFAULT 1,
			recurrence_rule TEXT NOT NULL,
			visibility_tier INTEGER NOT NULL DEFAULT 3 CHECK (visibility_tier BETWEEN 1 AND 4),
			source_fact_id  TEXT,
			entity_id       TEXT,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(owner_id, title)
		)`,

		// Cross-user access: viewer may see owner's facts with
		// visibility_tier >= access_tier.
		`CREATE TABLE IF NOT EXISTS access_grants (
			viewer_id   TEXT NOT NULL,
			owner_id    TEXT NOT NULL,
			access_tier INTEGER NOT NULL CHECK (access_tier BETWEEN 1 AND 4),
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(viewer_id, owner_id)
		)`,

		`CREATE TABLE IF NOT EXISTS family_members (
			family_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'member',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY(family_id, user_id)
		)`,

		// Hierarchical tag paths like "domain/family".
		`CREATE TABLE IF NOT EXISTS tags (
			id   TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE
		)`,

		`CREATE TABLE IF NOT EXISTS fact_tags (
			fact_id TEXT NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			tag_id  TEXT NOT NULL REFERENCES tags(id),
			PRIMARY KEY(fact_id, tag_id)
		)`,

		`CREATE TABLE IF NOT EXISTS entity_mentions (
			fact_id    TEXT NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
			entity_id  TEXT NOT NULL REFERENCES entities(id),
			role       TEXT NOT NULL DEFAULT 'subject',
			confidence REAL NOT NULL DEFAULT 1.0,
			PRIMARY KEY(fact_id, entity_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_facts_owner ON facts(owner_type, owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_about_entity ON facts(about_entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_owner ON entities(owner_type, owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_family_members_user ON family_members(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}
	return nil
}
