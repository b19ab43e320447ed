package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureRecurringEvent creates an annual event unless one with the same
// (owner, title) already exists. Returns the event and whether it was
// created by this call.
func (s *Store) EnsureRecurringEvent(ctx context.Context, ev *RecurringEvent) (*RecurringEvent, bool, error) {
	if ev.OwnerID == "" {
		return nil, false, fmt.Errorf("owner id is required")
	}
	if ev.Title == "" {
		return nil, false, fmt.Errorf("title is required")
	}
	if ev.RecurrenceRule == "" {
		return nil, false, fmt.Errorf("recurrence rule is required")
	}
	if ev.VisibilityTier == 0 {
		ev.VisibilityTier = 3
	}

	existing, err := s.recurringEventByTitle(ctx, ev.OwnerID, ev.Title)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recurring_events (
			id, owner_id, title, description, start_time, end_time,
			all_day, recurrence_rule, visibility_tier, source_fact_id, entity_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, title) DO NOTHING`,
		id, ev.OwnerID, ev.Title, ev.Description, ev.StartTime, ev.EndTime,
		boolToInt(ev.AllDay), ev.RecurrenceRule, ev.VisibilityTier,
		nullable(ev.SourceFactID), nullable(ev.EntityID),
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating recurring event %q: %w", ev.Title, err)
	}

	created, err := s.recurringEventByTitle(ctx, ev.OwnerID, ev.Title)
	if err != nil {
		return nil, false, fmt.Errorf("re-reading recurring event %q: %w", ev.Title, err)
	}
	// If a concurrent writer won the conflict, report it as pre-existing.
	return created, created.ID == id, nil
}

func (s *Store) recurringEventByTitle(ctx context.Context, ownerID, title string) (*RecurringEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, start_time, end_time,
			all_day, recurrence_rule, visibility_tier,
			COALESCE(source_fact_id, ''), COALESCE(entity_id, ''), created_at
		 FROM recurring_events
		 WHERE owner_id = ? AND title = ?`,
		ownerID, title,
	)
	return scanRecurringEvent(row)
}

// ListRecurringEvents returns an owner's annual events ordered by next
// start time.
func (s *Store) ListRecurringEvents(ctx context.Context, ownerID string) ([]*RecurringEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, description, start_time, end_time,
			all_day, recurrence_rule, visibility_tier,
			COALESCE(source_fact_id, ''), COALESCE(entity_id, ''), created_at
		 FROM recurring_events
		 WHERE owner_id = ?
		 ORDER BY start_time ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing recurring events: %w", err)
	}
	defer rows.Close()

	var events []*RecurringEvent
	for rows.Next() {
		ev, err := scanRecurringEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanRecurringEvent(row rowScanner) (*RecurringEvent, error) {
	ev := &RecurringEvent{}
	var allDay int
	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Title, &ev.Description,
		&ev.StartTime, &ev.EndTime, &allDay, &ev.RecurrenceRule,
		&ev.VisibilityTier, &ev.SourceFactID, &ev.EntityID, &ev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recurring event: %w", err)
	}
	ev.AllDay = allDay != 0
	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
