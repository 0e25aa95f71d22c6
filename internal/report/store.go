// Package report provides PostgreSQL-backed storage for flagged-message
// reports. Each report captures which message was flagged, who wrote it, and
// which filter rule matched, for moderator review. The relay core never
// touches this store; only the moderator service writes to it.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the flagged_messages table.
var validReasons = map[string]bool{
	"blocked_keyword": true,
	"spam_pattern":    true,
}

// Store manages flagged-message reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report represents a single flagged message to be persisted.
type Report struct {
	RoomID    string
	MessageID string
	UserID    string
	Username  string
	Text      string
	Reason    string // filter reason: blocked_keyword | spam_pattern
	Term      string // matched term or pattern name
}

// FlaggedMessage is a stored report row.
type FlaggedMessage struct {
	ID        int64
	RoomID    string
	MessageID string
	UserID    string
	Username  string
	Text      string
	Reason    string
	Term      string
	CreatedAt time.Time
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a flagged-message report. The reason is validated against
// the allowed set before insertion.
func (s *Store) Create(ctx context.Context, report *Report) error {
	if !validReasons[report.Reason] {
		return fmt.Errorf("report: invalid reason %q", report.Reason)
	}

	const query = `
		INSERT INTO flagged_messages (room_id, message_id, user_id, username, text, reason, term)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		report.RoomID,
		report.MessageID,
		report.UserID,
		report.Username,
		report.Text,
		report.Reason,
		report.Term,
	)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a user id within
// the given time window. Useful for escalation policies built on top of the
// feed.
func (s *Store) CountRecent(ctx context.Context, userID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM flagged_messages
		WHERE user_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Recent returns the most recent limit reports, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]FlaggedMessage, error) {
	const query = `
		SELECT id, room_id, message_id, user_id, username, text, reason, term, created_at
		FROM flagged_messages
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: query recent: %w", err)
	}
	defer rows.Close()

	var out []FlaggedMessage
	for rows.Next() {
		var fm FlaggedMessage
		if err := rows.Scan(&fm.ID, &fm.RoomID, &fm.MessageID, &fm.UserID,
			&fm.Username, &fm.Text, &fm.Reason, &fm.Term, &fm.CreatedAt); err != nil {
			return nil, fmt.Errorf("report: scan: %w", err)
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}
