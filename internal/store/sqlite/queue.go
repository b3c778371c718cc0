package sqlite

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"example.com/circuit/internal/outbox"
)

var _ outbox.Queue = (*Store)(nil)

// Enqueue implements outbox.Queue. A duplicate (destination, type, payload id) is
// ignored and reported as not inserted.
func (s *Store) Enqueue(ctx context.Context, e outbox.Entry) (bool, error) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = s.now().UTC()
	}
	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO outbound_queue (destination, type, payload_id, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(destination, type, payload_id) DO NOTHING
	`, string(e.Destination), e.Type, e.PayloadID, payload, formatTime(e.EnqueuedAt))
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", e.DedupeKey(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		outbox.RecordEnqueued(e)
	}
	return n > 0, nil
}

// Peek implements outbox.Queue. A limit of zero or less returns every entry.
func (s *Store) Peek(ctx context.Context, dest outbox.Destination, limit int) ([]outbox.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, destination, type, payload_id, payload, enqueued_at, attempts, last_error
		FROM outbound_queue WHERE destination = ? ORDER BY seq LIMIT ?
	`, string(dest), limit)
	if err != nil {
		return nil, fmt.Errorf("peek %s queue: %w", dest, err)
	}
	defer rows.Close()

	entries := make([]outbox.Entry, 0)
	for rows.Next() {
		var (
			e          outbox.Entry
			seq        int64
			destName   string
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&seq, &destName, &e.Type, &e.PayloadID, &payload, &enqueuedAt, &e.Attempts, &e.LastError); err != nil {
			return nil, err
		}
		e.ID = strconv.FormatInt(seq, 10)
		e.Destination = outbox.Destination(destName)
		e.Payload = []byte(payload)
		if e.EnqueuedAt, err = parseTime(enqueuedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ack implements outbox.Queue.
func (s *Store) Ack(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbound_queue WHERE seq = ?`, id); err != nil {
		return fmt.Errorf("ack queue entry %s: %w", id, err)
	}
	return nil
}

// Attempt implements outbox.Queue.
func (s *Store) Attempt(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE outbound_queue SET attempts = attempts + 1, last_error = ? WHERE seq = ?
	`, msg, id); err != nil {
		return fmt.Errorf("record attempt for queue entry %s: %w", id, err)
	}
	return nil
}

// Purge implements outbox.Queue.
func (s *Store) Purge(ctx context.Context, dest outbox.Destination, payloadID string, types ...string) (int, error) {
	query := `DELETE FROM outbound_queue WHERE destination = ? AND payload_id = ?`
	args := []any{string(dest), payloadID}
	if len(types) > 0 {
		query += ` AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)`
		for _, t := range types {
			args = append(args, t)
		}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("purge %s queue for %s: %w", dest, payloadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Len implements outbox.Queue.
func (s *Store) Len(ctx context.Context, dest outbox.Destination) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbound_queue WHERE destination = ?`, string(dest)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s queue: %w", dest, err)
	}
	return n, nil
}
