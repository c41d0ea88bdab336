package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"contentpilot/internal/content"
	"contentpilot/internal/schedule"
)

const itemColumns = `id, parent_id, content_type, content_id, scheduled_for, timezone, recurring,
	status, attempts, max_attempts, last_attempt, completed_at, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (schedule.Item, error) {
	var (
		it                     schedule.Item
		parent, rec, errMsg    sql.NullString
		scheduledFor           int64
		lastAttempt, completed sql.NullInt64
		createdAt, updatedAt   int64
		contentType, status    string
	)
	err := r.Scan(&it.ID, &parent, &contentType, &it.ContentID, &scheduledFor, &it.Timezone, &rec,
		&status, &it.Attempts, &it.MaxAttempts, &lastAttempt, &completed, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return schedule.Item{}, err
	}
	it.ParentID = parent.String
	it.ContentType = content.Type(contentType)
	it.Status = schedule.Status(status)
	it.ScheduledFor = fromNanos(scheduledFor)
	it.LastAttempt = scanTime(lastAttempt)
	it.CompletedAt = scanTime(completed)
	it.ErrorMessage = errMsg.String
	it.CreatedAt = fromNanos(createdAt)
	it.UpdatedAt = fromNanos(updatedAt)
	if rec.Valid && rec.String != "" {
		var r schedule.Recurrence
		if err := json.Unmarshal([]byte(rec.String), &r); err != nil {
			return schedule.Item{}, errors.Wrapf(err, "decode recurrence of %s", it.ID)
		}
		it.Recurring = &r
	}
	return it, nil
}

func (s *sqliteStore) queryItems(ctx context.Context, query string, args ...any) ([]schedule.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schedule.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateItem(ctx context.Context, it schedule.Item) (schedule.Item, error) {
	it.Normalize(s.now().UTC())
	if err := it.Validate(); err != nil {
		return schedule.Item{}, err
	}
	var rec any
	if it.Recurring != nil {
		b, err := json.Marshal(it.Recurring)
		if err != nil {
			return schedule.Item{}, err
		}
		rec = string(b)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_items(`+itemColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, nullStr(it.ParentID), string(it.ContentType), it.ContentID, nanos(it.ScheduledFor), it.Timezone, rec,
		string(it.Status), it.Attempts, it.MaxAttempts, nullTime(it.LastAttempt), nullTime(it.CompletedAt),
		nullStr(it.ErrorMessage), nanos(it.CreatedAt), nanos(it.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return schedule.Item{}, errors.Wrapf(schedule.ErrConflict, "item %s (parent %q) already exists", it.ID, it.ParentID)
	}
	if err != nil {
		return schedule.Item{}, errors.Wrap(err, "insert item")
	}
	return it, nil
}

func (s *sqliteStore) GetItem(ctx context.Context, id string) (schedule.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM scheduled_items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Item{}, errors.Wrapf(schedule.ErrNotFound, "item %s", id)
	}
	return it, err
}

func (s *sqliteStore) ListItems(ctx context.Context, f schedule.Filter) ([]schedule.Item, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	if f.Status != "" {
		return s.queryItems(ctx, `SELECT `+itemColumns+` FROM scheduled_items WHERE status = ?
			ORDER BY scheduled_for ASC, created_at ASC LIMIT ?`, string(f.Status), limit)
	}
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM scheduled_items
		ORDER BY scheduled_for ASC, created_at ASC LIMIT ?`, limit)
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time, limit int) ([]schedule.Item, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM scheduled_items
		WHERE status = ? AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, created_at ASC LIMIT ?`,
		string(schedule.StatusPending), nanos(now), limit)
}

func (s *sqliteStore) ListStale(ctx context.Context, cutoff time.Time) ([]schedule.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM scheduled_items
		WHERE status = ? AND (last_attempt IS NULL OR last_attempt < ?)
		ORDER BY scheduled_for ASC`,
		string(schedule.StatusProcessing), nanos(cutoff))
}

func (s *sqliteStore) FindChild(ctx context.Context, parentID string) (schedule.Item, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM scheduled_items WHERE parent_id = ?`, parentID))
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Item{}, errors.Wrapf(schedule.ErrNotFound, "child of %s", parentID)
	}
	return it, err
}

func (s *sqliteStore) ListUnexpanded(ctx context.Context, since time.Time) ([]schedule.Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM scheduled_items p
		WHERE p.status = ? AND p.recurring IS NOT NULL AND p.completed_at >= ?
		  AND NOT EXISTS (SELECT 1 FROM scheduled_items c WHERE c.parent_id = p.id)
		ORDER BY p.scheduled_for ASC`,
		string(schedule.StatusCompleted), nanos(since))
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.Recurring.Active() {
			out = append(out, it)
		}
	}
	return out, nil
}

// guarded runs an UPDATE that must touch exactly one row. Zero rows means the
// item is missing (ErrNotFound) or in another state (ErrConflict).
func (s *sqliteStore) guarded(ctx context.Context, id string, from schedule.Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update item %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	cur, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	return errors.Wrapf(schedule.ErrConflict, "item %s is %s, want %s", id, cur.Status, from)
}

func (s *sqliteStore) Claim(ctx context.Context, id string, now time.Time) (schedule.Item, error) {
	err := s.guarded(ctx, id, schedule.StatusPending,
		`UPDATE scheduled_items SET status = ?, attempts = attempts + 1, last_attempt = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(schedule.StatusProcessing), nanos(now), nanos(now), id, string(schedule.StatusPending))
	if err != nil {
		return schedule.Item{}, err
	}
	return s.GetItem(ctx, id)
}

func (s *sqliteStore) Complete(ctx context.Context, id string, now time.Time) error {
	return s.guarded(ctx, id, schedule.StatusProcessing,
		`UPDATE scheduled_items SET status = ?, completed_at = ?, error_message = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(schedule.StatusCompleted), nanos(now), nanos(now), id, string(schedule.StatusProcessing))
}

func (s *sqliteStore) Reschedule(ctx context.Context, id string, at time.Time, msg string, now time.Time) error {
	return s.guarded(ctx, id, schedule.StatusProcessing,
		`UPDATE scheduled_items SET status = ?, scheduled_for = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(schedule.StatusPending), nanos(at), nullStr(msg), nanos(now), id, string(schedule.StatusProcessing))
}

func (s *sqliteStore) Fail(ctx context.Context, id string, msg string, now time.Time) error {
	return s.guarded(ctx, id, schedule.StatusProcessing,
		`UPDATE scheduled_items SET status = ?, error_message = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(schedule.StatusFailed), nullStr(msg), nanos(now), id, string(schedule.StatusProcessing))
}

func (s *sqliteStore) Cancel(ctx context.Context, id string, now time.Time) error {
	return s.guarded(ctx, id, schedule.StatusPending,
		`UPDATE scheduled_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(schedule.StatusCancelled), nanos(now), id, string(schedule.StatusPending))
}
