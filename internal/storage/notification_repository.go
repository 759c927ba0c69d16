package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage/models"
)

// NotificationRepository is the bounded pending-notification queue. It never
// holds more than its capacity.
type NotificationRepository struct {
	db       *DB
	capacity int
}

// NewNotificationRepository creates a queue holding at most capacity entries.
func NewNotificationRepository(db *DB, capacity int) *NotificationRepository {
	if capacity <= 0 {
		capacity = 64
	}
	return &NotificationRepository{db: db, capacity: capacity}
}

// Capacity returns the maximum number of pending entries.
func (r *NotificationRepository) Capacity() int {
	return r.capacity
}

// Enqueue adds entries. The batch is rejected as a whole with
// platform.ErrQueueFull if it would exceed capacity.
func (r *NotificationRepository) Enqueue(ctx context.Context, batch []models.Notification) error {
	now := time.Now().UTC()
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		var pending int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_notifications`).Scan(&pending); err != nil {
			return fmt.Errorf("counting pending notifications: %w", err)
		}
		if pending+len(batch) > r.capacity {
			return fmt.Errorf("%w: %d pending, %d new, capacity %d", platform.ErrQueueFull, pending, len(batch), r.capacity)
		}
		for _, n := range batch {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO pending_notifications (id, plan_id, trigger_at, payload, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, n.ID, n.PlanID, n.TriggerAt.Unix(), string(n.Payload), now); err != nil {
				return fmt.Errorf("enqueueing %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// RemoveByPrefix deletes every entry whose id starts with prefix and
// returns how many were removed.
func (r *NotificationRepository) RemoveByPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_notifications WHERE substr(id, 1, ?) = ?
	`, len(prefix), prefix)
	if err != nil {
		return 0, fmt.Errorf("removing notifications with prefix %q: %w", prefix, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Remove deletes one entry.
func (r *NotificationRepository) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_notifications WHERE id = ?`, id)
	return err
}

// List returns every pending entry ordered by trigger instant.
func (r *NotificationRepository) List(ctx context.Context) ([]models.Notification, error) {
	return r.query(ctx, `
		SELECT id, plan_id, trigger_at, payload, created_at
		FROM pending_notifications
		ORDER BY trigger_at, id
	`)
}

// Due returns entries whose trigger instant is not after now.
func (r *NotificationRepository) Due(ctx context.Context, now time.Time) ([]models.Notification, error) {
	return r.query(ctx, `
		SELECT id, plan_id, trigger_at, payload, created_at
		FROM pending_notifications
		WHERE trigger_at <= ?
		ORDER BY trigger_at, id
	`, now.Unix())
}

func (r *NotificationRepository) query(ctx context.Context, query string, args ...any) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n         models.Notification
			triggerAt int64
			payload   string
		)
		if err := rows.Scan(&n.ID, &n.PlanID, &triggerAt, &payload, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.TriggerAt = time.Unix(triggerAt, 0).UTC()
		n.Payload = []byte(payload)
		out = append(out, n)
	}
	return out, rows.Err()
}
