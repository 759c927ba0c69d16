package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Registration index scopes.
const (
	ScopePrimitive = "primitive"
	ScopeNative    = "native"
	// ScopeSnooze holds the keys of armed snooze alarms.
	ScopeSnooze = "snooze"
)

// RegistrationRepository is the side index of platform registration keys
// per plan id. Writes for the whole repository are serialized so a plan's
// key set is never updated by two writers at once.
type RegistrationRepository struct {
	db *DB
	mu sync.Mutex
}

// NewRegistrationRepository creates a new registration index repository.
func NewRegistrationRepository(db *DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Keys returns the registered keys of a plan in sorted order.
func (r *RegistrationRepository) Keys(ctx context.Context, scope, planID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys(ctx, r.db, scope, planID)
}

func (r *RegistrationRepository) keys(ctx context.Context, q Queryable, scope, planID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT reg_key FROM registration_keys
		WHERE scope = ? AND plan_id = ?
		ORDER BY reg_key
	`, scope, planID)
	if err != nil {
		return nil, fmt.Errorf("reading registration keys for %s: %w", planID, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Replace atomically swaps the key set of a plan.
func (r *RegistrationRepository) Replace(ctx context.Context, scope, planID string, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM registration_keys WHERE scope = ? AND plan_id = ?
		`, scope, planID); err != nil {
			return fmt.Errorf("clearing registration keys for %s: %w", planID, err)
		}
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO registration_keys (scope, plan_id, reg_key, created_at)
				VALUES (?, ?, ?, ?)
			`, scope, planID, k, now); err != nil {
				return fmt.Errorf("writing registration key %s: %w", k, err)
			}
		}
		return nil
	})
}

// Clear removes every key of a plan.
func (r *RegistrationRepository) Clear(ctx context.Context, scope, planID string) error {
	return r.Replace(ctx, scope, planID, nil)
}

// ListAll returns the key sets of every plan in a scope.
func (r *RegistrationRepository) ListAll(ctx context.Context, scope string) (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT plan_id, reg_key FROM registration_keys
		WHERE scope = ?
		ORDER BY plan_id, reg_key
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("listing registration keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var planID, key string
		if err := rows.Scan(&planID, &key); err != nil {
			return nil, err
		}
		out[planID] = append(out[planID], key)
	}
	return out, rows.Err()
}

// Count returns the number of keys in a scope.
func (r *RegistrationRepository) Count(ctx context.Context, scope string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM registration_keys WHERE scope = ?
	`, scope).Scan(&n)
	return n, err
}
