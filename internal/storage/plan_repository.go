package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/alarm"
)

// PlanRepository handles database operations for alarm plans. Plans are
// stored as JSON documents and replaced as a whole on save.
type PlanRepository struct {
	db  *DB
	log *zap.Logger
}

// NewPlanRepository creates a new plan repository.
func NewPlanRepository(db *DB, log *zap.Logger) *PlanRepository {
	return &PlanRepository{db: db, log: log}
}

// Get returns the plan with the given id. A missing plan and a stored plan
// that no longer decodes both yield nil, nil.
func (r *PlanRepository) Get(ctx context.Context, id string) (*alarm.Plan, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM plans WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", id, err)
	}

	plan, err := decodePlan(data)
	if err != nil {
		r.log.Warn("stored plan does not decode, treating as missing", zap.String("plan_id", id), zap.Error(err))
		return nil, nil
	}
	return plan, nil
}

// GetOrDefault returns the stored plan or the default plan for id.
func (r *PlanRepository) GetOrDefault(ctx context.Context, id string) (alarm.Plan, error) {
	plan, err := r.Get(ctx, id)
	if err != nil {
		return alarm.Plan{}, err
	}
	if plan == nil {
		return alarm.DefaultPlan(id), nil
	}
	return *plan, nil
}

// Put inserts or replaces a plan.
func (r *PlanRepository) Put(ctx context.Context, plan *alarm.Plan) error {
	if plan.ID == "" {
		plan.ID = GenerateID()
	}
	plan.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan %s: %w", plan.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO plans (id, data, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, plan.ID, string(data), plan.Enabled, plan.UpdatedAt)
	if err != nil {
		return fmt.Errorf("writing plan %s: %w", plan.ID, err)
	}
	return nil
}

// List returns every plan that decodes, ordered by id.
func (r *PlanRepository) List(ctx context.Context) ([]alarm.Plan, error) {
	return r.list(ctx, `SELECT id, data FROM plans ORDER BY id`)
}

// ListEnabled returns every enabled plan that decodes, ordered by id.
func (r *PlanRepository) ListEnabled(ctx context.Context) ([]alarm.Plan, error) {
	return r.list(ctx, `SELECT id, data FROM plans WHERE enabled = 1 ORDER BY id`)
}

func (r *PlanRepository) list(ctx context.Context, query string) ([]alarm.Plan, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []alarm.Plan
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plan, err := decodePlan(data)
		if err != nil {
			r.log.Warn("skipping stored plan that does not decode", zap.String("plan_id", id), zap.Error(err))
			continue
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

// Delete removes a plan. Deleting a missing plan is not an error.
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting plan %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored plans and of enabled plans.
func (r *PlanRepository) Count(ctx context.Context) (total, enabled int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(enabled), 0) FROM plans
	`).Scan(&total, &enabled)
	return total, enabled, err
}

func decodePlan(data string) (*alarm.Plan, error) {
	var plan alarm.Plan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return nil, err
	}
	if plan.ID == "" {
		return nil, errors.New("plan without id")
	}
	if plan.ActiveDays == nil {
		plan.ActiveDays = alarm.NewWeekdaySet()
	}
	return &plan, nil
}
