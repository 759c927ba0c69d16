package scheduler

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/interval-alarm/backend/internal/platform"
	"github.com/interval-alarm/backend/internal/storage"
)

// planLocker is implemented by schedulers that serialize work per plan.
// Snoozes are armed and recorded under the same lock so a concurrent
// cancel either sees the snooze or runs before it is armed.
type planLocker interface {
	lockPlan(planID string) func()
}

// snoozeBook records armed snooze alarms per plan in the snooze scope of
// the key index. A zero book records nothing.
type snoozeBook struct {
	alarms platform.AlarmManager
	index  KeyIndex
}

func (b snoozeBook) enabled() bool { return b.alarms != nil && b.index != nil }

func (b snoozeBook) add(ctx context.Context, planID, key string) error {
	if !b.enabled() {
		return nil
	}
	keys, err := b.index.Keys(ctx, storage.ScopeSnooze, planID)
	if err != nil {
		return fmt.Errorf("reading snooze keys of plan %s: %w", planID, err)
	}
	if contains(keys, key) {
		return nil
	}
	return b.index.Replace(ctx, storage.ScopeSnooze, planID, append(keys, key))
}

// remove forgets a snooze that has fired.
func (b snoozeBook) remove(ctx context.Context, planID, key string) error {
	if !b.enabled() {
		return nil
	}
	keys, err := b.index.Keys(ctx, storage.ScopeSnooze, planID)
	if err != nil {
		return fmt.Errorf("reading snooze keys of plan %s: %w", planID, err)
	}
	kept := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == len(keys) {
		return nil
	}
	return b.index.Replace(ctx, storage.ScopeSnooze, planID, kept)
}

// cancel disarms every pending snooze of the plan.
func (b snoozeBook) cancel(ctx context.Context, planID string) (int, error) {
	if !b.enabled() {
		return 0, nil
	}
	return cancelKeys(ctx, b.alarms, b.index, storage.ScopeSnooze, planID)
}

// sweep disarms the snoozes of every plan not in keep.
func (b snoozeBook) sweep(ctx context.Context, keep map[string]bool) (int, error) {
	if !b.enabled() {
		return 0, nil
	}
	indexed, err := b.index.ListAll(ctx, storage.ScopeSnooze)
	if err != nil {
		return 0, fmt.Errorf("listing snooze keys: %w", err)
	}

	var (
		errs      *multierror.Error
		cancelled int
	)
	for _, planID := range sortedKeys(indexed) {
		if keep[planID] {
			continue
		}
		n, err := b.cancel(ctx, planID)
		cancelled += n
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return cancelled, errs.ErrorOrNil()
}

// forget drops every recorded snooze without touching the alarm table.
// It follows a boot, when the in-process table starts empty.
func (b snoozeBook) forget(ctx context.Context) error {
	if !b.enabled() {
		return nil
	}
	indexed, err := b.index.ListAll(ctx, storage.ScopeSnooze)
	if err != nil {
		return fmt.Errorf("listing snooze keys: %w", err)
	}
	var errs *multierror.Error
	for planID := range indexed {
		if err := b.index.Clear(ctx, storage.ScopeSnooze, planID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
