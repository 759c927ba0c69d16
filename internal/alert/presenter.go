package alert

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/interval-alarm/backend/internal/websocket"
)

var (
	// ErrNoClients is returned when no client is connected to show an alert.
	ErrNoClients = errors.New("no connected alert clients")
	// ErrNoLauncher is returned when no full-screen launcher is configured.
	ErrNoLauncher = errors.New("no alert launcher configured")
)

// Presenter shows a ringing alert and takes it down again.
type Presenter interface {
	Name() string
	Present(ctx context.Context, a Alert) error
	Dismiss(ctx context.Context, a Alert, snoozedUntil time.Time)
}

// HubPresenter rings alerts on connected WebSocket clients.
type HubPresenter struct {
	events *websocket.EventBroadcaster
}

// NewHubPresenter creates a presenter backed by the event broadcaster.
func NewHubPresenter(events *websocket.EventBroadcaster) *HubPresenter {
	return &HubPresenter{events: events}
}

// Name implements Presenter.
func (p *HubPresenter) Name() string { return "websocket" }

// Present implements Presenter. It fails when nobody is listening.
func (p *HubPresenter) Present(ctx context.Context, a Alert) error {
	if p.events.ClientCount() == 0 {
		return ErrNoClients
	}
	if !p.events.BroadcastAlarmRinging(alarmPayload(a, time.Time{})) {
		return fmt.Errorf("broadcasting alert %s: channel full", a.ID)
	}
	return nil
}

// Dismiss implements Presenter.
func (p *HubPresenter) Dismiss(ctx context.Context, a Alert, snoozedUntil time.Time) {
	if snoozedUntil.IsZero() {
		p.events.BroadcastAlarmDismissed(alarmPayload(a, snoozedUntil))
		return
	}
	p.events.BroadcastAlarmSnoozed(alarmPayload(a, snoozedUntil))
}

// LauncherPresenter starts an external command that opens a full-screen
// alert surface. The alert is passed through ALARM_* environment variables.
type LauncherPresenter struct {
	command string
	args    []string
	log     *zap.Logger
}

// NewLauncherPresenter creates a launcher for command. An empty command
// makes every Present call fail with ErrNoLauncher.
func NewLauncherPresenter(command string, args []string, log *zap.Logger) *LauncherPresenter {
	return &LauncherPresenter{command: command, args: args, log: log}
}

// Name implements Presenter.
func (p *LauncherPresenter) Name() string { return "launcher" }

// Present implements Presenter.
func (p *LauncherPresenter) Present(ctx context.Context, a Alert) error {
	if p.command == "" {
		return ErrNoLauncher
	}
	cmd := exec.Command(p.command, p.args...)
	cmd.Env = append(cmd.Environ(),
		"ALARM_ID="+a.ID,
		"ALARM_PLAN_ID="+a.Payload.PlanID,
		"ALARM_TIME="+a.Payload.Time().String(),
		"ALARM_LABEL="+a.Label,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting alert launcher: %w", err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			p.log.Warn("alert launcher exited with error", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}()
	return nil
}

// Dismiss implements Presenter. The launched surface closes itself.
func (p *LauncherPresenter) Dismiss(ctx context.Context, a Alert, snoozedUntil time.Time) {}

func alarmPayload(a Alert, snoozedUntil time.Time) websocket.AlarmPayload {
	return websocket.AlarmPayload{
		AlertID:       a.ID,
		PlanID:        a.Payload.PlanID,
		Label:         a.Label,
		Time:          a.Payload.Time().String(),
		IsSnooze:      a.Payload.IsSnooze,
		SnoozeMinutes: a.Payload.SnoozeMinutes,
		FiredAt:       a.FiredAt,
		SnoozedUntil:  snoozedUntil,
	}
}
