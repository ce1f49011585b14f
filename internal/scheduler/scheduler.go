// Package scheduler starts and stops the worker on a daily window and
// keeps always-on streams running.
package scheduler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/smazurov/relaycast/internal/events"
	"github.com/smazurov/relaycast/internal/logging"
	"github.com/smazurov/relaycast/internal/streams"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 60 * time.Second

// Start time used when the configured value cannot be parsed.
const (
	DefaultStartHour   = 9
	DefaultStartMinute = 0
)

// Controller is the part of the supervisor the scheduler drives.
type Controller interface {
	Start(cfg *streams.RunConfig) error
	Stop() error
	Running() bool
}

// Scheduler runs the periodic start/stop loop.
type Scheduler struct {
	store    streams.Store
	ctrl     Controller
	bus      *events.Bus
	interval time.Duration
	now      func() time.Time
	poke     chan struct{}
	logger   *slog.Logger

	// bootPending makes the first always-on tick start the worker even
	// after a clean stop in a previous session.
	bootPending bool
}

// New creates a scheduler. bus may be nil; interval <= 0 uses DefaultInterval.
func New(store streams.Store, ctrl Controller, bus *events.Bus, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		store:       store,
		ctrl:        ctrl,
		bus:         bus,
		interval:    interval,
		now:         time.Now,
		poke:        make(chan struct{}, 1),
		logger:      logging.GetLogger("scheduler"),
		bootPending: true,
	}
}

// SetClock replaces the wall clock.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Poke requests an immediate tick, e.g. after a config reload.
func (s *Scheduler) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Serve ticks until ctx is done. The first tick runs immediately.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "interval", s.interval)
	s.Tick()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick()
		case <-s.poke:
			s.Tick()
		}
	}
}

// Tick evaluates the configuration once. Errors are logged and retried on
// the next tick.
func (s *Scheduler) Tick() {
	cfg, err := s.store.LoadConfig()
	if err != nil {
		s.logger.Error("Failed to load config", "error", err)
		return
	}
	if cfg == nil || !cfg.HasMedia() {
		return
	}

	state, err := s.store.LoadState()
	if err != nil {
		s.logger.Error("Failed to load run state", "error", err)
		return
	}

	if cfg.AlwaysOn {
		s.tickAlwaysOn(cfg, state)
		return
	}
	s.bootPending = false

	if !cfg.Schedule.Enabled {
		return
	}
	s.tickSchedule(cfg, state)
}

func (s *Scheduler) tickAlwaysOn(cfg *streams.RunConfig, state *streams.RunState) {
	boot := s.bootPending
	s.bootPending = false

	if s.ctrl.Running() {
		return
	}

	switch {
	case boot:
		s.start(cfg, events.ActionStart, "always-on")
	case state.EndedAbnormally():
		s.start(cfg, events.ActionRestart, "always-on restart after "+string(state.Status))
	}
}

func (s *Scheduler) tickSchedule(cfg *streams.RunConfig, state *streams.RunState) {
	now := s.now()

	if s.ctrl.Running() {
		if state.StartedAt == nil {
			return
		}
		if elapsed := now.Sub(*state.StartedAt); elapsed >= cfg.Schedule.Duration() {
			s.stop("duration reached after " + elapsed.Round(time.Second).String())
		}
		return
	}

	hour, minute := ParseStartTime(cfg.Schedule.StartTime)
	startAt := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.Before(startAt) {
		return
	}

	today := now.Format(streams.DateLayout)
	if last := state.LastScheduledStartDate; last != "" && last >= today {
		return
	}
	s.start(cfg, events.ActionStart, "scheduled start "+startAt.Format("15:04"))
}

func (s *Scheduler) start(cfg *streams.RunConfig, action, reason string) {
	s.logger.Info("Starting worker", "reason", reason)
	err := s.ctrl.Start(cfg)
	if err != nil {
		s.logger.Error("Scheduled start failed", "reason", reason, "error", err)
	}
	s.publish(action, reason, err)
}

func (s *Scheduler) stop(reason string) {
	s.logger.Info("Stopping worker", "reason", reason)
	err := s.ctrl.Stop()
	if err != nil {
		s.logger.Error("Scheduled stop failed", "reason", reason, "error", err)
	}
	s.publish(events.ActionStop, reason, err)
}

func (s *Scheduler) publish(action, reason string, err error) {
	ev := events.ScheduleActionEvent{
		Action:    action,
		Reason:    reason,
		Timestamp: s.now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(ev)
}

// ParseStartTime parses "HH:MM" leniently ("9:5" is 09:05). Fields after
// the minute are ignored, so "10:30:00" is 10:30. Malformed or out-of-range
// values yield 09:00.
func ParseStartTime(value string) (hour, minute int) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 {
		return DefaultStartHour, DefaultStartMinute
	}
	hour, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	minute, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return DefaultStartHour, DefaultStartMinute
	}
	return hour, minute
}
