// Package presence keeps turn sessions honest: a background heartbeat
// detects missed ticks and quarantines runs that stopped moving.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/avenhq/aven/internal/observability"
	"github.com/avenhq/aven/pkg/notify"
	"github.com/avenhq/aven/pkg/session"
)

// Floors and defaults on the heartbeat knobs.
const (
	MinTickInterval    = 15 * time.Second
	MinMissedThreshold = 30 * time.Second

	DefaultTickInterval    = 30 * time.Second
	DefaultMissedThreshold = 3 * time.Minute
	DefaultLookback        = 24 * time.Hour

	// Nightly curation runs once per UTC day inside this hour.
	nightlyHourUTC = 3
)

// Curator performs long-term memory curation for a user. It is a
// black-box collaborator; failures are logged, never fatal.
type Curator interface {
	Curate(ctx context.Context, userID string) error
}

// RecoveryReport lists what a missed-heartbeat recovery did. The
// action list is never empty.
type RecoveryReport struct {
	UserID      string    `json:"user_id"`
	Actions     []string  `json:"actions"`
	Quarantined []string  `json:"quarantined"`
	At          time.Time `json:"at"`
}

// Config tunes the monitor. Zero values fall back to defaults;
// sub-floor values are raised to the floor.
type Config struct {
	TickInterval    time.Duration
	MissedThreshold time.Duration
	Lookback        time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.TickInterval < MinTickInterval {
		c.TickInterval = MinTickInterval
	}
	if c.MissedThreshold <= 0 {
		c.MissedThreshold = DefaultMissedThreshold
	}
	if c.MissedThreshold < MinMissedThreshold {
		c.MissedThreshold = MinMissedThreshold
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	return c
}

// Monitor is the background liveness loop.
type Monitor struct {
	cfg      Config
	sessions *session.Store
	curator  Curator
	notifier notify.Sink
	logger   zerolog.Logger
	sched    *cron.Cron
	now      func() time.Time

	mu          sync.Mutex
	lastTick    map[string]time.Time
	lastNightly time.Time
}

// NewMonitor builds a monitor over the session store.
func NewMonitor(cfg Config, sessions *session.Store, curator Curator, notifier notify.Sink, logger zerolog.Logger) (*Monitor, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notification sink is required")
	}
	return &Monitor{
		cfg:      cfg.withDefaults(),
		sessions: sessions,
		curator:  curator,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		lastTick: make(map[string]time.Time),
	}, nil
}

// Start runs the heartbeat until ctx is cancelled. The nightly
// curation is cron-scheduled; a late tick inside the nightly window
// also picks it up in case the process slept through the schedule.
func (m *Monitor) Start(ctx context.Context) {
	m.sched = cron.New(cron.WithLocation(time.UTC))
	_, err := m.sched.AddFunc(fmt.Sprintf("0 %d * * *", nightlyHourUTC), func() {
		m.runNightly(ctx)
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to schedule nightly curation")
	}
	m.sched.Start()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	m.logger.Info().
		Dur("interval", m.cfg.TickInterval).
		Dur("missed_threshold", m.cfg.MissedThreshold).
		Msg("Presence monitor started")

	for {
		select {
		case <-ctx.Done():
			m.sched.Stop()
			m.logger.Info().Msg("Presence monitor stopped")
			return
		case <-ticker.C:
			m.TickAll(ctx)
		}
	}
}

// TickAll ticks every user with recent session activity and returns
// the recovery reports of users that missed their heartbeat.
func (m *Monitor) TickAll(ctx context.Context) []RecoveryReport {
	now := m.now()
	users := m.sessions.UsersTouchedSince(now.Add(-m.cfg.Lookback))

	reports := []RecoveryReport{}
	for _, userID := range users {
		if report, recovered := m.tickUser(ctx, userID, now); recovered {
			reports = append(reports, report)
		}
	}

	m.maybeRunNightly(ctx, now)
	return reports
}

// tickUser records the tick and runs recovery when the gap since the
// previous tick exceeds the missed threshold.
func (m *Monitor) tickUser(ctx context.Context, userID string, now time.Time) (RecoveryReport, bool) {
	m.mu.Lock()
	previous, seen := m.lastTick[userID]
	m.lastTick[userID] = now
	m.mu.Unlock()

	if !seen {
		return RecoveryReport{}, false
	}
	gap := now.Sub(previous)
	if gap <= m.cfg.MissedThreshold {
		return RecoveryReport{}, false
	}

	m.logger.Warn().
		Str("user_id", userID).
		Dur("gap", gap).
		Msg("Missed heartbeat, running recovery")
	return m.Recover(ctx, userID), true
}

// Recover quarantines stale sessions, resets liveness state, and fires
// the best-effort side effects. The returned action list always
// contains at least the self-check entry.
func (m *Monitor) Recover(ctx context.Context, userID string) RecoveryReport {
	now := m.now()
	report := RecoveryReport{
		UserID:  userID,
		Actions: []string{"self-check completed"},
		At:      now,
	}

	stale := now.Add(-m.cfg.MissedThreshold)
	quarantined := m.sessions.QuarantineStale(userID, stale)
	report.Quarantined = quarantined
	for _, conversationID := range quarantined {
		report.Actions = append(report.Actions, "quarantined session "+conversationID)
	}

	m.mu.Lock()
	m.lastTick[userID] = now
	m.mu.Unlock()
	report.Actions = append(report.Actions, "reset liveness state")

	if m.curator != nil {
		if err := m.curator.Curate(ctx, userID); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("Recovery curation failed")
		} else {
			report.Actions = append(report.Actions, "triggered memory curation")
		}
	}

	body := fmt.Sprintf("Recovered after a missed heartbeat. %d stalled sessions were marked failed.", len(quarantined))
	if err := m.notifier.Create(userID, "Agent recovered", body, notify.SeverityWarning); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("Recovery notification failed")
	} else {
		report.Actions = append(report.Actions, "notified user")
	}

	observability.RecordRecovery(len(quarantined))
	m.logger.Info().
		Str("user_id", userID).
		Int("quarantined", len(quarantined)).
		Strs("actions", report.Actions).
		Msg("Heartbeat recovery finished")
	return report
}

// maybeRunNightly runs the nightly curation when a tick lands inside
// the nightly hour and it has not run yet that UTC day.
func (m *Monitor) maybeRunNightly(ctx context.Context, now time.Time) {
	utc := now.UTC()
	if utc.Hour() != nightlyHourUTC {
		return
	}
	m.mu.Lock()
	done := sameUTCDay(m.lastNightly, utc)
	m.mu.Unlock()
	if done {
		return
	}
	m.runNightly(ctx)
}

// runNightly curates every recently active user once.
func (m *Monitor) runNightly(ctx context.Context) {
	now := m.now().UTC()
	m.mu.Lock()
	if sameUTCDay(m.lastNightly, now) {
		m.mu.Unlock()
		return
	}
	m.lastNightly = now
	m.mu.Unlock()

	if m.curator == nil {
		return
	}
	users := m.sessions.UsersTouchedSince(m.now().Add(-m.cfg.Lookback))
	for _, userID := range users {
		if err := m.curator.Curate(ctx, userID); err != nil {
			m.logger.Warn().Err(err).Str("user_id", userID).Msg("Nightly curation failed")
		}
	}
	m.logger.Info().Int("users", len(users)).Msg("Nightly curation finished")
}

func sameUTCDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
