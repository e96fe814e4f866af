package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fabula/internal/config"
	"fabula/internal/logging"
	"fabula/internal/snapshot"
)

// SnapshotStore is the persistence surface the manager needs between stages.
// *snapshot.Store satisfies it.
type SnapshotStore interface {
	Save(ctx context.Context, rec snapshot.Record) error
	Recover(ctx context.Context, sessionID string, maxAge time.Duration) (*snapshot.Record, error)
	Clear(ctx context.Context, sessionID string) error
}

// Options carries the run policy knobs.
type Options struct {
	MaxRetries       int
	WatchdogWindow   time.Duration
	RecoveryTTL      time.Duration
	CoverArtRequired bool
	SoundEffects     bool
}

// OptionsFromConfig lifts the pipeline policy out of the daemon config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries:       cfg.MaxRetries(),
		WatchdogWindow:   cfg.WatchdogWindow(),
		RecoveryTTL:      cfg.RecoveryTTL(),
		CoverArtRequired: cfg.Pipeline.CoverArtRequired,
		SoundEffects:     cfg.Pipeline.SoundEffects,
	}
}

// Manager sequences the generation stages for one session. A manager owns
// at most one run at a time; the daemon keeps one manager per session.
type Manager struct {
	sessionID string
	opts      Options
	runners   RunnerSet
	store     SnapshotStore
	bus       Publisher
	logger    *slog.Logger
	progress  *ProgressMapper

	// stateMu guards run mutation and persistence; the parallel stage group
	// touches the run from two goroutines.
	stateMu sync.Mutex
	run     *Run
	content Content

	mu        sync.Mutex
	running   bool
	cancelled bool
	notifier  *ReadyNotifier
}

// NewManager wires a manager for one session.
func NewManager(sessionID string, opts Options, runners RunnerSet, store SnapshotStore, bus Publisher, logger *slog.Logger) (*Manager, error) {
	if sessionID == "" {
		return nil, errors.New("session id required")
	}
	if !runners.complete() {
		return nil, errors.New("every tracked stage needs a runner")
	}
	if store == nil {
		return nil, errors.New("snapshot store required")
	}
	if bus == nil {
		return nil, errors.New("event bus required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		sessionID: sessionID,
		opts:      opts,
		runners:   runners,
		store:     store,
		bus:       bus,
		logger:    logger.With(logging.String(logging.FieldSessionID, sessionID)),
		progress:  NewProgressMapper(bus, sessionID),
	}, nil
}

// SessionID returns the session this manager serves.
func (m *Manager) SessionID() string { return m.sessionID }

// Cancel requests a cooperative stop. The run halts at its next stage
// checkpoint; no terminal event is emitted for a cancelled run.
func (m *Manager) Cancel() {
	m.mu.Lock()
	m.cancelled = true
	notifier := m.notifier
	m.mu.Unlock()
	if notifier != nil {
		notifier.Stop()
	}
	m.logger.Info("cancellation requested")
}

// ConfirmReady records the client acknowledgement of the ready announcement
// and disarms the resend watchdog. It reports whether an announcement was
// outstanding.
func (m *Manager) ConfirmReady() bool {
	m.mu.Lock()
	notifier := m.notifier
	m.mu.Unlock()
	if notifier == nil {
		return false
	}
	notifier.Ack()
	m.logger.Info("ready acknowledged")
	return true
}

func (m *Manager) isCancelled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

func (m *Manager) setRunning(v bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v && m.running {
		return errors.New("run already in progress")
	}
	m.running = v
	if v {
		m.cancelled = false
	}
	return nil
}

// StageReport is one stage's slice of a status report.
type StageReport struct {
	Status  Status `json:"status"`
	Retries int    `json:"retries"`
}

// Report is a point-in-time view of the manager's run for status surfaces.
type Report struct {
	SessionID  string                  `json:"sessionId"`
	SceneID    string                  `json:"sceneId,omitempty"`
	Running    bool                    `json:"running"`
	Cancelled  bool                    `json:"cancelled"`
	Recovered  bool                    `json:"recovered,omitempty"`
	ReadyAcked bool                    `json:"readyAcked,omitempty"`
	StartTime  time.Time               `json:"startTime,omitzero"`
	Stages     map[StageID]StageReport `json:"stages,omitempty"`
}

// Report snapshots the manager state.
func (m *Manager) Report() Report {
	m.mu.Lock()
	rep := Report{
		SessionID: m.sessionID,
		Running:   m.running,
		Cancelled: m.cancelled,
	}
	if m.notifier != nil {
		rep.ReadyAcked = m.notifier.Acked()
	}
	m.mu.Unlock()

	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.run == nil {
		return rep
	}
	rep.SceneID = m.run.SceneID
	rep.Recovered = m.run.Recovered
	rep.StartTime = m.run.StartTime
	rep.Stages = make(map[StageID]StageReport, len(m.run.Statuses))
	for id, status := range m.run.Statuses {
		rep.Stages[id] = StageReport{Status: status, Retries: m.run.RetryCount[id]}
	}
	return rep
}
