package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"fabula/internal/config"
	"fabula/internal/events"
	"fabula/internal/logging"
	"fabula/internal/notifications"
	"fabula/internal/pipeline"
	"fabula/internal/snapshot"
)

// Daemon owns the per-session pipeline managers and enforces
// single-instance execution via a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *snapshot.Store
	bus      *events.Bus
	runners  pipeline.RunnerSet
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	api *apiServer

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	manager *pipeline.Manager
	cancel  context.CancelFunc
	active  bool
	lastErr error
	doneAt  time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool   `json:"running"`
	ActiveSessions int    `json:"activeSessions"`
	KnownSessions  int    `json:"knownSessions"`
	SnapshotDBPath string `json:"snapshotDbPath"`
	LockFilePath   string `json:"lockFilePath"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *snapshot.Store, bus *events.Bus, runners pipeline.RunnerSet, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || bus == nil {
		return nil, errors.New("daemon requires config, snapshot store, and event bus")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "fabulad.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		bus:      bus,
		runners:  runners,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		sessions: make(map[string]*session),
	}, nil
}

// Start acquires the daemon lock and brings up the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fabula daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	api, err := newAPIServer(d.cfg, d, d.logger.With(logging.String(logging.FieldComponent, "api")))
	if err != nil {
		d.releaseLock()
		return err
	}
	d.api = api
	if err := d.api.start(d.ctx); err != nil {
		d.releaseLock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("fabula daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop cancels active runs and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	for _, sess := range d.sessions {
		if sess.active {
			sess.manager.Cancel()
			if sess.cancel != nil {
				sess.cancel()
			}
		}
	}
	d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.releaseLock()
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("fabula daemon stopped")
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, empty until Start.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status reports daemon runtime state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	active := 0
	for _, sess := range d.sessions {
		if sess.active {
			active++
		}
	}
	known := len(d.sessions)
	d.mu.Unlock()

	return Status{
		Running:        d.running.Load(),
		ActiveSessions: active,
		KnownSessions:  known,
		SnapshotDBPath: d.store.Path(),
		LockFilePath:   d.lockPath,
	}
}

// ErrSessionBusy is returned when a generation request arrives for a
// session whose run is still in flight.
var ErrSessionBusy = errors.New("session already has a generation in flight")

// ErrSessionUnknown is returned for control requests on sessions the
// daemon has never generated for.
var ErrSessionUnknown = errors.New("unknown session")

// StartGeneration launches a pipeline run for a session in the background.
// One run per session; a busy session is rejected rather than queued.
func (d *Daemon) StartGeneration(sessionID string, content pipeline.Content) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	if content.SceneID == "" {
		return errors.New("scene id required")
	}

	d.mu.Lock()
	sess, ok := d.sessions[sessionID]
	if ok && sess.active {
		d.mu.Unlock()
		return ErrSessionBusy
	}
	if !ok {
		mgr, err := pipeline.NewManager(sessionID, pipeline.OptionsFromConfig(d.cfg), d.runners, d.store, d.bus,
			d.logger.With(logging.String(logging.FieldComponent, "pipeline")))
		if err != nil {
			d.mu.Unlock()
			return err
		}
		sess = &session{manager: mgr}
		d.sessions[sessionID] = sess
	}
	base := d.ctx
	if base == nil {
		base = context.Background()
	}
	runCtx, cancel := context.WithCancel(base)
	sess.active = true
	sess.cancel = cancel
	sess.lastErr = nil
	d.mu.Unlock()

	go d.runGeneration(runCtx, sess, sessionID, content)
	return nil
}

func (d *Daemon) runGeneration(ctx context.Context, sess *session, sessionID string, content pipeline.Content) {
	defer func() {
		d.mu.Lock()
		sess.active = false
		sess.doneAt = time.Now().UTC()
		if sess.cancel != nil {
			sess.cancel()
			sess.cancel = nil
		}
		d.mu.Unlock()
	}()

	if err := d.notifier.NotifyGenerationStarted(ctx, sessionID, content.SceneID); err != nil {
		d.logger.Warn("start notification failed", logging.Error(err))
	}

	outcome, err := sess.manager.Run(ctx, content)

	d.mu.Lock()
	sess.lastErr = err
	d.mu.Unlock()

	notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch {
	case err == nil && outcome == nil:
		// Cancelled run; nothing to announce.
	case err == nil:
		if nErr := d.notifier.NotifySceneReady(notifyCtx, sessionID, content.SceneID, outcome.Elapsed); nErr != nil {
			d.logger.Warn("ready notification failed", logging.Error(nErr))
		}
	default:
		var gateErr *pipeline.GateError
		if errors.As(err, &gateErr) {
			if nErr := d.notifier.NotifyValidationWithheld(notifyCtx, sessionID, len(gateErr.Failures)); nErr != nil {
				d.logger.Warn("validation notification failed", logging.Error(nErr))
			}
			return
		}
		stage := ""
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			stage = string(stageErr.Stage)
		}
		if nErr := d.notifier.NotifyGenerationFailed(notifyCtx, sessionID, stage, err); nErr != nil {
			d.logger.Warn("error notification failed", logging.Error(nErr))
		}
	}
}

func (d *Daemon) lookup(sessionID string) (*session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionUnknown, sessionID)
	}
	return sess, nil
}

// CancelSession requests cooperative cancellation of an active run.
func (d *Daemon) CancelSession(sessionID string) error {
	sess, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	sess.manager.Cancel()
	d.mu.Lock()
	if sess.cancel != nil {
		sess.cancel()
	}
	d.mu.Unlock()
	return nil
}

// RetryStage retries a failed stage for a session.
func (d *Daemon) RetryStage(ctx context.Context, sessionID string, stage pipeline.StageID) (pipeline.Status, error) {
	sess, err := d.lookup(sessionID)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	busy := sess.active
	d.mu.Unlock()
	if busy {
		return "", ErrSessionBusy
	}
	return sess.manager.RetryStage(ctx, stage)
}

// ResumeGeneration re-runs the pipeline for a session, picking up from its
// snapshot. Used after a retry fixed a failed stage.
func (d *Daemon) ResumeGeneration(sessionID string, content pipeline.Content) error {
	return d.StartGeneration(sessionID, content)
}

// ConfirmReady records the client acknowledgement for a session.
func (d *Daemon) ConfirmReady(sessionID string) error {
	sess, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	if !sess.manager.ConfirmReady() {
		return fmt.Errorf("session %s has no outstanding ready announcement", sessionID)
	}
	return nil
}

// SessionReport returns the pipeline report for one session.
func (d *Daemon) SessionReport(sessionID string) (pipeline.Report, error) {
	sess, err := d.lookup(sessionID)
	if err != nil {
		return pipeline.Report{}, err
	}
	rep := sess.manager.Report()
	d.mu.Lock()
	rep.Running = sess.active
	d.mu.Unlock()
	return rep, nil
}

// SessionReports lists reports for every session the daemon has seen,
// ordered by session id.
func (d *Daemon) SessionReports() []pipeline.Report {
	d.mu.Lock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)

	reports := make([]pipeline.Report, 0, len(ids))
	for _, id := range ids {
		if rep, err := d.SessionReport(id); err == nil {
			reports = append(reports, rep)
		}
	}
	return reports
}

// LastError returns the terminal error of a session's most recent run.
func (d *Daemon) LastError(sessionID string) error {
	sess, err := d.lookup(sessionID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return sess.lastErr
}
