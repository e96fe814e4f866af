package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fabula/internal/events"
	"fabula/internal/logging"
	"fabula/internal/services"
	"fabula/internal/snapshot"
)

// Outcome summarizes a run that reached the validation gate.
type Outcome struct {
	Run        *Run
	Gate       GateResult
	Elapsed    time.Duration
	ReadyEvent events.Event
}

// Run executes the generation pipeline for the given scene. Completed
// stages from a recovered snapshot are skipped, the sound-effect and
// cover-art stages run concurrently, and the ready announcement is only
// made after the validation gate passes.
//
// A cooperatively cancelled run returns (nil, nil).
func (m *Manager) Run(ctx context.Context, content Content) (*Outcome, error) {
	if err := m.setRunning(true); err != nil {
		return nil, err
	}
	defer func() { _ = m.setRunning(false) }()

	run, err := m.restore(ctx, content)
	if err != nil {
		return nil, err
	}

	// Elapsed time is reported from the run's creation, which survives
	// recovery, not from this invocation.
	started := run.StartTime
	if started.IsZero() {
		started = time.Now().UTC()
	}

	stageNames := make([]string, 0, len(stageTable))
	for _, st := range stageTable {
		stageNames = append(stageNames, string(st.ID))
	}
	m.stateMu.Lock()
	board := statusBoard(run)
	m.stateMu.Unlock()
	m.bus.Publish(events.Event{
		Type:      events.TypePipelineStarted,
		SessionID: m.sessionID,
		Payload: map[string]any{
			"sceneId":   content.SceneID,
			"recovered": run.Recovered,
			"stages":    stageNames,
			"statuses":  board,
			"startTime": started,
		},
	})
	m.logger.Info("pipeline run starting",
		logging.String("scene_id", content.SceneID),
		logging.Bool("recovered", run.Recovered))

	if err := m.executeStage(ctx, run, StageVoices, content); err != nil {
		return nil, m.fail(run, err)
	}
	if m.checkpoint(ctx, run) {
		return nil, nil
	}

	if err := m.executeParallelGroup(ctx, run, content); err != nil {
		return nil, m.fail(run, err)
	}
	if m.checkpoint(ctx, run) {
		return nil, nil
	}

	if err := m.executeStage(ctx, run, StageQA, content); err != nil {
		return nil, m.fail(run, err)
	}
	if m.checkpoint(ctx, run) {
		return nil, nil
	}

	if content.SynthesizedAudio {
		if err := m.executeStage(ctx, run, StageAudio, content); err != nil {
			return nil, m.fail(run, err)
		}
	} else if err := m.skipStage(ctx, run, StageAudio); err != nil {
		return nil, m.fail(run, err)
	}
	if m.checkpoint(ctx, run) {
		return nil, nil
	}

	m.narrateChoices(ctx, run, content)

	gate := Gate{
		CoverArtRequired: m.opts.CoverArtRequired,
		SoundEffects:     m.opts.SoundEffects,
	}.Check(run, content)

	m.bus.Publish(events.Event{
		Type:      events.TypeValidationResult,
		SessionID: m.sessionID,
		Payload: map[string]any{
			"passed":   gate.Passed(),
			"failures": gate.Failures,
			"warnings": gate.Warnings,
		},
	})
	if !gate.Passed() {
		err := &GateError{Failures: gate.Failures}
		m.logger.Error("validation gate withheld ready announcement", logging.Error(err))
		m.bus.Publish(events.Event{
			Type:      events.TypePipelineError,
			SessionID: m.sessionID,
			Payload: map[string]any{
				"stage":     "validation",
				"message":   err.Error(),
				"retryable": false,
			},
		})
		return &Outcome{Run: run, Gate: gate, Elapsed: time.Since(started)}, err
	}

	// The snapshot is only cleared once the gate passes; an interruption
	// before this point resumes from the last completed stage.
	if err := m.store.Clear(ctx, m.sessionID); err != nil {
		m.logger.Warn("clearing run snapshot failed", logging.Error(err))
	}

	notifier := NewReadyNotifier(m.bus, m.opts.WatchdogWindow)
	m.mu.Lock()
	m.notifier = notifier
	m.mu.Unlock()

	elapsed := time.Since(started)
	ready := notifier.Announce(m.sessionID, m.readyPayload(run, content, gate, elapsed))
	m.logger.Info("pipeline run ready",
		logging.String("scene_id", content.SceneID),
		logging.Duration("elapsed", elapsed))

	return &Outcome{Run: run, Gate: gate, Elapsed: elapsed, ReadyEvent: ready}, nil
}

// restore reuses the in-memory run when it matches the scene, then tries the
// snapshot store, then starts fresh. Snapshots older than the recovery TTL
// or for a different scene are discarded.
func (m *Manager) restore(ctx context.Context, content Content) (*Run, error) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	m.content = content
	if m.run != nil && m.run.SceneID == content.SceneID {
		return m.run, nil
	}

	rec, err := m.store.Recover(ctx, m.sessionID, m.opts.RecoveryTTL)
	if err != nil {
		return nil, fmt.Errorf("recover snapshot: %w", err)
	}
	if rec != nil {
		run, decodeErr := DecodeRun(rec.Payload)
		if decodeErr != nil {
			m.logger.Warn("discarding undecodable snapshot", logging.Error(decodeErr))
		} else if run.SessionID == m.sessionID && run.SceneID == content.SceneID {
			m.logger.Info("resuming from snapshot",
				logging.String("scene_id", run.SceneID),
				logging.String("snapshot_age", time.Since(rec.UpdatedAt).Round(time.Second).String()))
			m.run = run
			return run, nil
		}
		if clearErr := m.store.Clear(ctx, m.sessionID); clearErr != nil {
			m.logger.Warn("clearing mismatched snapshot failed", logging.Error(clearErr))
		}
	}

	run := NewRun(m.sessionID, content.SceneID)
	m.run = run
	return run, nil
}

// executeStage runs one stage to a terminal status and persists the run
// after every status change. Stages already completed are skipped, which is
// what makes resumed runs idempotent.
func (m *Manager) executeStage(ctx context.Context, run *Run, id StageID, content Content) error {
	st, ok := StageByID(id)
	if !ok {
		return fmt.Errorf("unknown stage %s", id)
	}

	m.stateMu.Lock()
	switch run.Status(id) {
	case StatusSuccess:
		m.stateMu.Unlock()
		m.logger.Info("stage already complete", logging.String(logging.FieldStage, string(id)))
		return nil
	case StatusError:
		m.stateMu.Unlock()
		return &StageError{Stage: id, Err: fmt.Errorf("stage previously failed; retry it first")}
	}
	if err := run.SetStatus(id, StatusInProgress); err != nil {
		m.stateMu.Unlock()
		return err
	}
	m.persistLocked(ctx, run)
	m.stateMu.Unlock()

	m.publishStageUpdate(run, id, StatusPending, nil, "")

	log := m.logger.With(logging.String(logging.FieldStage, string(id)))
	log.Info("stage starting", logging.String("stage_name", st.DisplayName))

	res, err := m.runners.byID(id).Run(services.WithStage(ctx, string(id)), run, content, m.progress.Func(st))

	m.stateMu.Lock()
	if err != nil {
		if setErr := run.SetStatus(id, StatusError); setErr != nil {
			m.stateMu.Unlock()
			return setErr
		}
		m.persistLocked(ctx, run)
		m.stateMu.Unlock()

		m.publishStageUpdate(run, id, StatusInProgress, err, "")
		log.Error("stage failed", logging.Error(err))
		return &StageError{Stage: id, Err: err}
	}
	if setErr := run.SetStatus(id, StatusSuccess); setErr != nil {
		m.stateMu.Unlock()
		return setErr
	}
	run.SetResult(id, res.Payload)
	m.persistLocked(ctx, run)
	m.stateMu.Unlock()

	m.progress.Emit(st, 1, st.DisplayName+" complete")
	m.publishStageUpdate(run, id, StatusInProgress, nil, res.Summary)
	log.Info("stage complete", logging.String("summary", res.Summary))
	return nil
}

// executeParallelGroup runs the sound-effect and cover-art stages
// concurrently. Both branches always run to a terminal status; a failure in
// one never truncates the other, so the snapshot records what each branch
// actually did.
func (m *Manager) executeParallelGroup(ctx context.Context, run *Run, content Content) error {
	var sfxErr, coverErr error
	var g errgroup.Group
	g.Go(func() error {
		sfxErr = m.executeStage(ctx, run, StageSFX, content)
		return nil
	})
	g.Go(func() error {
		coverErr = m.executeStage(ctx, run, StageCover, content)
		return nil
	})
	_ = g.Wait()

	if sfxErr != nil {
		return sfxErr
	}
	return coverErr
}

// skipStage marks a stage as completed without executing it.
func (m *Manager) skipStage(ctx context.Context, run *Run, id StageID) error {
	m.stateMu.Lock()
	if run.Status(id) == StatusSuccess {
		m.stateMu.Unlock()
		return nil
	}
	if err := run.SetStatus(id, StatusInProgress); err != nil {
		m.stateMu.Unlock()
		return err
	}
	if err := run.SetStatus(id, StatusSuccess); err != nil {
		m.stateMu.Unlock()
		return err
	}
	payload, err := MarshalPayload(AudioPayload{Skipped: true})
	if err != nil {
		m.stateMu.Unlock()
		return err
	}
	run.SetResult(id, payload)
	m.persistLocked(ctx, run)
	m.stateMu.Unlock()

	m.publishStageUpdate(run, id, StatusPending, nil, "skipped")
	m.logger.Info("stage skipped", logging.String(logging.FieldStage, string(id)))
	return nil
}

// narrateChoices synthesizes the player-choice prompts. Failures here are
// logged and dropped; choice narration never blocks readiness.
func (m *Manager) narrateChoices(ctx context.Context, run *Run, content Content) {
	if len(content.Choices) == 0 || m.runners.Choices == nil {
		return
	}
	m.stateMu.Lock()
	done := run.Result(StageChoices) != nil
	m.stateMu.Unlock()
	if done {
		return
	}

	res, err := m.runners.Choices.Run(services.WithStage(ctx, string(StageChoices)), run, content, func(float64, string) {})
	if err != nil {
		m.logger.Warn("choice narration failed", logging.Error(err))
		return
	}

	m.stateMu.Lock()
	run.SetResult(StageChoices, res.Payload)
	m.persistLocked(ctx, run)
	m.stateMu.Unlock()
}

// persistLocked saves the run snapshot. Callers hold stateMu. Persistence
// failures are logged rather than fatal; the run can still finish, it just
// loses crash resumability.
func (m *Manager) persistLocked(ctx context.Context, run *Run) {
	payload, err := EncodeRun(run)
	if err != nil {
		m.logger.Error("encoding run snapshot failed", logging.Error(err))
		return
	}
	rec := snapshot.Record{
		SessionID:     m.sessionID,
		SchemaVersion: snapshotSchemaVersion,
		Payload:       payload,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("saving run snapshot failed", logging.Error(err))
	}
}

// statusBoard copies the tracked statuses for event payloads. Caller holds
// stateMu.
func statusBoard(run *Run) map[string]string {
	board := make(map[string]string, len(run.Statuses))
	for id, status := range run.Statuses {
		board[string(id)] = string(status)
	}
	return board
}

func (m *Manager) publishStageUpdate(run *Run, id StageID, prev Status, stageErr error, summary string) {
	m.stateMu.Lock()
	status := run.Status(id)
	attempt := run.RetryCount[id]
	board := statusBoard(run)
	m.stateMu.Unlock()

	payload := map[string]any{
		"stage":          string(id),
		"status":         string(status),
		"previousStatus": string(prev),
		"statuses":       board,
		"attempt":        attempt,
	}
	if summary != "" {
		payload["summary"] = summary
	}
	if stageErr != nil {
		payload["error"] = services.Details(stageErr)
		payload["retryable"] = services.Retryable(stageErr)
	}
	m.bus.Publish(events.Event{
		Type:      events.TypeStageUpdate,
		SessionID: m.sessionID,
		Payload:   payload,
	})
}

// checkpoint is the cooperative cancellation point between stages.
func (m *Manager) checkpoint(ctx context.Context, run *Run) bool {
	if ctx.Err() == nil && !m.isCancelled() {
		return false
	}
	m.logger.Info("run stopped at checkpoint",
		logging.String("scene_id", run.SceneID),
		logging.Bool("context_done", ctx.Err() != nil))
	return true
}

// fail emits the terminal error event. The snapshot is left in place so a
// retry or restart can resume.
func (m *Manager) fail(run *Run, err error) error {
	stage := "pipeline"
	if se, ok := err.(*StageError); ok {
		stage = string(se.Stage)
	}
	m.bus.Publish(events.Event{
		Type:      events.TypePipelineError,
		SessionID: m.sessionID,
		Payload: map[string]any{
			"stage":     stage,
			"message":   err.Error(),
			"retryable": services.Retryable(err),
			"details":   services.Details(err),
		},
	})
	m.logger.Error("pipeline run failed",
		logging.String(logging.FieldStage, stage),
		logging.Error(err))
	return err
}

// readyPayload assembles the consolidated ready announcement from every
// stage's result, so a consumer that missed intermediate events still
// receives the final state in one message.
func (m *Manager) readyPayload(run *Run, content Content, gate GateResult, elapsed time.Duration) map[string]any {
	m.stateMu.Lock()
	stages := statusBoard(run)
	results := make(map[StageID]json.RawMessage, len(run.Results))
	for id, raw := range run.Results {
		results[id] = raw
	}
	m.stateMu.Unlock()

	summaries := make(map[string]any, len(results))
	for id, raw := range results {
		if summary := summarizeResult(id, raw); summary != nil {
			summaries[string(id)] = summary
		}
	}

	return map[string]any{
		"sceneId":              content.SceneID,
		"elapsedMs":            elapsed.Milliseconds(),
		"stages":               stages,
		"stageResultSummaries": summaries,
		"content": map[string]any{
			"sceneId":          content.SceneID,
			"synthesizedAudio": content.SynthesizedAudio,
			"lines":            len(content.Lines),
			"choices":          len(content.Choices),
		},
		"warnings": gate.Warnings,
	}
}

// summarizeResult condenses one stored stage result for the ready payload.
func summarizeResult(id StageID, raw json.RawMessage) map[string]any {
	switch id {
	case StageVoices:
		var p VoicesPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		return map[string]any{
			"characters":      len(p.Roster),
			"narratorVoiceId": p.NarratorVoiceID,
			"derived":         p.Derived,
		}
	case StageSFX:
		var p SFXPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		return map[string]any{
			"enabled": p.Enabled,
			"effects": len(p.Effects),
			"ready":   p.ReadyCount(),
		}
	case StageCover:
		var p CoverPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		summary := map[string]any{"degraded": p.Degraded}
		if p.URL != "" {
			summary["url"] = p.URL
		}
		if p.Style != "" {
			summary["style"] = p.Style
		}
		return summary
	case StageQA:
		var p QAPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		return map[string]any{
			"passed":   p.Passed,
			"adjusted": p.Adjusted,
		}
	case StageAudio:
		var p AudioPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		total := 0
		for _, seg := range p.Segments {
			total += seg.DurationMs
		}
		return map[string]any{
			"skipped":    p.Skipped,
			"segments":   len(p.Segments),
			"durationMs": total,
		}
	case StageChoices:
		var p ChoicesPayload
		if DecodePayload(raw, &p) != nil {
			return nil
		}
		return map[string]any{"narrations": len(p.Narrations)}
	}
	return nil
}

// RetryStage resets a failed stage and executes it once more. The retry
// budget is checked before touching the stage; an exhausted budget returns
// ErrRetryBudgetExhausted without invoking the runner. After a successful
// retry, call Run again to continue from the next incomplete stage.
func (m *Manager) RetryStage(ctx context.Context, id StageID) (Status, error) {
	if _, ok := StageByID(id); !ok {
		return "", fmt.Errorf("unknown stage %s", id)
	}

	m.stateMu.Lock()
	run := m.run
	content := m.content
	if run == nil {
		m.stateMu.Unlock()
		return "", fmt.Errorf("no run to retry for session %s", m.sessionID)
	}
	if run.Status(id) != StatusError {
		status := run.Status(id)
		m.stateMu.Unlock()
		return status, fmt.Errorf("%w: stage %s is %s", ErrStageNotRetryable, id, status)
	}
	if run.RetryCount[id] >= m.opts.MaxRetries {
		m.stateMu.Unlock()
		return StatusError, fmt.Errorf("%w: stage %s used %d retries", ErrRetryBudgetExhausted, id, m.opts.MaxRetries)
	}
	run.RetryCount[id]++
	attempt := run.RetryCount[id]
	if err := run.SetStatus(id, StatusPending); err != nil {
		m.stateMu.Unlock()
		return run.Status(id), err
	}
	m.persistLocked(ctx, run)
	m.stateMu.Unlock()

	m.progress.Reset(id)
	m.logger.Info("retrying stage",
		logging.String(logging.FieldStage, string(id)),
		logging.Int("attempt", attempt))

	if err := m.executeStage(ctx, run, id, content); err != nil {
		return StatusError, err
	}
	return StatusSuccess, nil
}
