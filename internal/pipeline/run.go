package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Run tracks the mutable state of one generation run. A Run is owned by a
// single Manager and is not safe for concurrent mutation outside of it.
type Run struct {
	SessionID  string
	SceneID    string
	StartTime  time.Time
	Statuses   map[StageID]Status
	Results    map[StageID]json.RawMessage
	RetryCount map[StageID]int
	Recovered  bool
}

// NewRun initializes run state with every stage pending.
func NewRun(sessionID, sceneID string) *Run {
	r := &Run{
		SessionID:  sessionID,
		SceneID:    sceneID,
		StartTime:  time.Now().UTC(),
		Statuses:   make(map[StageID]Status, len(stageTable)),
		Results:    make(map[StageID]json.RawMessage),
		RetryCount: make(map[StageID]int, len(stageTable)),
	}
	for _, st := range stageTable {
		r.Statuses[st.ID] = StatusPending
	}
	return r
}

// Status returns the current status of a stage.
func (r *Run) Status(id StageID) Status {
	return r.Statuses[id]
}

// SetStatus applies a status change, enforcing the stage lifecycle.
func (r *Run) SetStatus(id StageID, to Status) error {
	from, ok := r.Statuses[id]
	if !ok {
		return fmt.Errorf("unknown stage %s", id)
	}
	if !transition(from, to) {
		return invalidTransitionError(id, from, to)
	}
	r.Statuses[id] = to
	return nil
}

// SetResult stores a stage's result payload.
func (r *Run) SetResult(id StageID, payload json.RawMessage) {
	r.Results[id] = payload
}

// Result returns a stage's stored payload, nil when absent.
func (r *Run) Result(id StageID) json.RawMessage {
	return r.Results[id]
}

// Completed reports whether a stage already finished successfully.
func (r *Run) Completed(id StageID) bool {
	return r.Statuses[id] == StatusSuccess
}

// Failed reports whether any tracked stage is in error.
func (r *Run) Failed() (StageID, bool) {
	for _, st := range stageTable {
		if r.Statuses[st.ID] == StatusError {
			return st.ID, true
		}
	}
	return "", false
}

// snapshotSchemaVersion is bumped whenever the persisted run shape changes.
// Version 1 predates the speech-synthesis stage; decoding migrates those
// snapshots by adding the missing stage as pending.
const snapshotSchemaVersion = 2

// SnapshotSchemaVersion exposes the current persisted-run schema version.
func SnapshotSchemaVersion() int { return snapshotSchemaVersion }

type runSnapshot struct {
	SchemaVersion int                         `json:"schemaVersion"`
	SessionID     string                      `json:"sessionId"`
	SceneID       string                      `json:"sceneId"`
	StartTime     time.Time                   `json:"startTime"`
	StageStatus   map[StageID]Status          `json:"stageStatus"`
	StageResult   map[StageID]json.RawMessage `json:"stageResult,omitempty"`
	RetryCount    map[StageID]int             `json:"retryCount,omitempty"`
}

// EncodeRun serializes run state for the snapshot store.
func EncodeRun(r *Run) ([]byte, error) {
	snap := runSnapshot{
		SchemaVersion: snapshotSchemaVersion,
		SessionID:     r.SessionID,
		SceneID:       r.SceneID,
		StartTime:     r.StartTime,
		StageStatus:   r.Statuses,
		StageResult:   r.Results,
		RetryCount:    r.RetryCount,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode run snapshot: %w", err)
	}
	return data, nil
}

// DecodeRun restores run state from a stored snapshot, migrating older
// schema versions forward. Stages recorded as in_progress are reset to
// pending so an interrupted stage simply runs again.
func DecodeRun(data []byte) (*Run, error) {
	var snap runSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode run snapshot: %w", err)
	}
	if snap.SchemaVersion < 1 || snap.SchemaVersion > snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", snap.SchemaVersion)
	}

	r := NewRun(snap.SessionID, snap.SceneID)
	if !snap.StartTime.IsZero() {
		r.StartTime = snap.StartTime
	}
	r.Recovered = true

	for id, status := range snap.StageStatus {
		if _, ok := StageByID(id); !ok {
			continue
		}
		if !validStatus(status) {
			return nil, fmt.Errorf("snapshot holds invalid status %q for stage %s", status, id)
		}
		if status == StatusInProgress {
			status = StatusPending
		}
		r.Statuses[id] = status
	}
	for id, payload := range snap.StageResult {
		r.Results[id] = payload
	}
	for id, count := range snap.RetryCount {
		r.RetryCount[id] = count
	}

	// Version 1 snapshots carry no audio stage; NewRun already seeded it as
	// pending, so nothing else is needed for that migration.
	return r, nil
}
