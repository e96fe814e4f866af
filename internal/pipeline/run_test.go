package pipeline_test

import (
	"encoding/json"
	"testing"

	"fabula/internal/pipeline"
)

func TestNewRunSeedsAllStagesPending(t *testing.T) {
	run := pipeline.NewRun("s", "scene")
	for _, id := range pipeline.StageIDs() {
		if got := run.Status(id); got != pipeline.StatusPending {
			t.Fatalf("stage %s = %s, want pending", id, got)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	run := pipeline.NewRun("s", "scene")

	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusSuccess); err == nil {
		t.Fatal("pending -> success must be rejected")
	}
	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusInProgress); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusPending); err == nil {
		t.Fatal("in_progress -> pending must be rejected")
	}
	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusError); err != nil {
		t.Fatalf("in_progress -> error: %v", err)
	}
	// Error recovers to pending only, which models an explicit retry.
	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusSuccess); err == nil {
		t.Fatal("error -> success must be rejected")
	}
	if err := run.SetStatus(pipeline.StageVoices, pipeline.StatusPending); err != nil {
		t.Fatalf("error -> pending: %v", err)
	}

	if err := run.SetStatus(pipeline.StageQA, pipeline.StatusInProgress); err != nil {
		t.Fatalf("qa pending -> in_progress: %v", err)
	}
	if err := run.SetStatus(pipeline.StageQA, pipeline.StatusSuccess); err != nil {
		t.Fatalf("qa in_progress -> success: %v", err)
	}
	// Completed stages never move.
	if err := run.SetStatus(pipeline.StageQA, pipeline.StatusPending); err == nil {
		t.Fatal("success -> pending must be rejected")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	run := pipeline.NewRun("session-1", "scene-1")
	mustSet(t, run, pipeline.StageVoices, pipeline.StatusInProgress)
	mustSet(t, run, pipeline.StageVoices, pipeline.StatusSuccess)
	run.SetResult(pipeline.StageVoices, json.RawMessage(`{"roster":[]}`))
	run.RetryCount[pipeline.StageSFX] = 1

	data, err := pipeline.EncodeRun(run)
	if err != nil {
		t.Fatalf("EncodeRun: %v", err)
	}
	restored, err := pipeline.DecodeRun(data)
	if err != nil {
		t.Fatalf("DecodeRun: %v", err)
	}
	if restored.SessionID != "session-1" || restored.SceneID != "scene-1" {
		t.Fatalf("identity = %s/%s", restored.SessionID, restored.SceneID)
	}
	if !restored.Recovered {
		t.Fatal("decoded run must be marked recovered")
	}
	if restored.Status(pipeline.StageVoices) != pipeline.StatusSuccess {
		t.Fatalf("voices = %s, want success", restored.Status(pipeline.StageVoices))
	}
	if restored.RetryCount[pipeline.StageSFX] != 1 {
		t.Fatalf("sfx retries = %d, want 1", restored.RetryCount[pipeline.StageSFX])
	}
	if string(restored.Result(pipeline.StageVoices)) != `{"roster":[]}` {
		t.Fatalf("voices payload = %s", restored.Result(pipeline.StageVoices))
	}
}

func TestDecodeResetsInterruptedStage(t *testing.T) {
	run := pipeline.NewRun("s", "scene")
	mustSet(t, run, pipeline.StageVoices, pipeline.StatusInProgress)

	data, err := pipeline.EncodeRun(run)
	if err != nil {
		t.Fatalf("EncodeRun: %v", err)
	}
	restored, err := pipeline.DecodeRun(data)
	if err != nil {
		t.Fatalf("DecodeRun: %v", err)
	}
	if got := restored.Status(pipeline.StageVoices); got != pipeline.StatusPending {
		t.Fatalf("interrupted stage restored as %s, want pending", got)
	}
}

func TestDecodeMigratesVersionOneSnapshot(t *testing.T) {
	// Version 1 predates the speech-synthesis stage.
	data := []byte(`{
		"schemaVersion": 1,
		"sessionId": "s",
		"sceneId": "scene",
		"stageStatus": {
			"voices": "success",
			"sfx": "success",
			"cover": "success",
			"qa": "pending"
		}
	}`)
	run, err := pipeline.DecodeRun(data)
	if err != nil {
		t.Fatalf("DecodeRun: %v", err)
	}
	if got := run.Status(pipeline.StageAudio); got != pipeline.StatusPending {
		t.Fatalf("audio = %s, want pending after migration", got)
	}
	if got := run.Status(pipeline.StageVoices); got != pipeline.StatusSuccess {
		t.Fatalf("voices = %s, want success", got)
	}
}

func TestDecodeRejectsUnknownVersionAndBadStatus(t *testing.T) {
	if _, err := pipeline.DecodeRun([]byte(`{"schemaVersion":99,"sessionId":"s","sceneId":"x","stageStatus":{}}`)); err == nil {
		t.Fatal("expected unknown schema version to fail")
	}
	if _, err := pipeline.DecodeRun([]byte(`{"schemaVersion":2,"sessionId":"s","sceneId":"x","stageStatus":{"voices":"bogus"}}`)); err == nil {
		t.Fatal("expected invalid status to fail")
	}
}

func mustSet(t *testing.T, run *pipeline.Run, id pipeline.StageID, to pipeline.Status) {
	t.Helper()
	if err := run.SetStatus(id, to); err != nil {
		t.Fatalf("SetStatus(%s, %s): %v", id, to, err)
	}
}
