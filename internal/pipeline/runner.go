package pipeline

import (
	"context"
	"encoding/json"
)

// Line is one attributed piece of scene text to narrate.
type Line struct {
	CharacterName string `json:"characterName,omitempty"`
	Text          string `json:"text"`
}

// Choice is one player decision offered at the end of a scene.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Content describes the scene a run generates assets for.
type Content struct {
	SceneID string `json:"sceneId"`
	// Text is the full scene narration.
	Text string `json:"text"`
	// Context carries surrounding narrative used by detection and casting.
	Context string `json:"context,omitempty"`
	// Summary seeds the cover-art prompt.
	Summary string   `json:"summary,omitempty"`
	Lines   []Line   `json:"lines,omitempty"`
	Choices []Choice `json:"choices,omitempty"`
	// SynthesizedAudio is false when the session opted out of narration;
	// the synthesis stage is then marked skipped rather than executed.
	SynthesizedAudio bool `json:"synthesizedAudio"`
}

// ProgressFunc reports stage-local progress in [0, 1] with a short message.
type ProgressFunc func(fraction float64, message string)

// StageResult is what a runner hands back on success.
type StageResult struct {
	Payload json.RawMessage
	Summary string
}

// Runner executes one stage. Run must be idempotent: re-executing after a
// crash or retry repeats external calls whose effects overwrite rather than
// accumulate.
type Runner interface {
	ID() StageID
	Run(ctx context.Context, run *Run, content Content, progress ProgressFunc) (StageResult, error)
}

// RunnerSet wires a runner per stage. Choices is optional.
type RunnerSet struct {
	Voices  Runner
	SFX     Runner
	Cover   Runner
	QA      Runner
	Audio   Runner
	Choices Runner
}

func (s RunnerSet) byID(id StageID) Runner {
	switch id {
	case StageVoices:
		return s.Voices
	case StageSFX:
		return s.SFX
	case StageCover:
		return s.Cover
	case StageQA:
		return s.QA
	case StageAudio:
		return s.Audio
	case StageChoices:
		return s.Choices
	default:
		return nil
	}
}

func (s RunnerSet) complete() bool {
	for _, st := range stageTable {
		if s.byID(st.ID) == nil {
			return false
		}
	}
	return true
}
