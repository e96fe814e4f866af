package pipeline

import (
	"encoding/json"
	"fmt"
)

// Stage result payloads. Stage runners produce these and the validation gate
// decodes them again before the run is announced ready.

// RosterEntry maps one story character to a synthesis voice.
type RosterEntry struct {
	CharacterID   string `json:"characterId"`
	CharacterName string `json:"characterName"`
	Category      string `json:"category,omitempty"`
	VoiceID       string `json:"voiceId"`
}

// VoicesPayload is the voice-casting stage result.
type VoicesPayload struct {
	Roster          []RosterEntry `json:"roster"`
	NarratorVoiceID string        `json:"narratorVoiceId"`
	// Derived marks rosters built from characters extracted out of the scene
	// text rather than a pre-existing cast list.
	Derived bool `json:"derived,omitempty"`
}

// EffectStatus records cache readiness for one detected sound effect.
type EffectStatus struct {
	Key         string  `json:"key"`
	Description string  `json:"description,omitempty"`
	Offset      float64 `json:"offset"`
	Ready       bool    `json:"ready"`
}

// SFXPayload is the sound-effect stage result.
type SFXPayload struct {
	Enabled bool           `json:"enabled"`
	Effects []EffectStatus `json:"effects,omitempty"`
}

// ReadyCount reports how many detected effects are cached.
func (p SFXPayload) ReadyCount() int {
	n := 0
	for _, e := range p.Effects {
		if e.Ready {
			n++
		}
	}
	return n
}

// CoverPayload is the cover-art stage result.
type CoverPayload struct {
	URL   string `json:"url,omitempty"`
	Style string `json:"style,omitempty"`
	// Degraded marks a run that continued without art because generation
	// failed and cover art is configured as best effort.
	Degraded bool   `json:"degraded,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// QAPayload is the content-review stage result.
type QAPayload struct {
	Passed   bool               `json:"passed"`
	Adjusted bool               `json:"adjusted,omitempty"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Flagged  []string           `json:"flagged,omitempty"`
	// Text is the reviewed scene text, post adjustment when one was applied.
	Text string `json:"text,omitempty"`
}

// AudioSegment describes one synthesized clip.
type AudioSegment struct {
	CharacterID string       `json:"characterId,omitempty"`
	VoiceID     string       `json:"voiceId"`
	Format      string       `json:"format"`
	DurationMs  int          `json:"durationMs"`
	Bytes       int          `json:"bytes"`
	Audio       []byte       `json:"audio,omitempty"`
	Timing      []TimingMark `json:"timing,omitempty"`
}

// TimingMark is a word-level timestamp within a synthesized clip.
type TimingMark struct {
	Word    string  `json:"word"`
	StartMs int     `json:"startMs"`
	EndMs   int     `json:"endMs"`
	Offset  float64 `json:"offset,omitempty"`
}

// AudioPayload is the speech-synthesis stage result.
type AudioPayload struct {
	Skipped  bool           `json:"skipped,omitempty"`
	Segments []AudioSegment `json:"segments,omitempty"`
}

// ChoiceNarration is one synthesized player-choice prompt.
type ChoiceNarration struct {
	ChoiceID   string `json:"choiceId"`
	VoiceID    string `json:"voiceId"`
	DurationMs int    `json:"durationMs"`
	Audio      []byte `json:"audio,omitempty"`
}

// ChoicesPayload is the optional choice-narration result.
type ChoicesPayload struct {
	Narrations []ChoiceNarration `json:"narrations,omitempty"`
}

// MarshalPayload encodes a stage payload for storage in a run.
func MarshalPayload(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode stage payload: %w", err)
	}
	return json.RawMessage(data), nil
}

// DecodePayload decodes a stored stage payload into the given target.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("stage payload missing")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode stage payload: %w", err)
	}
	return nil
}
