package stages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
	"fabula/internal/services"
	"fabula/internal/services/synth"
)

// SpeechSynthesizer is the synthesis-service surface the audio stages need.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (synth.Clip, error)
}

// Narrator synthesizes the scene audio using the roster cast earlier in the
// run. Attributed lines use their character's voice; everything else falls
// back to the narrator voice. When the qa stage adjusted the scene text the
// adjusted version is what gets narrated.
type Narrator struct {
	svc    SpeechSynthesizer
	logger *slog.Logger
}

// NewNarrator wires the audio stage.
func NewNarrator(svc SpeechSynthesizer, logger *slog.Logger) *Narrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Narrator{svc: svc, logger: logger}
}

func (s *Narrator) ID() pipeline.StageID { return pipeline.StageAudio }

func (s *Narrator) Run(ctx context.Context, run *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	progress(0, "Preparing narration")
	voices, err := decodeRoster(run)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	lines := narrationLines(run, content)
	if len(lines) == 0 {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "audio", "synthesize",
			"scene has no text to narrate", nil)
	}

	byName := make(map[string]string, len(voices.Roster))
	for _, entry := range voices.Roster {
		byName[strings.ToLower(entry.CharacterName)] = entry.VoiceID
	}

	segments := make([]pipeline.AudioSegment, 0, len(lines))
	for i, line := range lines {
		voiceID := voices.NarratorVoiceID
		characterID := ""
		if line.CharacterName != "" {
			if id, ok := byName[strings.ToLower(line.CharacterName)]; ok {
				voiceID = id
				characterID = line.CharacterName
			}
		}
		clip, err := s.svc.Synthesize(ctx, line.Text, voiceID)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		segments = append(segments, pipeline.AudioSegment{
			CharacterID: characterID,
			VoiceID:     voiceID,
			Format:      clip.Format,
			DurationMs:  clip.DurationMs,
			Bytes:       len(clip.Audio),
			Audio:       clip.Audio,
			Timing:      convertTiming(clip.Timing),
		})
		progress(float64(i+1)/float64(len(lines)), fmt.Sprintf("Synthesized %d/%d segments", i+1, len(lines)))
	}

	payload, err := pipeline.MarshalPayload(pipeline.AudioPayload{Segments: segments})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	s.logger.Info("scene audio synthesized", logging.Int("segments", len(segments)))
	return pipeline.StageResult{
		Payload: payload,
		Summary: pluralize(len(segments), "segment") + " synthesized",
	}, nil
}

func decodeRoster(run *pipeline.Run) (pipeline.VoicesPayload, error) {
	var voices pipeline.VoicesPayload
	raw := run.Result(pipeline.StageVoices)
	if raw == nil {
		return voices, services.Wrap(services.ErrValidation, "audio", "roster",
			"voice roster is missing from the run", nil)
	}
	if err := pipeline.DecodePayload(raw, &voices); err != nil {
		return voices, err
	}
	if voices.NarratorVoiceID == "" {
		return voices, services.Wrap(services.ErrValidation, "audio", "roster",
			"roster has no narrator voice", nil)
	}
	return voices, nil
}

// narrationLines prefers attributed lines, falling back to the whole scene
// text as one narrator segment. Text adjusted during review replaces the
// original only in the single-segment fallback, where the substitution is
// unambiguous.
func narrationLines(run *pipeline.Run, content pipeline.Content) []pipeline.Line {
	if len(content.Lines) > 0 {
		return content.Lines
	}
	text := strings.TrimSpace(content.Text)
	if raw := run.Result(pipeline.StageQA); raw != nil {
		var qa pipeline.QAPayload
		if err := pipeline.DecodePayload(raw, &qa); err == nil && qa.Adjusted && strings.TrimSpace(qa.Text) != "" {
			text = strings.TrimSpace(qa.Text)
		}
	}
	if text == "" {
		return nil
	}
	return []pipeline.Line{{Text: text}}
}

func convertTiming(marks []synth.TimingMark) []pipeline.TimingMark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]pipeline.TimingMark, len(marks))
	for i, m := range marks {
		out[i] = pipeline.TimingMark{Word: m.Word, StartMs: m.StartMs, EndMs: m.EndMs, Offset: m.Offset}
	}
	return out
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
