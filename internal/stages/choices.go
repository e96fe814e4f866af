package stages

import (
	"context"
	"log/slog"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
)

// ChoiceNarrator synthesizes the player-choice prompts with the narrator
// voice. The pipeline treats this pass as best effort.
type ChoiceNarrator struct {
	svc    SpeechSynthesizer
	logger *slog.Logger
}

// NewChoiceNarrator wires the choice-narration pass.
func NewChoiceNarrator(svc SpeechSynthesizer, logger *slog.Logger) *ChoiceNarrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ChoiceNarrator{svc: svc, logger: logger}
}

func (s *ChoiceNarrator) ID() pipeline.StageID { return pipeline.StageChoices }

func (s *ChoiceNarrator) Run(ctx context.Context, run *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	voices, err := decodeRoster(run)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	narrations := make([]pipeline.ChoiceNarration, 0, len(content.Choices))
	for i, choice := range content.Choices {
		clip, err := s.svc.Synthesize(ctx, choice.Label, voices.NarratorVoiceID)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		narrations = append(narrations, pipeline.ChoiceNarration{
			ChoiceID:   choice.ID,
			VoiceID:    voices.NarratorVoiceID,
			DurationMs: clip.DurationMs,
			Audio:      clip.Audio,
		})
		progress(float64(i+1)/float64(len(content.Choices)), "Narrating choices")
	}

	payload, err := pipeline.MarshalPayload(pipeline.ChoicesPayload{Narrations: narrations})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	s.logger.Info("choices narrated", logging.Int("choices", len(narrations)))
	return pipeline.StageResult{
		Payload: payload,
		Summary: pluralize(len(narrations), "choice") + " narrated",
	}, nil
}
