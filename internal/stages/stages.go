// Package stages implements the generation pipeline's stage runners on top
// of the external service clients.
package stages

import (
	"log/slog"

	"fabula/internal/config"
	"fabula/internal/pipeline"
	"fabula/internal/services/coverart"
	"fabula/internal/services/safety"
	"fabula/internal/services/sfx"
	"fabula/internal/services/synth"
	"fabula/internal/services/voicecast"
)

// NewRunnerSet builds the full stage roster from daemon configuration. The
// clients are stateless, so one set can serve every session.
func NewRunnerSet(cfg *config.Config, logger *slog.Logger) pipeline.RunnerSet {
	synthClient := synth.New(cfg.Services.Synth)
	return pipeline.RunnerSet{
		Voices:  NewVoiceCaster(voicecast.New(cfg.Services.VoiceCast), logger),
		SFX:     NewEffectPlanner(sfx.New(cfg.Services.SoundFX), cfg.Pipeline.SoundEffects, logger),
		Cover:   NewCoverArtist(coverart.New(cfg.Services.CoverArt), cfg.Pipeline.CoverArtRequired, logger),
		QA:      NewContentReviewer(safety.New(cfg.Services.Safety), cfg.Services.Safety.Style, logger),
		Audio:   NewNarrator(synthClient, logger),
		Choices: NewChoiceNarrator(synthClient, logger),
	}
}
