package stages

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
)

// CoverGenerator is the cover-art service surface the cover stage needs.
type CoverGenerator interface {
	Generate(ctx context.Context, prompt, style string) (string, error)
	Style() string
}

// CoverArtist generates a scene illustration. When cover art is configured
// as best effort, a generation failure degrades the result instead of
// failing the stage; the validation gate reports the degradation as a
// warning.
type CoverArtist struct {
	svc      CoverGenerator
	required bool
	logger   *slog.Logger
}

// NewCoverArtist wires the cover stage.
func NewCoverArtist(svc CoverGenerator, required bool, logger *slog.Logger) *CoverArtist {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CoverArtist{svc: svc, required: required, logger: logger}
}

func (s *CoverArtist) ID() pipeline.StageID { return pipeline.StageCover }

func (s *CoverArtist) Run(ctx context.Context, _ *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	progress(0, "Preparing cover prompt")
	prompt := coverPrompt(content)
	progress(0.1, "Generating cover art")

	url, err := s.svc.Generate(ctx, prompt, s.svc.Style())
	if err != nil {
		if s.required {
			return pipeline.StageResult{}, err
		}
		s.logger.Warn("continuing without cover art", logging.Error(err))
		payload, mErr := pipeline.MarshalPayload(pipeline.CoverPayload{
			Degraded: true,
			Reason:   err.Error(),
		})
		if mErr != nil {
			return pipeline.StageResult{}, mErr
		}
		progress(1, "Cover art skipped")
		return pipeline.StageResult{Payload: payload, Summary: "cover art degraded"}, nil
	}

	payload, err := pipeline.MarshalPayload(pipeline.CoverPayload{URL: url, Style: s.svc.Style()})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	progress(1, "Cover art ready")
	return pipeline.StageResult{Payload: payload, Summary: "cover art generated"}, nil
}

const coverPromptLimit = 280

// coverPrompt prefers the scene summary and falls back to a prefix of the
// scene text, cut at a word boundary.
func coverPrompt(content pipeline.Content) string {
	prompt := strings.TrimSpace(content.Summary)
	if prompt == "" {
		prompt = strings.TrimSpace(content.Text)
	}
	if len(prompt) <= coverPromptLimit {
		return prompt
	}
	cut := coverPromptLimit
	for cut > 0 && !unicode.IsSpace(rune(prompt[cut])) {
		cut--
	}
	if cut == 0 {
		// No space in the window; back the cut off to a rune boundary so
		// the prompt stays valid UTF-8.
		cut = coverPromptLimit
		for cut > 0 && !utf8.RuneStart(prompt[cut]) {
			cut--
		}
	}
	return strings.TrimSpace(prompt[:cut])
}
