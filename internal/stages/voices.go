package stages

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"fabula/internal/logging"
	"fabula/internal/pipeline"
	"fabula/internal/services"
	"fabula/internal/services/voicecast"
)

// CharacterCaster is the casting-service surface the voices stage needs.
type CharacterCaster interface {
	ListCharacters(ctx context.Context, sessionID string) ([]voicecast.Character, error)
	DeriveCharacters(ctx context.Context, sessionID, sceneText string) ([]voicecast.Character, error)
	ListVoices(ctx context.Context) ([]voicecast.Voice, error)
	SaveRoster(ctx context.Context, sessionID string, assignments []voicecast.Assignment) error
}

// VoiceCaster builds the character-to-voice roster for a scene. When the
// session has no cast list yet, characters are derived from the scene text
// first. Assignment is deterministic, so a retried stage produces the same
// roster and the wholesale SaveRoster overwrite keeps re-runs idempotent.
type VoiceCaster struct {
	svc    CharacterCaster
	logger *slog.Logger
}

// NewVoiceCaster wires the voices stage.
func NewVoiceCaster(svc CharacterCaster, logger *slog.Logger) *VoiceCaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &VoiceCaster{svc: svc, logger: logger}
}

func (s *VoiceCaster) ID() pipeline.StageID { return pipeline.StageVoices }

func (s *VoiceCaster) Run(ctx context.Context, run *pipeline.Run, content pipeline.Content, progress pipeline.ProgressFunc) (pipeline.StageResult, error) {
	progress(0, "Loading characters")
	characters, err := s.svc.ListCharacters(ctx, run.SessionID)
	if err != nil {
		return pipeline.StageResult{}, err
	}

	derived := false
	if len(characters) == 0 {
		progress(0.25, "Deriving characters from scene")
		characters, err = s.svc.DeriveCharacters(ctx, run.SessionID, content.Text)
		if err != nil {
			return pipeline.StageResult{}, err
		}
		derived = true
	}
	if len(characters) == 0 {
		return pipeline.StageResult{}, services.Wrap(services.ErrValidation, "voices", "derive",
			"scene yields no narratable characters", nil)
	}

	progress(0.5, "Loading voice catalog")
	voices, err := s.svc.ListVoices(ctx)
	if err != nil {
		return pipeline.StageResult{}, err
	}
	if len(voices) == 0 {
		return pipeline.StageResult{}, services.Wrap(services.ErrExternalService, "voices", "voices",
			"voice catalog is empty", nil)
	}

	roster, narratorID := castRoster(characters, voices)

	progress(0.8, "Saving roster")
	assignments := make([]voicecast.Assignment, len(roster))
	for i, entry := range roster {
		assignments[i] = voicecast.Assignment{CharacterID: entry.CharacterID, VoiceID: entry.VoiceID}
	}
	if err := s.svc.SaveRoster(ctx, run.SessionID, assignments); err != nil {
		return pipeline.StageResult{}, err
	}

	payload, err := pipeline.MarshalPayload(pipeline.VoicesPayload{
		Roster:          roster,
		NarratorVoiceID: narratorID,
		Derived:         derived,
	})
	if err != nil {
		return pipeline.StageResult{}, err
	}
	s.logger.Info("roster saved",
		logging.Int("characters", len(roster)),
		logging.Bool("derived", derived))
	progress(1, "Roster saved")
	return pipeline.StageResult{
		Payload: payload,
		Summary: pluralize(len(roster), "character") + " cast",
	}, nil
}

// castRoster assigns voices round-robin within matching categories. Both
// sides are sorted by id first so the assignment is stable across retries.
// Characters with no category match fall back to the narrator voice, which
// the validation gate later surfaces as a diversity warning.
func castRoster(characters []voicecast.Character, voices []voicecast.Voice) ([]pipeline.RosterEntry, string) {
	chars := make([]voicecast.Character, len(characters))
	copy(chars, characters)
	sort.Slice(chars, func(i, j int) bool { return chars[i].ID < chars[j].ID })

	pool := make(map[string][]voicecast.Voice)
	ordered := make([]voicecast.Voice, len(voices))
	copy(ordered, voices)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, v := range ordered {
		key := normalizeCategory(v.Category)
		pool[key] = append(pool[key], v)
	}

	narratorID := ordered[0].ID
	for _, v := range ordered {
		if v.Narrator {
			narratorID = v.ID
			break
		}
	}

	titler := cases.Title(language.English)
	counters := make(map[string]int)
	roster := make([]pipeline.RosterEntry, 0, len(chars))
	for _, ch := range chars {
		key := normalizeCategory(ch.Category)
		voiceID := narratorID
		if candidates := pool[key]; len(candidates) > 0 {
			voiceID = candidates[counters[key]%len(candidates)].ID
			counters[key]++
		}
		roster = append(roster, pipeline.RosterEntry{
			CharacterID:   ch.ID,
			CharacterName: titler.String(strings.TrimSpace(ch.Name)),
			Category:      key,
			VoiceID:       voiceID,
		})
	}
	return roster, narratorID
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
