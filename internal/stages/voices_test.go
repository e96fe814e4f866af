package stages_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"fabula/internal/pipeline"
	"fabula/internal/services"
	"fabula/internal/services/voicecast"
	"fabula/internal/stages"
)

type stubCaster struct {
	characters []voicecast.Character
	derived    []voicecast.Character
	voices     []voicecast.Voice

	listErr   error
	deriveErr error

	deriveCalls int
	saved       []voicecast.Assignment
}

func (s *stubCaster) ListCharacters(_ context.Context, _ string) ([]voicecast.Character, error) {
	return s.characters, s.listErr
}

func (s *stubCaster) DeriveCharacters(_ context.Context, _, _ string) ([]voicecast.Character, error) {
	s.deriveCalls++
	return s.derived, s.deriveErr
}

func (s *stubCaster) ListVoices(_ context.Context) ([]voicecast.Voice, error) {
	return s.voices, nil
}

func (s *stubCaster) SaveRoster(_ context.Context, _ string, assignments []voicecast.Assignment) error {
	s.saved = assignments
	return nil
}

func noProgress(float64, string) {}

func defaultVoices() []voicecast.Voice {
	return []voicecast.Voice{
		{ID: "v-bear", Name: "Bruno", Category: "animal"},
		{ID: "v-fox", Name: "Fen", Category: "animal"},
		{ID: "v-hero", Name: "Aria", Category: "child"},
		{ID: "v-narrator", Name: "Sage", Category: "narrator", Narrator: true},
	}
}

func runVoices(t *testing.T, svc *stubCaster, content pipeline.Content) pipeline.VoicesPayload {
	t.Helper()
	runner := stages.NewVoiceCaster(svc, nil)
	run := pipeline.NewRun("session-1", content.SceneID)
	res, err := runner.Run(context.Background(), run, content, noProgress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var payload pipeline.VoicesPayload
	if err := pipeline.DecodePayload(res.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}

func TestVoiceCastingRoundRobinsWithinCategory(t *testing.T) {
	svc := &stubCaster{
		characters: []voicecast.Character{
			{ID: "c1", Name: "old bear", Category: "animal"},
			{ID: "c2", Name: "quick fox", Category: "animal"},
			{ID: "c3", Name: "tiny mouse", Category: "animal"},
			{ID: "c4", Name: "maya", Category: "child"},
		},
		voices: defaultVoices(),
	}

	payload := runVoices(t, svc, pipeline.Content{SceneID: "scene-1", Text: "..."})
	if svc.deriveCalls != 0 {
		t.Fatal("derive must not run when characters exist")
	}
	if payload.Derived {
		t.Fatal("payload wrongly marked derived")
	}

	byChar := map[string]string{}
	for _, e := range payload.Roster {
		byChar[e.CharacterID] = e.VoiceID
	}
	// Animals cycle through the two animal voices in id order; the third
	// wraps around.
	if byChar["c1"] != "v-bear" || byChar["c2"] != "v-fox" || byChar["c3"] != "v-bear" {
		t.Fatalf("animal assignment = %+v", byChar)
	}
	if byChar["c4"] != "v-hero" {
		t.Fatalf("child assignment = %q, want v-hero", byChar["c4"])
	}
	if payload.NarratorVoiceID != "v-narrator" {
		t.Fatalf("narrator = %q", payload.NarratorVoiceID)
	}
	if len(svc.saved) != 4 {
		t.Fatalf("saved %d assignments, want 4", len(svc.saved))
	}
}

func TestVoiceCastingIsDeterministic(t *testing.T) {
	chars := []voicecast.Character{
		{ID: "c2", Name: "fox", Category: "animal"},
		{ID: "c1", Name: "bear", Category: "animal"},
	}
	shuffled := []voicecast.Character{chars[1], chars[0]}

	first := runVoices(t, &stubCaster{characters: chars, voices: defaultVoices()},
		pipeline.Content{SceneID: "s", Text: "..."})
	second := runVoices(t, &stubCaster{characters: shuffled, voices: defaultVoices()},
		pipeline.Content{SceneID: "s", Text: "..."})

	if !reflect.DeepEqual(first.Roster, second.Roster) {
		t.Fatalf("order-dependent roster:\n%+v\n%+v", first.Roster, second.Roster)
	}
}

func TestVoiceCastingDerivesWhenCastListEmpty(t *testing.T) {
	svc := &stubCaster{
		derived: []voicecast.Character{{ID: "c1", Name: "river spirit", Category: "spirit"}},
		voices:  defaultVoices(),
	}

	payload := runVoices(t, svc, pipeline.Content{SceneID: "s", Text: "A river spirit rose."})
	if svc.deriveCalls != 1 {
		t.Fatalf("derive called %d times, want 1", svc.deriveCalls)
	}
	if !payload.Derived {
		t.Fatal("payload must be marked derived")
	}
	// No spirit voices exist, so the character falls back to the narrator.
	if payload.Roster[0].VoiceID != "v-narrator" {
		t.Fatalf("fallback voice = %q, want narrator", payload.Roster[0].VoiceID)
	}
	// Derived names are normalized for display.
	if payload.Roster[0].CharacterName != "River Spirit" {
		t.Fatalf("display name = %q", payload.Roster[0].CharacterName)
	}
}

func TestVoiceCastingFailsWithoutCharacters(t *testing.T) {
	svc := &stubCaster{voices: defaultVoices()}
	runner := stages.NewVoiceCaster(svc, nil)
	run := pipeline.NewRun("s", "scene")

	_, err := runner.Run(context.Background(), run, pipeline.Content{Text: "..."}, noProgress)
	if err == nil {
		t.Fatal("expected failure for empty cast")
	}
	if services.Retryable(err) {
		t.Fatal("empty cast must not be retryable")
	}
}

func TestVoiceCastingPropagatesServiceErrors(t *testing.T) {
	svc := &stubCaster{listErr: errors.New("casting service down")}
	runner := stages.NewVoiceCaster(svc, nil)
	run := pipeline.NewRun("s", "scene")

	if _, err := runner.Run(context.Background(), run, pipeline.Content{Text: "..."}, noProgress); err == nil {
		t.Fatal("expected error")
	}
}
