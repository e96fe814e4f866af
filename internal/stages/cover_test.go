package stages_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"fabula/internal/pipeline"
	"fabula/internal/stages"
)

type stubCoverGen struct {
	url     string
	err     error
	prompts []string
}

func (s *stubCoverGen) Generate(_ context.Context, prompt, _ string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.url, s.err
}

func (s *stubCoverGen) Style() string { return "storybook" }

func TestCoverArtistGeneratesFromSummary(t *testing.T) {
	svc := &stubCoverGen{url: "https://img.example/cover.png"}
	runner := stages.NewCoverArtist(svc, true, nil)
	run := pipeline.NewRun("s", "scene")

	res, err := runner.Run(context.Background(), run, pipeline.Content{
		Summary: "A fox explores a moonlit forest",
		Text:    "Long scene text...",
	}, noProgress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var payload pipeline.CoverPayload
	if err := pipeline.DecodePayload(res.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.URL != "https://img.example/cover.png" || payload.Style != "storybook" {
		t.Fatalf("payload = %+v", payload)
	}
	if svc.prompts[0] != "A fox explores a moonlit forest" {
		t.Fatalf("prompt = %q", svc.prompts[0])
	}
}

func TestCoverArtistTruncatesLongPromptAtWordBoundary(t *testing.T) {
	svc := &stubCoverGen{url: "https://img.example/cover.png"}
	runner := stages.NewCoverArtist(svc, true, nil)
	run := pipeline.NewRun("s", "scene")

	long := strings.Repeat("moonlit forest clearing ", 30)
	if _, err := runner.Run(context.Background(), run, pipeline.Content{Text: long}, noProgress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	prompt := svc.prompts[0]
	if len(prompt) > 280 {
		t.Fatalf("prompt length = %d, want <= 280", len(prompt))
	}
	if !strings.HasPrefix(long, prompt) {
		t.Fatalf("prompt is not a prefix of the scene text: %q", prompt)
	}
	if long[len(prompt)] != ' ' {
		t.Fatalf("prompt cut mid-word: %q", prompt)
	}
}

func TestCoverArtistRequiredFailurePropagates(t *testing.T) {
	runner := stages.NewCoverArtist(&stubCoverGen{err: errors.New("image service down")}, true, nil)
	run := pipeline.NewRun("s", "scene")
	if _, err := runner.Run(context.Background(), run, pipeline.Content{Text: "..."}, noProgress); err == nil {
		t.Fatal("expected failure when cover art is required")
	}
}

func TestCoverArtistBestEffortDegrades(t *testing.T) {
	runner := stages.NewCoverArtist(&stubCoverGen{err: errors.New("image service down")}, false, nil)
	run := pipeline.NewRun("s", "scene")

	res, err := runner.Run(context.Background(), run, pipeline.Content{Text: "..."}, noProgress)
	if err != nil {
		t.Fatalf("best-effort cover must not fail the stage: %v", err)
	}
	var payload pipeline.CoverPayload
	if err := pipeline.DecodePayload(res.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.Degraded || payload.URL != "" {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Reason == "" {
		t.Fatal("degraded payload must record the reason")
	}
}

func TestCoverArtistReportsEntryProgress(t *testing.T) {
	svc := &stubCoverGen{url: "https://img.example/cover.png"}
	runner := stages.NewCoverArtist(svc, true, nil)
	run := pipeline.NewRun("s", "scene")

	var fractions []float64
	record := func(fraction float64, _ string) { fractions = append(fractions, fraction) }
	if _, err := runner.Run(context.Background(), run, pipeline.Content{Text: "A quiet clearing."}, record); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fractions) == 0 || fractions[0] != 0 {
		t.Fatalf("progress fractions = %v, want first emission at 0", fractions)
	}
	if fractions[len(fractions)-1] != 1 {
		t.Fatalf("progress fractions = %v, want final emission at 1", fractions)
	}
}

func TestCoverArtistTruncationKeepsValidUTF8(t *testing.T) {
	svc := &stubCoverGen{url: "https://img.example/cover.png"}
	runner := stages.NewCoverArtist(svc, true, nil)
	run := pipeline.NewRun("s", "scene")

	// No spaces anywhere, every rune multi-byte, so the word-boundary scan
	// finds nothing and the cut falls back to the length limit.
	long := strings.Repeat("森", 150)
	if _, err := runner.Run(context.Background(), run, pipeline.Content{Text: long}, noProgress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	prompt := svc.prompts[0]
	if len(prompt) == 0 || len(prompt) > 280 {
		t.Fatalf("prompt length = %d, want 1..280", len(prompt))
	}
	if !utf8.ValidString(prompt) {
		t.Fatalf("prompt is not valid UTF-8: %q", prompt)
	}
	if !strings.HasPrefix(long, prompt) {
		t.Fatalf("prompt is not a prefix of the scene text: %q", prompt)
	}
}
