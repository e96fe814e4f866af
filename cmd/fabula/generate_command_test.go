package main

import (
	"strings"
	"testing"
)

func TestReadContentAudioDefault(t *testing.T) {
	content, err := readContent("", strings.NewReader(`{"sceneId":"s1","text":"hello"}`), true)
	if err != nil {
		t.Fatalf("readContent: %v", err)
	}
	if !content.SynthesizedAudio {
		t.Fatal("omitted preference should inherit the configured default")
	}

	content, err = readContent("", strings.NewReader(`{"sceneId":"s1","text":"hello","synthesizedAudio":false}`), true)
	if err != nil {
		t.Fatalf("readContent: %v", err)
	}
	if content.SynthesizedAudio {
		t.Fatal("explicit opt-out must win over the default")
	}
}

func TestReadContentRejectsIncompleteDocuments(t *testing.T) {
	if _, err := readContent("", strings.NewReader(`{"text":"hello"}`), true); err == nil {
		t.Fatal("expected error for missing sceneId")
	}
	if _, err := readContent("", strings.NewReader(`{"sceneId":"s1"}`), true); err == nil {
		t.Fatal("expected error for missing text and lines")
	}
	if _, err := readContent("", strings.NewReader(`{"sceneId":"s1","text":"x","bogus":1}`), true); err == nil {
		t.Fatal("expected error for unknown fields")
	}
}

func TestReadContentFromFile(t *testing.T) {
	path := writeContentFile(t, `{"sceneId":"s2","lines":[{"characterName":"Bear","text":"Hi."}]}`)
	content, err := readContent(path, nil, false)
	if err != nil {
		t.Fatalf("readContent: %v", err)
	}
	if content.SceneID != "s2" || len(content.Lines) != 1 {
		t.Fatalf("unexpected content: %+v", content)
	}
}
