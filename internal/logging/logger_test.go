package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"fabula/internal/services"
)

func TestConsoleHandlerFormatsLine(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl)).With(String(FieldComponent, "pipeline"))

	logger.Info("stage started", String("stage", "voices"), Int("attempt", 1))

	line := buf.String()
	for _, fragment := range []string{"INFO", "pipeline: stage started", "stage=voices", "attempt=1"} {
		if !strings.Contains(line, fragment) {
			t.Fatalf("expected %q in output %q", fragment, line)
		}
	}
}

func TestConsoleHandlerQuotesValues(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("msg", String("message", "two words"))
	if !strings.Contains(buf.String(), `message="two words"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed at warn level, got %q", buf.String())
	}
	logger.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected warn line, got %q", buf.String())
	}
}

func TestWithContextAttachesSessionFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	ctx := services.WithSessionID(context.Background(), "sess-9")
	ctx = services.WithStage(ctx, "qa")
	WithContext(ctx, logger).Info("checking")

	line := buf.String()
	if !strings.Contains(line, "session_id=sess-9") || !strings.Contains(line, "stage=qa") {
		t.Fatalf("expected context fields in %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("ignored", Error(nil))
}
