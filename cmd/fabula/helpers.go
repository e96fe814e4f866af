package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"fabula/internal/pipeline"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiDim    = "\x1b[2m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorizeStatus(status pipeline.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	switch status {
	case pipeline.StatusSuccess:
		return ansiGreen + label + ansiReset
	case pipeline.StatusError:
		return ansiRed + label + ansiReset
	case pipeline.StatusInProgress:
		return ansiYellow + label + ansiReset
	default:
		return ansiDim + label + ansiReset
	}
}

func sessionState(rep pipeline.Report, colorize bool) string {
	label, color := "idle", ansiDim
	switch {
	case rep.Running:
		label, color = "running", ansiYellow
	case rep.Cancelled:
		label, color = "cancelled", ansiRed
	case rep.ReadyAcked:
		label, color = "ready", ansiGreen
	}
	if !colorize {
		return label
	}
	return color + label + ansiReset
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

// stageOrder lists pipeline stages in display order, tracked stages first.
func stageOrder(stages map[pipeline.StageID]pipeline.StageReport) []pipeline.StageID {
	preferred := []pipeline.StageID{
		pipeline.StageVoices,
		pipeline.StageSFX,
		pipeline.StageCover,
		pipeline.StageQA,
		pipeline.StageAudio,
	}
	seen := make(map[pipeline.StageID]bool, len(preferred))
	ordered := make([]pipeline.StageID, 0, len(stages))
	for _, id := range preferred {
		if _, ok := stages[id]; ok {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	var rest []pipeline.StageID
	for id := range stages {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(ordered, rest...)
}

func formatStartTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func summarizeStages(rep pipeline.Report) string {
	if len(rep.Stages) == 0 {
		return "-"
	}
	var done, failed int
	for _, sr := range rep.Stages {
		switch sr.Status {
		case pipeline.StatusSuccess:
			done++
		case pipeline.StatusError:
			failed++
		}
	}
	parts := []string{fmt.Sprintf("%d/%d done", done, len(rep.Stages))}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	return strings.Join(parts, ", ")
}
