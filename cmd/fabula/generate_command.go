package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"fabula/internal/pipeline"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var contentPath string
	var noAudio bool

	cmd := &cobra.Command{
		Use:   "generate <session-id>",
		Short: "Start scene generation for a session",
		Long: "Starts the generation pipeline for a session. Scene content is read\n" +
			"as JSON from --content, or from stdin when the flag is omitted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			content, err := readContent(contentPath, cmd.InOrStdin(), cfg.Pipeline.SynthesizedAudio)
			if err != nil {
				return err
			}
			if noAudio {
				content.SynthesizedAudio = false
			}

			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.generate(args[0], content); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generation started for session %s (scene %s)\n", args[0], content.SceneID)
			fmt.Fprintf(out, "Follow progress with `fabula watch %s`\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&contentPath, "content", "f", "", "Path to the scene content JSON (defaults to stdin)")
	cmd.Flags().BoolVar(&noAudio, "no-audio", false, "Skip speech synthesis for this scene")
	return cmd
}

// readContent parses scene content JSON. Documents that do not state an
// audio preference inherit defaultAudio from the configuration.
func readContent(path string, stdin io.Reader, defaultAudio bool) (pipeline.Content, error) {
	var doc struct {
		pipeline.Content
		SynthesizedAudio *bool `json:"synthesizedAudio"`
	}

	var reader io.Reader
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		file, err := os.Open(trimmed)
		if err != nil {
			return pipeline.Content{}, fmt.Errorf("open content file: %w", err)
		}
		defer file.Close()
		reader = file
	} else {
		reader = stdin
	}

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return pipeline.Content{}, fmt.Errorf("parse scene content: %w", err)
	}

	content := doc.Content
	if doc.SynthesizedAudio != nil {
		content.SynthesizedAudio = *doc.SynthesizedAudio
	} else {
		content.SynthesizedAudio = defaultAudio
	}
	if strings.TrimSpace(content.SceneID) == "" {
		return content, errors.New("scene content is missing sceneId")
	}
	if strings.TrimSpace(content.Text) == "" && len(content.Lines) == 0 {
		return content, errors.New("scene content needs text or lines")
	}
	return content, nil
}
