package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fabula/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Stream pipeline events for a session",
		Long: "Streams pipeline events for a session as they happen. By default the\n" +
			"stream closes after a terminal event; --follow keeps it open.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			return client.streamEvents(args[0], func(evt events.Event) bool {
				printEvent(out, evt, colorize)
				if follow {
					return true
				}
				return evt.Type != events.TypePipelineReady && evt.Type != events.TypePipelineError
			})
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "Keep streaming after a terminal event")
	return cmd
}

func printEvent(out io.Writer, evt events.Event, colorize bool) {
	stamp := evt.Timestamp.Local().Format("15:04:05")
	label := string(evt.Type)
	if colorize {
		switch evt.Type {
		case events.TypePipelineReady:
			label = ansiGreen + label + ansiReset
		case events.TypePipelineError:
			label = ansiRed + label + ansiReset
		case events.TypeStageProgress:
			label = ansiDim + label + ansiReset
		}
	}
	fmt.Fprintf(out, "%s  %-18s %s\n", stamp, label, eventDetail(evt))
}

func eventDetail(evt events.Event) string {
	if len(evt.Payload) == 0 {
		return ""
	}
	switch evt.Type {
	case events.TypeStageUpdate:
		detail := fmt.Sprintf("%v: %v", evt.Payload["stage"], evt.Payload["status"])
		if msg, ok := evt.Payload["error"].(string); ok && msg != "" {
			detail += " (" + msg + ")"
		}
		return detail
	case events.TypeStageProgress:
		detail := fmt.Sprintf("%v %v%%", evt.Payload["stage"], evt.Payload["percent"])
		if msg, ok := evt.Payload["message"].(string); ok && msg != "" {
			detail += " " + msg
		}
		return detail
	case events.TypeValidationResult:
		return fmt.Sprintf("passed=%v", evt.Payload["passed"])
	case events.TypePipelineReady:
		if retry, ok := evt.Payload["isRetry"].(bool); ok && retry {
			return "scene ready (re-sent)"
		}
		return "scene ready"
	case events.TypePipelineError:
		detail, _ := evt.Payload["message"].(string)
		if stage, ok := evt.Payload["stage"].(string); ok && stage != "" {
			detail = stage + ": " + detail
		}
		return detail
	}
	return ""
}
