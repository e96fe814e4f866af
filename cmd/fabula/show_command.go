package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show per-stage detail for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			rep, err := client.session(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintf(out, "Session:     %s\n", rep.SessionID)
			fmt.Fprintf(out, "Scene:       %s\n", rep.SceneID)
			fmt.Fprintf(out, "State:       %s\n", sessionState(rep, colorize))
			fmt.Fprintf(out, "Recovered:   %s\n", yesNo(rep.Recovered))
			fmt.Fprintf(out, "Ready acked: %s\n", yesNo(rep.ReadyAcked))
			fmt.Fprintf(out, "Started:     %s\n", formatStartTime(rep.StartTime))

			if len(rep.Stages) == 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "No stage activity yet.")
				return nil
			}

			rows := make([][]string, 0, len(rep.Stages))
			for _, id := range stageOrder(rep.Stages) {
				sr := rep.Stages[id]
				rows = append(rows, []string{
					string(id),
					colorizeStatus(sr.Status, colorize),
					strconv.Itoa(sr.Retries),
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable([]string{"Stage", "Status", "Retries"}, rows, 2))
			return nil
		},
	}
}
