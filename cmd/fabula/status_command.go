package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			st, err := client.status()
			if err != nil {
				return err
			}
			reports, err := client.sessions()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintf(out, "Daemon running:   %s\n", yesNo(st.Running))
			fmt.Fprintf(out, "Active sessions:  %d\n", st.ActiveSessions)
			fmt.Fprintf(out, "Known sessions:   %d\n", st.KnownSessions)
			fmt.Fprintf(out, "Snapshot store:   %s\n", st.SnapshotDBPath)

			if len(reports) == 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "No sessions.")
				return nil
			}

			rows := make([][]string, 0, len(reports))
			for _, rep := range reports {
				rows = append(rows, []string{
					rep.SessionID,
					rep.SceneID,
					sessionState(rep, colorize),
					summarizeStages(rep),
					formatStartTime(rep.StartTime),
				})
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderTable(
				[]string{"Session", "Scene", "State", "Stages", "Started"},
				rows,
			))
			return nil
		},
	}
}
