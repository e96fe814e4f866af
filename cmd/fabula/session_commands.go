package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <session-id> <stage>",
		Short: "Retry a failed pipeline stage",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}

			result, err := client.retry(args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Error != "" {
				fmt.Fprintf(out, "Stage %s failed again: %s\n", result.Stage, result.Error)
				return nil
			}
			fmt.Fprintf(out, "Stage %s finished with status %s\n", result.Stage, result.Status)
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel an in-flight generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.cancel(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for session %s\n", args[0])
			return nil
		},
	}
}

func newReadyAckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ready-ack <session-id>",
		Short: "Acknowledge a ready notification",
		Long: "Confirms receipt of the scene-ready notification so the daemon\n" +
			"stops the re-delivery watchdog for the session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			if err := client.readyAck(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ready notification acknowledged for session %s\n", args[0])
			return nil
		},
	}
}
