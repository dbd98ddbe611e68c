package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/models"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status <handle>",
		Short: "Show the status of a generation, optionally following it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			gen, err := s.generation()
			if err != nil {
				return err
			}
			handle := args[0]
			out := cmd.OutOrStdout()

			if !follow {
				status, err := gen.Poll(cmd.Context(), handle)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Handle: %s\nPhase:  %s\n", handle, status.Phase)
				if status.Reason != "" {
					fmt.Fprintf(out, "Reason: %s\n", status.Reason)
				}
				if status.Result != nil && status.Result.RequestID != "" {
					fmt.Fprintf(out, "Request: %s\n", status.Result.RequestID)
				}
				return nil
			}

			progress := newProgressRenderer(cmd.ErrOrStderr())
			defer gen.Subscribe(progress.handle)()

			job, err := gen.Run(cmd.Context(), handle)
			if err != nil {
				if job.Terminal() {
					return reportedError{err}
				}
				return err
			}
			fmt.Fprintf(out, "Handle: %s\nPhase:  %s\nPolls:  %d\n", job.Handle, job.Phase, job.Attempt)
			if job.Phase == models.PhaseSucceeded && job.Result != nil && job.Result.RequestID != "" {
				fmt.Fprintf(out, "Request: %s\n", job.Result.RequestID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll until the generation finishes")
	return cmd
}
