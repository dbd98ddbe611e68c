package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/history"
)

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a history record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			if remote {
				s.cfg.History.DeleteMode = string(history.DeleteRemote)
			}
			hist, err := s.history()
			if err != nil {
				return err
			}
			if _, err := s.loadRecords(cmd, hist, args); err != nil {
				return err
			}

			if err := hist.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			mode, _ := history.ParseDeleteMode(s.cfg.History.DeleteMode)
			if mode == history.DeleteRemote {
				fmt.Fprintf(out, "Deleted %s\n", args[0])
			} else {
				fmt.Fprintf(out, "Removed %s from the local list; the history store still has it (use --remote to delete it there)\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Delete the record in the history store, not only locally")
	return cmd
}
