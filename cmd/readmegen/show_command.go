package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/models"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the README of a past generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			hist, err := s.history()
			if err != nil {
				return err
			}
			records, err := s.loadRecords(cmd, hist, args)
			if err != nil {
				return err
			}

			res := s.resolver().ResolveWithRetry(cmd.Context(), records[0])
			if res.Source == models.SourceFallback {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: README content could not be retrieved; showing a summary instead")
				if res.Errors != nil {
					s.log.Debug("content resolution failed", "id", args[0], "error", res.Errors)
				}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return err
		},
	}
}
