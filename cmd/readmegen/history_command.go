package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/models"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var search string
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past generations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status models.RecordStatus
			if statusFilter != "" {
				parsed, ok := history.ParseStatus(statusFilter)
				if !ok {
					return fmt.Errorf("invalid status %q (want processing, completed, failed or unknown)", statusFilter)
				}
				status = parsed
			}

			s, err := ctx.session(cmd)
			if err != nil {
				return err
			}
			hist, err := s.history()
			if err != nil {
				return err
			}

			records, err := hist.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			records = history.Filter(records, search, status)

			if asJSON {
				return writeJSON(cmd, records)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No history records")
				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only show repositories whose name, owner or URL contains this text")
	cmd.Flags().StringVar(&statusFilter, "status", "", "Only show records with this status")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderHistoryTable(records []models.HistoryRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID(),
			repositoryLabel(rec),
			string(rec.Status),
			orDash(rec.PrimaryLanguage),
			string(rec.QualityScore),
			fmt.Sprintf("%.0f%%", rec.ConfidenceScore),
			age(rec),
		})
	}
	return renderTable(
		[]string{"ID", "Repository", "Status", "Language", "Quality", "Confidence", "Created"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func repositoryLabel(rec models.HistoryRecord) string {
	switch {
	case rec.RepoOwner != "" && rec.RepoName != "":
		return rec.RepoOwner + "/" + rec.RepoName
	case rec.RepoURL != "":
		return rec.RepoURL
	default:
		return "-"
	}
}

func age(rec models.HistoryRecord) string {
	if rec.CreatedAt.IsZero() {
		return "-"
	}
	return humanize.Time(rec.CreatedAt)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
