package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lei/readme-gateway/internal/models"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var concurrency int

	cmd := &cobra.Command{
		Use:   "download <id>...",
		Short: "Save the READMEs of past generations as Markdown files",
		Args:  cobra.MinimumNArgs(1),
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
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			resolver := s.resolver()
			var outMu sync.Mutex
			report := func(format string, a ...any) {
				outMu.Lock()
				defer outMu.Unlock()
				fmt.Fprintf(cmd.OutOrStdout(), format, a...)
			}

			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(concurrency, 1))
			for _, rec := range records {
				g.Go(func() error {
					res := resolver.ResolveWithRetry(gctx, rec)
					path := filepath.Join(dir, downloadFileName(rec))
					if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
						return fmt.Errorf("write %s: %w", path, err)
					}
					if res.Source == models.SourceFallback {
						report("%s: wrote summary to %s (content unavailable)\n", rec.ID(), path)
						return nil
					}
					report("%s: wrote %s (%s)\n", rec.ID(), path, res.Source)
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "Directory to write README files into")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum parallel downloads")
	return cmd
}

// downloadFileName is README-<owner>-<name>-<id>.md with unsafe characters
// replaced
func downloadFileName(rec models.HistoryRecord) string {
	name := "README"
	if rec.RepoOwner != "" && rec.RepoName != "" {
		name += "-" + rec.RepoOwner + "-" + rec.RepoName
	}
	if id := rec.ID(); id != "" {
		name += "-" + id
	}
	return unsafeFileChars.ReplaceAllString(name, "_") + ".md"
}
