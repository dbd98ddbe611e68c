package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/models"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	var outputPath string
	var lockPath string

	cmd := &cobra.Command{
		Use:   "generate <repository-url>",
		Short: "Generate a README for a GitHub repository and wait for it",
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
			hist, err := s.history()
			if err != nil {
				return err
			}

			// One generation per machine; the job service rejects parallel
			// submissions for the same user anyway.
			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire generation lock: %w", err)
			}
			if !ok {
				return errors.New("another readmegen generate is already running on this machine")
			}
			defer lock.Unlock()

			stderr := cmd.ErrOrStderr()
			progress := newProgressRenderer(stderr)
			defer gen.Subscribe(progress.handle)()

			// The synchronizer polls while the job runs and refreshes once the
			// store has had time to record a finished generation.
			runCtx, stopSync := context.WithCancel(cmd.Context())
			syncDone := make(chan struct{})
			defer func() {
				stopSync()
				<-syncDone
			}()
			defer hist.Follow(gen)()
			go func() {
				defer close(syncDone)
				hist.Run(runCtx)
			}()

			job, err := gen.Generate(cmd.Context(), args[0])
			if err != nil {
				if job.Terminal() {
					// The progress renderer already showed the failure
					return reportedError{err}
				}
				return err
			}
			fmt.Fprintf(stderr, "Handle: %s\n", job.Handle)

			text := ""
			var requestID string
			if job.Result != nil {
				text = job.Result.ReadmeContent
				requestID = job.Result.RequestID
			}

			if text == "" && requestID != "" {
				if err := hist.WaitFetch(cmd.Context(), finishedAt(job)); err != nil {
					if cmd.Context().Err() != nil {
						return err
					}
					s.log.Warn("history refresh after generation failed", "error", err)
				}
				if rec, ok := hist.Find(requestID); ok {
					res := s.resolver().ResolveWithRetry(cmd.Context(), rec)
					if res.Source != models.SourceFallback {
						text = res.Text
					}
				}
			}
			if text == "" {
				fmt.Fprintln(stderr, "README content is not available yet; run `readmegen history` to find it later")
				return nil
			}

			if outputPath == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			}
			if err := os.WriteFile(outputPath, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write README: %w", err)
			}
			fmt.Fprintf(stderr, "README written to %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the README to this file instead of stdout")
	cmd.Flags().StringVar(&lockPath, "lock-file", filepath.Join(os.TempDir(), "readmegen-generate.lock"), "Lock file that serializes generations on this machine")
	return cmd
}

func finishedAt(job models.GenerationJob) time.Time {
	if job.FinishedAt != nil {
		return *job.FinishedAt
	}
	return time.Now()
}
