package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lei/readme-gateway/internal/client"
	"github.com/lei/readme-gateway/internal/config"
	"github.com/lei/readme-gateway/internal/content"
	"github.com/lei/readme-gateway/internal/credentials"
	"github.com/lei/readme-gateway/internal/generation"
	"github.com/lei/readme-gateway/internal/history"
	"github.com/lei/readme-gateway/internal/models"
	"github.com/lei/readme-gateway/internal/provider/stepfunctions"
	"github.com/lei/readme-gateway/pkg/logger"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		// A missing .env is fine; variables may come from the environment
		_ = godotenv.Load()

		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// session bundles the clients one command invocation works with
type session struct {
	cfg        *config.Config
	log        *logger.Logger
	creds      credentials.Provider
	api        *client.Client
	normalizer *history.Normalizer
}

func (c *commandContext) session(cmd *cobra.Command) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if c.logLevelFlag != nil && *c.logLevelFlag != "" {
		level = *c.logLevelFlag
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, "text")

	var creds credentials.Provider
	if cfg.Identity.UseCognito() {
		creds = credentials.NewCognito(credentials.CognitoConfig{
			Region:        cfg.Identity.Region,
			ClientID:      cfg.Identity.ClientID,
			Username:      cfg.Identity.Username,
			Password:      cfg.Identity.Password,
			RefreshMargin: cfg.Identity.TokenRefreshMargin,
		}, log)
	} else {
		creds = credentials.NewStatic(cfg.Identity.BearerToken, credentials.Identity{
			UserID: cfg.Identity.UserID,
			Email:  cfg.Identity.Email,
		})
	}

	return &session{
		cfg:        cfg,
		log:        log,
		creds:      creds,
		api:        client.New(cfg.Dashboard.URL, cfg.Dashboard.APIKey, cfg.JobService.RequestTimeout, log),
		normalizer: history.NewNormalizer(cfg.Content.CanonicalHost(), cfg.Content.LegacyHosts),
	}, nil
}

func (s *session) generation() (*generation.Client, error) {
	if err := s.cfg.ValidateClient(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prov, err := stepfunctions.NewAdapter(stepfunctions.Config{
		URL:            s.cfg.JobService.URL,
		RequestTimeout: s.cfg.JobService.RequestTimeout,
	}, s.creds, s.log)
	if err != nil {
		return nil, err
	}

	return generation.New(prov, s.creds, generation.Config{
		PollInterval: s.cfg.JobService.PollInterval,
		MaxAttempts:  s.cfg.JobService.MaxAttempts,
		RetryDelay:   s.cfg.JobService.RetryDelay,
		MaxRetries:   s.cfg.JobService.MaxRetries,
		Features:     s.cfg.JobService.Features,
	}, s.log), nil
}

func (s *session) history() (*history.Synchronizer, error) {
	mode, err := history.ParseDeleteMode(s.cfg.History.DeleteMode)
	if err != nil {
		return nil, err
	}
	return history.New(s.api, s.creds, s.normalizer, history.Config{
		PollInterval: s.cfg.History.PollInterval,
		RefreshDelay: s.cfg.History.RefreshDelay,
		DeleteMode:   mode,
	}, s.log), nil
}

func (s *session) resolver() *content.Resolver {
	return content.NewResolver(s.api, s.normalizer, content.Config{
		FetchTimeout:      s.cfg.Content.FetchTimeout,
		RetryAttempts:     s.cfg.Content.RetryAttempts,
		RetryInitialDelay: s.cfg.Content.RetryInitialDelay,
	}, s.log)
}

// loadRecords refreshes history and returns the records for ids, failing on
// the first id that is not present
func (s *session) loadRecords(cmd *cobra.Command, hist *history.Synchronizer, ids []string) ([]models.HistoryRecord, error) {
	if _, err := hist.Refresh(cmd.Context()); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	records := make([]models.HistoryRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := hist.Find(id)
		if !ok {
			return nil, fmt.Errorf("history record %s not found", id)
		}
		records = append(records, rec)
	}
	return records, nil
}
