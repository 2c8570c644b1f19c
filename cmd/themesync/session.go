// cmd/themesync/session.go
package main

import (
	"context"
	"fmt"
	"time"

	"themesync/client"
	"themesync/internal/config"
	"themesync/internal/journal"
	"themesync/internal/logging"
	"themesync/internal/pipeline"
	"themesync/internal/rate"
	"themesync/internal/theme"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session bundles everything one deploy or watch run needs.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	api     client.API
	console *logging.Console
	journal *journal.Journal
}

// loadConfig reads the config file, applies changed flags and validates the result.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("key") {
		cfg.Key = opts.key
	}
	if changed("pass") {
		cfg.Pass = opts.pass
	}
	if changed("name") {
		cfg.Name = opts.name
		cfg.Host = ""
	}
	if changed("api-url") {
		cfg.APIURL = opts.apiURL
	}
	if changed("theme-id") {
		cfg.ThemeID = opts.themeID
	}
	if changed("base-path") {
		cfg.BasePath = opts.basePath
	}
	if changed("policy") {
		cfg.Rate.Policy = opts.policy
	}
	if changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if changed("journal") {
		cfg.Journal.Path = opts.journalPath
	}
	if changed("breaker") {
		cfg.Breaker.Enabled = opts.breaker
	}
	if changed("open") {
		cfg.OpenBrowser = opts.openBrowser
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient builds the remote adapter.
func newClient(cfg *config.Config, logger *zap.Logger) (*client.Client, error) {
	return client.New(client.Options{
		BaseURL: cfg.BaseURL(),
		Key:     cfg.Key,
		Pass:    cfg.Pass,
		Timeout: time.Duration(cfg.Timeout),
		Logger:  logger.Named("client"),
	})
}

// newSession resolves the target theme and wires the session. The pipeline talks to
// the client through a circuit breaker when one is enabled; theme resolution does not.
func newSession(ctx context.Context, cmd *cobra.Command, opts *options) (*session, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, true)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	remote, err := newClient(cfg, logger.Logger)
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		api:     remote,
		console: logging.NewConsole(cmd.OutOrStdout()),
	}
	if cfg.Breaker.Enabled {
		s.api = client.NewBreakerClient(remote, client.BreakerSettings{
			Failures: cfg.Breaker.Failures,
			Timeout:  time.Duration(cfg.Breaker.Timeout),
		}, logger.Named("breaker"))
	}

	resolver := theme.NewResolver(remote, theme.NewPromptChooser(cmd.InOrStdin(), cmd.OutOrStdout()), logger.Logger)
	desc, err := resolver.Resolve(ctx, cfg.ThemeID)
	if err != nil {
		return nil, err
	}
	cfg.SetTheme(desc.ID, desc.Name)

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		s.journal = j
	}

	s.console.Connection(cfg.Host, cfg.ThemeID, cfg.ThemeName, cfg.Preview)
	if cfg.OpenBrowser {
		if err := openBrowser(cfg.Preview); err != nil {
			logger.Warn("opening browser", zap.Error(err))
		}
	}
	return s, nil
}

// Run pushes events through a fresh pipeline until in is closed or ctx is done, then
// prints the summary. Item failures are reported, not returned.
func (s *session) Run(ctx context.Context, in <-chan pipeline.Event) (pipeline.Snapshot, error) {
	limiter, err := rate.New(s.cfg.RateParams(), s.api)
	if err != nil {
		return pipeline.Snapshot{}, err
	}

	observers := []pipeline.Observer{s.console}
	var recorder *journal.Recorder

	p, err := pipeline.New(s.api, limiter, pipeline.Options{
		ThemeID:  s.cfg.ThemeID,
		BasePath: s.cfg.BasePath,
		Ignore:   s.cfg.Ignore,
		Logger:   s.logger.Logger,
	})
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	if s.journal != nil {
		recorder = s.journal.Recorder(p.Session().ID(), s.logger.Logger)
		observers = append(observers, recorder)
	}
	p.Observe(observers...)

	s.logger.Debug("session started",
		zap.String("session_id", p.Session().ID()),
		zap.String("policy", s.cfg.Rate.Policy),
	)

	out, errc := p.Start(ctx, in, 0)
	for range out {
	}
	runErr := <-errc

	snap := p.Session().Snapshot()
	s.console.Summary(snap)
	if recorder != nil && recorder.Err() != nil {
		s.logger.Warn("journal is incomplete", zap.Error(recorder.Err()))
	}
	return snap, runErr
}

func (s *session) Close() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error("closing journal", zap.Error(err))
		}
	}
	s.logger.Sync()
}
