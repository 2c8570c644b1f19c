// cmd/themesync/main.go
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"themesync/internal/config"
	"themesync/internal/errors"
	"themesync/internal/journal"
	"themesync/internal/theme"
	"themesync/internal/watch"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options holds the persistent flags. Only flags the user changed override the config file.
type options struct {
	configPath  string
	key         string
	pass        string
	name        string
	apiURL      string
	themeID     string
	basePath    string
	policy      string
	logLevel    string
	journalPath string
	breaker     bool
	openBrowser bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "themesync",
		Short: "Themesync mirrors local theme files onto a remote shop",
		Long: `Themesync uploads and deletes theme assets on a remote shop as local files change.
Calls are admitted one at a time through a rate controller so the shop's API call
budget is never exhausted.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Config file")
	flags.StringVar(&opts.key, "key", "", "API key (or THEMESYNC_KEY)")
	flags.StringVar(&opts.pass, "pass", "", "API password (or THEMESYNC_PASS)")
	flags.StringVarP(&opts.name, "name", "n", "", "Shop name, the host becomes <name>.myshopify.com")
	flags.StringVar(&opts.apiURL, "api-url", "", "Admin API root, overrides the host")
	flags.StringVarP(&opts.themeID, "theme-id", "t", "", "Theme id to sync to")
	flags.StringVarP(&opts.basePath, "base-path", "b", "", "Local theme directory")
	flags.StringVar(&opts.policy, "policy", "", "Rate policy (telemetry, position, bucket)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.journalPath, "journal", "", "Directory of the outcome journal")
	flags.BoolVar(&opts.breaker, "breaker", false, "Fail fast while the remote keeps failing")
	flags.BoolVar(&opts.openBrowser, "open", false, "Open the theme preview in a browser")

	var deployCmd = &cobra.Command{
		Use:   "deploy [paths...]",
		Short: "Upload files to the theme",
		Long:  `Uploads every file under the given paths, or the whole base path when none are given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			s, err := newSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			roots := args
			if len(roots) == 0 {
				roots = []string{s.cfg.BasePath}
			}
			files, err := watch.Files(roots, nil)
			if err != nil {
				return fmt.Errorf("listing files: %w", err)
			}

			_, err = s.Run(ctx, watch.Feed(ctx, files))
			return err
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Sync changes under the base path until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			s, err := newSession(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			w, err := watch.New(s.cfg.BasePath, nil, s.logger.Logger)
			if err != nil {
				return fmt.Errorf("watching %s: %w", s.cfg.BasePath, err)
			}
			defer w.Close()
			go w.Run(ctx)

			s.logger.Info("watching for changes",
				zap.String("base_path", s.cfg.BasePath),
				zap.Int("directories", len(w.WatchedPaths())),
			)

			_, err = s.Run(ctx, w.Events())
			if stderrors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	var themesCmd = &cobra.Command{
		Use:   "themes",
		Short: "List the themes of the shop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			api, err := newClient(cfg, zap.NewNop())
			if err != nil {
				return err
			}

			themes, err := api.ListThemes(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing themes: %w", err)
			}
			if len(themes) == 0 {
				return theme.ErrNoThemes
			}

			out := cmd.OutOrStdout()
			for _, c := range theme.BuildChoices(themes) {
				marker := " "
				if c.Value.ID == cfg.ThemeID {
					marker = color.GreenString("*")
				}
				fmt.Fprintf(out, "%s %s\n", marker, c.Label)
			}
			return nil
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recorded sync outcomes, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			sessionID, _ := cmd.Flags().GetString("session")

			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cmd.Flags().Changed("journal") {
				cfg.Journal.Path = opts.journalPath
			}
			if cfg.Journal.Path == "" {
				return errors.Configuration("journal path is not configured")
			}

			j, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			if cmd.Flags().Changed("prune") {
				keep, _ := cmd.Flags().GetInt("prune")
				removed, err := j.Prune(keep)
				if err != nil {
					return fmt.Errorf("pruning journal: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d records, kept the newest %d\n", removed, keep)
				return nil
			}

			var records []*journal.Record
			if sessionID != "" {
				records, err = j.Failures(sessionID)
			} else {
				records, err = j.List(limit)
			}
			if err != nil {
				return fmt.Errorf("reading journal: %w", err)
			}

			printRecords(cmd, records)
			return nil
		},
	}
	historyCmd.Flags().IntP("limit", "l", 20, "Number of records to show, 0 for all")
	historyCmd.Flags().StringP("session", "s", "", "Only show failures of this session")
	historyCmd.Flags().Int("prune", 0, "Delete all but the newest N records")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(themesCmd)
	rootCmd.AddCommand(historyCmd)

	return rootCmd
}

func printRecords(cmd *cobra.Command, records []*journal.Record) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No records.")
		return
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	for _, r := range records {
		outcome := gray(r.Outcome)
		switch {
		case r.Message != "":
			outcome = red(r.Outcome)
		case r.Outcome == "succeeded":
			outcome = green(r.Outcome)
		}
		fmt.Fprintf(out, "%s  %-9s %-11s %s\n", r.At.Local().Format(time.DateTime), outcome, r.Kind, r.Key)
		if r.Message != "" {
			fmt.Fprintf(out, "    %s\n", red(r.Message))
		}
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString(err.Error()))
		os.Exit(1)
	}
}
