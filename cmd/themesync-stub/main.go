// cmd/themesync-stub/main.go
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"themesync/internal/api"
	"themesync/internal/logging"
	"themesync/internal/middleware"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	addr     string
	key      string
	pass     string
	limit    int
	leak     float64
	themes   []string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "themesync-stub",
		Short: "Serve an in-memory asset API for local runs",
		Long: `Serves the themes and assets endpoints of the admin API from memory, including the
call-limit header, so themesync can be exercised without a real shop.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.addr, "addr", "a", "127.0.0.1:9292", "Listen address")
	flags.StringVar(&opts.key, "key", "", "Required API key, empty disables auth")
	flags.StringVar(&opts.pass, "pass", "", "Required API password")
	flags.IntVar(&opts.limit, "limit", 40, "Call bucket size")
	flags.Float64Var(&opts.leak, "leak", 2, "Calls leaked per second")
	flags.StringSliceVar(&opts.themes, "theme", []string{"1:Dawn:main", "2:Draft:unpublished"}, "Seed theme as id:name:role")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level")

	return cmd
}

func parseTheme(value string) (api.Theme, error) {
	parts := strings.SplitN(value, ":", 3)
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return api.Theme{}, fmt.Errorf("invalid theme %q: %w", value, err)
	}
	t := api.Theme{ID: id}
	if len(parts) > 1 {
		t.Name = parts[1]
	}
	if len(parts) > 2 {
		t.Role = parts[2]
	}
	return t, nil
}

func serve(ctx context.Context, opts *options) error {
	// Initialize logger
	logger, err := logging.NewLogger(opts.logLevel, false)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	store := api.NewStore()
	for _, value := range opts.themes {
		t, err := parseTheme(value)
		if err != nil {
			return err
		}
		store.AddTheme(t)
	}

	// Set up router
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheck)
	api.NewAssetHandler(store, api.NewCallLimiter(opts.limit, opts.leak), opts.key, opts.pass, logger).
		Routes(mux, "/admin")

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("address", opts.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutting down: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"healthy"}`))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
