package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"freetime/internal/app"
	"freetime/internal/config"
)

type rootOptions struct {
	verbose    bool
	configPath string

	log *slog.Logger
	cfg config.Config
}

func main() {
	// Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	if err := newRootCmd(opts).ExecuteContext(ctx); err != nil {
		log := opts.log
		if log == nil {
			log = slog.Default()
		}
		log.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "freetime",
		Short:         "Personal time tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Logger
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			opts.log = slog.New(handler)
			slog.SetDefault(opts.log)

			// Config
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file (default: $FREETIME_CONFIG)")

	root.AddCommand(newServeCmd(opts), newReportCmd(opts), newExportCmd(opts), newClearCmd(opts))
	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = opts.cfg.HTTP.Addr
			}
			application, err := app.New(ctx, opts.log, opts.cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer func() {
				if err := application.Close(); err != nil {
					opts.log.Error("close failed", slog.String("error", err.Error()))
				}
			}()
			application.Start(ctx)

			srv := application.HTTPServer(addr)
			errCh := make(chan error, 1)
			go func() {
				opts.log.Info("listening", slog.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				opts.log.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: $FREETIME_HTTP_ADDR or :8080)")
	return cmd
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print totals per project and per day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(cmd.Context(), opts.log, opts.cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer application.Close()

			loc := application.Reports.Location()
			today := application.Now().In(loc)
			toTime, err := parseDay(to, today, loc)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			fromTime, err := parseDay(from, toTime, loc)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			if fromTime.After(toTime) {
				return errors.New("--from is after --to")
			}
			renderSummary(cmd.OutOrStdout(), application.Reports.Summary(fromTime, toTime))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day, RFC3339 or YYYY-MM-DD (default: --to)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, RFC3339 or YYYY-MM-DD (default: today)")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every session and reference list as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := app.New(cmd.Context(), opts.log, opts.cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer application.Close()

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			snap := application.Export()
			if err := snap.WriteJSON(w); err != nil {
				return err
			}
			opts.log.Info("export written", slog.Int("sessions", len(snap.Sessions)), slog.String("backend", snap.Backend))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default: stdout)")
	return cmd
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase every local session, reference list and goal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("clearing local data cannot be undone; pass --yes to confirm")
			}
			application, err := app.New(cmd.Context(), opts.log, opts.cfg)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			defer application.Close()

			application.ClearLocal(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Local data cleared.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm erasing local data")
	return cmd
}

// parseDay parses a boundary that may be RFC3339 or YYYY-MM-DD, the latter
// read in loc. If empty, defaultVal is returned.
func parseDay(val string, defaultVal time.Time, loc *time.Location) (time.Time, error) {
	if val == "" {
		return defaultVal, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", val, loc)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or YYYY-MM-DD")
	}
	return d, nil
}
