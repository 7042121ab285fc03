// Package cmd defines and implements the CLI commands for the backlink-monitor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/app"
	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/config"
	"github.com/JakeFAU/backlink-monitor/internal/logging"
)

// Runner is the slice of the application the commands drive.
// This allows us to inject a fake app during tests.
type Runner interface {
	RunBatch(ctx context.Context, sel backlink.Selection) (int, error)
	CheckURL(ctx context.Context, sourceURL, targetURL string) backlink.CheckResult
	PruneAlerts(ctx context.Context, olderThan time.Duration) (int64, error)
	Serve(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// runtime is what the root command prepares for every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// open builds the application. Subcommands call it after validating their own
// flags so bad input fails before any backend is touched.
func (r *runtime) open(ctx context.Context) (Runner, error) {
	if r.logger == nil {
		return nil, errors.New("configuration not loaded")
	}
	a, err := newApp(ctx, r.cfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string
	rt := &runtime{}

	cmd := &cobra.Command{
		Use:   "backlink-monitor",
		Short: "Verifies tracked backlinks and alerts when they disappear or change.",
		Long: `backlink-monitor periodically fetches the third-party pages that link to your
sites, records whether each link is still there with the expected attributes,
and raises alerts (with signed webhooks) when a backlink is lost, changed or recovered.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load config and logging once, before any subcommand runs.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env vars use the BACKLINK_ prefix")

	cmd.AddCommand(
		newCheckBacklinksCmd(rt),
		newCheckURLCmd(rt),
		newPruneAlertsCmd(rt),
		newServeCmd(rt),
	)
	return cmd
}

// Execute is the main entry point. Any command error exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
