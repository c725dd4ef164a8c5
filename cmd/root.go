// Package cmd defines the CLI commands for the snapshotter executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/snapshotter/internal/app"
	"github.com/JakeFAU/snapshotter/internal/config"
	"github.com/JakeFAU/snapshotter/internal/externaltask"
	"github.com/JakeFAU/snapshotter/internal/logging"
	"github.com/JakeFAU/snapshotter/internal/render"
	"github.com/JakeFAU/snapshotter/internal/worker"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface commands use. Tests inject a fake.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Runner() (*externaltask.Runner, error)
	Worker() (*worker.Worker, error)
	Pipeline(strategy string) (*render.Pipeline, error)
	Ready(ctx context.Context) error
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "snapshotter",
		Short: "Renders web pages to HTML, PDF and screenshots for workflow tasks.",
		Long: `snapshotter renders pages in isolated headless browser sessions. It runs as a
workflow engine external-task worker, as an HTTP render service, or as a one-shot
tool for engine task operations.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyFlagOverrides(cmd, &cfg)

			logger, err := logging.New(logging.Config{
				Development:  cfg.Logging.Development,
				Handlers:     cfg.Logging.Handlers,
				LogstashAddr: cfg.Logging.Logstash,
				Level:        cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTaskCmd())
	return cmd
}

// applyFlagOverrides copies command flags that shadow config keys.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flags().Lookup("workflow"); f != nil && f.Changed {
		cfg.Workflow.URL = f.Value.String()
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command with SIGINT and SIGTERM cancelling the context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
