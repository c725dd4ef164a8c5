package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/snapshotter/internal/metrics"
	"github.com/JakeFAU/snapshotter/internal/server"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the screenshot external-task worker",
		Long: `Polls the workflow engine for screenshot tasks, renders every configured
dimension and uploads the results. Set worker.metrics_addr to expose /metrics.`,
		RunE: runWorkerCommand,
	}
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	w, err := appInstance.Worker()
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	logger := appInstance.Logger()

	group, ctx := errgroup.WithContext(cmd.Context())
	// The metrics listener stops once the loop returns.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if addr := appInstance.Config().Worker.MetricsAddr; addr != "" {
		metrics.Init()
		group.Go(func() error {
			return server.Run(runCtx, server.Config{Addr: addr}, metrics.Handler(), logger.Named("metrics"))
		})
	}
	group.Go(func() error {
		defer cancel()
		return w.Run(runCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("worker exited", zap.Error(err))
		return err
	}
	return nil
}
