package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/snapshotter/internal/api"
	"github.com/JakeFAU/snapshotter/internal/server"
)

// frontDoorRoutes maps route names to capture strategies.
var frontDoorRoutes = map[string]string{
	"render":     "html",
	"pdf":        "pdf",
	"screenshot": "screenshot",
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP render service",
		Long: `Serves GET /render/{url}, /pdf/{url} and /screenshot/{url}, streaming one
capture per request, plus health probes and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()

			renderers := make(map[string]api.Renderer, len(frontDoorRoutes))
			for route, strategy := range frontDoorRoutes {
				pipeline, err := appInstance.Pipeline(strategy)
				if err != nil {
					return fmt.Errorf("build %s pipeline: %w", route, err)
				}
				renderers[route] = pipeline
			}
			apiServer := api.NewServer(renderers, api.Options{
				Ready:          appInstance.Ready,
				RequestTimeout: cfg.Render.Timeout,
			}, appInstance.Logger().Named("api"))

			if !cmd.Flags().Changed("port") {
				port = cfg.Server.Port
			}
			return server.Run(cmd.Context(), server.Config{
				Addr:            fmt.Sprintf(":%d", port),
				ReadTimeout:     cfg.Server.ReadTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, apiServer.Handler(), appInstance.Logger())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default server.port)")
	return cmd
}
