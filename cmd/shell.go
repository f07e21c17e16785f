package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sajjad-MoBe/kvs/internal/api"
	"github.com/sajjad-MoBe/kvs/internal/shell"
)

func (a *app) newShellCommand() *cobra.Command {
	var metricsAddr string

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell over the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				addr := s.config.MetricsAddr
				if cmd.Flags().Changed("metrics-addr") {
					addr = metricsAddr
				}
				if addr != "" {
					server := api.NewServer(s.registry, s.logger)
					bound, err := server.Start(addr)
					if err != nil {
						return err
					}
					s.logger.Debug("metrics available at http://%s/metrics", bound)
					defer func() {
						ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						if err := server.Shutdown(ctx); err != nil {
							s.logger.Warn("failed to stop metrics server: %v", err)
						}
					}()
				}

				sh := shell.New(s.engine, cmd.InOrStdin(), cmd.OutOrStdout(), s.logger)
				return sh.Run(cmd.Context())
			})
		},
	}

	shellCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address while the shell runs")
	return shellCmd
}
