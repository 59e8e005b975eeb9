package main

import (
	"github.com/spf13/cobra"

	"github.com/cexll/aisdk-go/pkg/config"
	"github.com/cexll/aisdk-go/pkg/server"
)

func newServeCmd(streams ioStreams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the HTTP API server.

Routes:
  POST /v1/generate  run one generation
  GET  /healthz      health probe
  GET  /metrics      prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := bindViper(cmd)
			if err != nil {
				return err
			}
			a, err := loadApp(v, streams)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			ctx := cmd.Context()
			p, err := a.provider()
			if err != nil {
				return err
			}
			tools, err := a.tools(ctx)
			if err != nil {
				return err
			}
			srv, err := server.New(server.Config{
				Provider:    p,
				Defaults:    serverDefaults(a.cfg),
				Tools:       tools,
				Logger:      a.logger,
				Metrics:     a.metrics,
				Limiter:     a.cfg.Limiter(),
				CORSOrigins: a.cfg.Server.CORSOrigins,
			})
			if err != nil {
				return err
			}

			if a.loader.Path() != "" {
				err := a.loader.Watch(ctx, a.logger, func(reloaded *config.Config, err error) {
					if err != nil {
						return
					}
					cfg, err := withOverrides(reloaded, a.v)
					if err != nil {
						a.logger.Warn().Err(err).Msg("reloaded config rejected")
						return
					}
					srv.UpdateDefaults(serverDefaults(cfg))
				})
				if err != nil {
					a.logger.Warn().Err(err).Msg("config watch disabled")
				}
			}
			return srv.ListenAndServe(ctx, a.cfg.Server.Addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	return cmd
}
