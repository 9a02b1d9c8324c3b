package main

import (
	"errors"
	"log/slog"

	"github.com/openmined/kbsync/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger api for sync runs and storage notifications",
		Long: `Starts an HTTP server with POST /v1/sync, POST /v1/events and
GET /v1/jobs/:id. Routes whose engine is not configured are left out.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationFileLog: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.cfg
			if err := cfg.ValidateServer(); err != nil {
				return err
			}
			exec := newExecutor(cfg)
			svc := &server.Services{}

			if err := cfg.ValidateSync(); err != nil {
				slog.Warn("sync route disabled", "reason", err)
			} else {
				syncer, err := newSyncer(cmd.Context(), cfg, exec)
				if err != nil {
					return err
				}
				svc.Sync = syncer
			}

			if err := cfg.ValidateEvents(); err != nil {
				slog.Warn("event routes disabled", "reason", err)
			} else {
				dispatcher, err := newDispatcher(cmd.Context(), cfg, exec)
				if err != nil {
					return err
				}
				svc.Events = dispatcher
			}

			if svc.Sync == nil && svc.Events == nil {
				return errors.New("nothing to serve: configure the wiki for sync or the index for events")
			}

			addr, _ := cmd.Flags().GetString("addr")
			httpCfg := cfg.HTTPConfig()
			if addr != "" {
				httpCfg.Addr = addr
			}
			srv, err := server.New(httpCfg, svc)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().StringP("addr", "a", "", "listen address (overrides server.addr)")
	return cmd
}
