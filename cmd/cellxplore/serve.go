package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cellxplore/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			srv, err := server.New(ctx, a.cfg, a.logger)
			if err != nil {
				a.logger.Error("startup failed", zap.Error(err))
				return err
			}
			a.logger.Info("starting cellxplore",
				zap.String("version", Version),
				zap.String("store", a.cfg.Store.Path),
				zap.String("driver", a.cfg.Blob.Driver))
			return srv.Run(ctx)
		},
	}
	// Flag names match config keys so BindPFlags overrides them.
	cmd.Flags().String("server.addr", "", "listen address")
	cmd.Flags().String("store.path", "", "Zarr store path inside the data directory")
	cmd.Flags().Bool("store.lazy", false, "open the store on first request instead of at startup")
	return cmd
}
