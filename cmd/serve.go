package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"ephemeris-service/api"
	"ephemeris-service/cache"
	"ephemeris-service/collector"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cache warmer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if logger.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}

			// Set up graceful shutdown on SIGINT and SIGTERM
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			stopWarmer := func() {}
			if cfg.Warmup.Enabled {
				pruner, _ := st.store.(cache.Pruner)
				warmer := collector.NewWarmer(st.orch, pruner, cfg.WarmerConfig(), logger)
				stopWarmer = warmer.Start(ctx)
			}

			server := api.NewServer(st.orch, cfg.Server.Addr, logger)
			serveErr := make(chan error, 1)
			go func() {
				serveErr <- server.Start()
			}()

			select {
			case err = <-serveErr:
			case <-ctx.Done():
				logger.Info("Shutting down")
			}

			stopWarmer()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				logger.WithError(serr).Warn("Server shutdown incomplete")
			}

			logger.Info("Shutdown complete")
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}
