package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			logger := rt.logger

			if rt.built.Auditor != nil && rt.cfg.AuditInterval > 0 {
				go rt.built.Auditor.RunSchedule(ctx, rt.cfg.AuditInterval)
			}

			httpServer := &http.Server{
				Addr:    rt.cfg.BindAddr,
				Handler: rt.built.API.Router(),
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server listening",
					zap.String("addr", rt.cfg.BindAddr),
					zap.String("graph_mode", rt.built.GraphMode),
					zap.Bool("postgres", rt.cfg.DatabaseURL != ""),
				)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					logger.Error("listen error", zap.Error(err))
					return err
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", zap.Error(err))
				_ = httpServer.Close()
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
}
