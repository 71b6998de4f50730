package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/app"
	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:          "mnemo",
		Short:        "Per-user memory store with a fast-path query router",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				return os.Setenv("MNEMO_ENV_FILE", envFile)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	cmd.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newClassifyCmd(),
		newRememberCmd(),
		newAuditCmd(),
	)
	return cmd
}

type service struct {
	cfg    config.Config
	logger *zap.Logger
	built  *app.BuildResult
}

// loadRuntime reads config, builds the logger and wires the service.
func loadRuntime(ctx context.Context) (*service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	built, err := app.Build(ctx, cfg, nil, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &service{cfg: cfg, logger: logger, built: built}, nil
}

func (r *service) close() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	if err := r.built.Cleanup(ctx); err != nil {
		r.logger.Warn("cleanup failed", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
