package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"accounts/backend/internal/app"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newServeCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "accounts-server",
		Short:        "Run the user account HTTP API",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger := app.NewLogger("accounts", version, cfg.LogFormat, cfg.IsDevelopment(), cmd.ErrOrStderr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := app.NewServer(ctx, cfg, logger)
			if err != nil {
				logger.Error("server init failed", "error", err)
				return err
			}
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	app.BindFlags(cmd.Flags())
	return cmd
}
