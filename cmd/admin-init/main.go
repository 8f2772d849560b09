package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"accounts/backend/internal/app"
)

var version = "dev"

func main() {
	if err := newAdminInitCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newAdminInitCmd makes sure an admin account exists. It is a no-op once
// any admin is present.
func newAdminInitCmd() *cobra.Command {
	var (
		configFile string
		name       string
		email      string
		password   string
	)

	cmd := &cobra.Command{
		Use:          "admin-init",
		Short:        "Create or promote the first admin account",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			// Flags win over ADMIN_INIT_* settings.
			if name == "" {
				name = cfg.AdminInitName
			}
			if email == "" {
				email = cfg.AdminInitEmail
			}
			if password == "" {
				password = cfg.AdminInitPassword
			}
			cfg.AdminInitEnabled = false

			logger := app.NewLogger("accounts-admin-init", version, cfg.LogFormat, cfg.IsDevelopment(), cmd.ErrOrStderr())
			server, err := app.NewServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = server.Close(context.Background()) }()

			if err := server.InitFirstAdmin(cmd.Context(), name, email, password); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "admin init completed")
			return err
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&name, "name", "", "admin display name")
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	app.BindFlags(cmd.Flags())
	return cmd
}
