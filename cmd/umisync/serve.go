package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/injector"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run an environment server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := injector.InitializeApp(injector.ConfigPath(configPath))
			if err != nil {
				return err
			}
			defer func() { _ = app.Logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Server.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			app.Logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
			defer cancel()
			if err := app.Server.Close(shutdownCtx); err != nil {
				app.Logger.Error("shutdown failed", log.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	return cmd
}
