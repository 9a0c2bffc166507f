package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/mantonx/rtsphls/internal/config"
	"github.com/spf13/cobra"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and stream supervisor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			if !quiet {
				figure.NewFigure("rtsphls", "", false).Print()
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(runCtx, ctx.configPath(), cfg)
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip the startup banner")
	return cmd
}

// serve builds an app and runs it until runCtx is cancelled
func serve(runCtx context.Context, configPath string, cfg *config.Config) error {
	a, err := newApp(runCtx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if configPath != "" {
		a.logger.Info("configuration loaded", "path", configPath)
	}
	return a.Run(runCtx)
}
