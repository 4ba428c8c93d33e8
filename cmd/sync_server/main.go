// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/app"
	"github.com/relabs-tech/sensor_sync/internal/config"
)

func main() {
	var configPath string
	logger := zap.NewNop()

	root := &cobra.Command{
		Use:          "sync_server",
		Short:        "Camera and EM tracker synchronization server",
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			l, err := app.Bootstrap(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = l
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigFile, "KEY=VALUE configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Accept sensor clients and log synchronized records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.SignalContext(cmd.Context())
			defer cancel()

			cfg := config.Get()
			logger.Info("starting sensor sync server",
				zap.String("listen", cfg.ListenAddr()),
				zap.String("mode", string(cfg.Mode)),
				zap.String("log_file", cfg.LogFile),
			)
			return app.RunServer(ctx, logger)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Get()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %s\n", configPath)
			fmt.Fprintf(out, "  listen:          %s (max %d connections)\n", cfg.ListenAddr(), cfg.MaxConnections)
			fmt.Fprintf(out, "  mode:            %s, framing %s\n", cfg.Mode, cfg.Framing)
			fmt.Fprintf(out, "  required:        %v\n", cfg.RequiredClients)
			fmt.Fprintf(out, "  cycle interval:  %s, read timeout %s\n", cfg.CycleInterval, cfg.ReadTimeout)
			fmt.Fprintf(out, "  failure policy:  %s, correction %s\n", cfg.FailurePolicy, cfg.CorrectionMode)
			fmt.Fprintf(out, "  log file:        %s\n", cfg.LogFile)
			return nil
		},
	}

	root.AddCommand(serve, validate)

	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}
