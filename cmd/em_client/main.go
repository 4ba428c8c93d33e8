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
		Use:          "em_client",
		Short:        "EM tracker sensor client (serial or mock pose)",
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
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.SignalContext(cmd.Context())
			defer cancel()

			logger.Info("starting em_client", zap.String("server", config.Get().ServerAddr))
			return app.RunEMClient(ctx, logger)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigFile, "KEY=VALUE configuration file")

	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}
