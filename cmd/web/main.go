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
		Use:          "web",
		Short:        "Live web view of synchronized records (MQTT subscriber)",
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

			logger.Info("starting web server", zap.Int("port", config.Get().WebServerPort))
			logger.Info("note: records appear only while sync_server publishes to MQTT_BROKER")
			return app.RunWeb(ctx, logger)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", app.DefaultConfigFile, "KEY=VALUE configuration file")

	if err := root.Execute(); err != nil {
		logger.Fatal("command failed", zap.Error(err))
	}
}
