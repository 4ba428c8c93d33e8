// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/logging"
)

// DefaultConfigFile is read from the working directory unless --config says otherwise.
const DefaultConfigFile = "sensor_sync_config.txt"

// Bootstrap loads the global configuration and builds the process logger.
func Bootstrap(configPath string) (*zap.Logger, error) {
	if err := config.InitGlobal(configPath); err != nil {
		return nil, err
	}
	cfg := config.Get()
	return logging.New(cfg.LogLevel, cfg.LogFormat)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
