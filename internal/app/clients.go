// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/sensorclient"
	"github.com/relabs-tech/sensor_sync/internal/source"
)

// RunCameraClient answers camera requests with mock frame names.
func RunCameraClient(ctx context.Context, logger *zap.Logger) error {
	cfg := config.Get()
	return newSensorClient(cfg, protocol.Camera, source.NewMockCameraSource(nil), logger).Run(ctx)
}

// RunEMClient answers EM requests from the tracker's serial port, or from
// a synthetic pose when EM_SERIAL_PORT is empty.
func RunEMClient(ctx context.Context, logger *zap.Logger) error {
	cfg := config.Get()

	var src source.Source
	if cfg.EMSerialPort != "" {
		serialSrc, err := source.OpenSerialEMSource(cfg.EMSerialPort, cfg.EMSerialBaud, logger)
		if err != nil {
			return err
		}
		defer serialSrc.Close()
		src = serialSrc
	} else {
		logger.Info("EM_SERIAL_PORT not set, using mock pose source")
		src = source.NewMockEMSource(nil)
	}

	return newSensorClient(cfg, protocol.EMTracker, src, logger).Run(ctx)
}

func newSensorClient(cfg *config.Config, t protocol.ClientType, src source.Source, logger *zap.Logger) *sensorclient.Client {
	token, _ := cfg.HandshakeTokens.TokenFor(t)
	return sensorclient.New(src, sensorclient.Options{
		Addr:    cfg.ServerAddr,
		Type:    t,
		Token:   token,
		Framing: cfg.Framing,
		Backoff: cfg.RetryBackoff(),
		Logger:  logger,
	})
}
