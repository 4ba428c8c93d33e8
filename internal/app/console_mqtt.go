// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

// RunConsoleMQTT prints one line per published record until ctx is done.
func RunConsoleMQTT(ctx context.Context, logger *zap.Logger, out io.Writer) error {
	cfg := config.Get()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-console")
	if err != nil {
		return err
	}
	logger.Info("console: connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	err = subscribeRecords(client, cfg.TopicRecords, logger, func(payload []byte) error {
		return printRecord(out, payload)
	})
	if err != nil {
		client.Disconnect(250)
		return err
	}

	<-ctx.Done()

	logger.Info("console: shutting down")
	client.Disconnect(250)
	return nil
}

func printRecord(out io.Writer, payload []byte) error {
	var rec record.SynchronizedRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	_, err := fmt.Fprintf(out,
		"[SYNC] cycle=%-6d server=%.3f cam=%.3f em=%.3f rtt=%.2fms  cam_data=%q em_data=%q\n",
		rec.Cycle, rec.ServerCycleTimestamp, rec.CameraTimestamp, rec.EMTimestampCorrected,
		rec.RTTDelay*1000, rec.CameraData, rec.EMData,
	)
	return err
}
