// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/record"
	"github.com/relabs-tech/sensor_sync/internal/server"
)

// RunServer opens the record logs, starts the optional metrics endpoint and
// serves the sensor clients until ctx is done or the server fails.
func RunServer(ctx context.Context, logger *zap.Logger) error {
	cfg := config.Get()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	deps := server.Deps{Logger: logger, Metrics: m}
	if cfg.Mode == config.ModePush {
		pushLog, err := record.OpenPushLogger(cfg.PushLogFile)
		if err != nil {
			return err
		}
		deps.PushLog = pushLog
		logger.Info("push log opened", zap.String("path", cfg.PushLogFile))
	} else {
		sink, err := openSinks(cfg, logger, m)
		if err != nil {
			return err
		}
		deps.Sink = sink
	}

	srv := server.New(cfg, deps)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The metrics endpoint goes down with the server.
		defer cancel()
		return srv.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.MetricsAddr, reg, srv.Healthy, logger)
		})
	}

	return g.Wait()
}

// openSinks opens the CSV log and the configured mirrors. Only the CSV log
// is mandatory; an unreachable MQTT broker is logged and skipped.
func openSinks(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (record.Sink, error) {
	primary, err := record.OpenLogger(cfg.LogFile)
	if err != nil {
		return nil, err
	}
	logger.Info("record log opened", zap.String("path", primary.Path()))

	var secondary []record.NamedSink
	if cfg.SQLitePath != "" {
		runID := uuid.New()
		db, err := record.OpenSQLite(cfg.SQLitePath, runID)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		logger.Info("sqlite mirror opened", zap.String("path", cfg.SQLitePath), zap.String("run_id", runID.String()))
		secondary = append(secondary, record.NamedSink{Name: "sqlite", Sink: db})
	}
	if cfg.MQTTBroker != "" {
		pub, err := record.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID, cfg.TopicRecords)
		if err != nil {
			logger.Warn("mqtt publisher disabled", zap.Error(err))
		} else {
			logger.Info("publishing records", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.TopicRecords))
			secondary = append(secondary, record.NamedSink{Name: "mqtt", Sink: pub})
		}
	}

	fanout := record.NewFanout(primary, logger, secondary...)
	fanout.OnSinkError(m.ObserveSinkError)
	return fanout, nil
}
