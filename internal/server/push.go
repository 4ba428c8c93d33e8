// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

// Push message results as counted by sensor_sync_push_messages_total.
const (
	PushLogged      = "logged"
	PushParseFailed = "parse_failed"
)

// PushHandler logs whatever a client sends, one row per message, stamped
// with the server clock on arrival.
type PushHandler struct {
	registry *client.Registry
	log      *record.PushLogger
	now      clock.Now
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewPushHandler(registry *client.Registry, log *record.PushLogger, now clock.Now, logger *zap.Logger, m *metrics.Metrics) *PushHandler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushHandler{
		registry: registry,
		log:      log,
		now:      now,
		logger:   logger.Named("push"),
		metrics:  m,
	}
}

// Handle reads from conn until the peer closes or ctx is done. Read
// timeouts only poll ctx. Only a log write failure is returned.
func (h *PushHandler) Handle(ctx context.Context, conn *client.Connection) error {
	logger := h.logger.With(zap.Stringer("client", conn.Type), zap.String("id", conn.ID.String()))
	logger.Info("push handler started")
	defer h.registry.UnregisterConn(conn)

	for ctx.Err() == nil {
		msg, err := conn.Receive()
		if err != nil {
			switch protocol.KindOf(err) {
			case protocol.ReadTimeout:
				continue
			case protocol.PeerClosed:
				logger.Info("client disconnected")
				return nil
			default:
				if ctx.Err() != nil {
					return nil
				}
				logger.Warn("push read failed", zap.Error(err))
				return nil
			}
		}
		arrived := clock.Seconds(h.now())

		reply, err := protocol.ParseReply(msg)
		if err != nil {
			logger.Warn("push message skipped", zap.Error(err))
			h.metrics.ObservePushMessage(conn.Type.String(), PushParseFailed)
			continue
		}

		err = h.log.Append(record.PushRecord{
			ServerTimestamp: arrived,
			Client:          conn.Type.String(),
			ClientTimestamp: reply.Timestamp,
			Data:            reply.Payload,
		})
		if err != nil {
			logger.Error("push log write failed", zap.Error(err))
			return err
		}
		h.metrics.ObservePushMessage(conn.Type.String(), PushLogged)
	}
	return nil
}
