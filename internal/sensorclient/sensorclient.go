// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensorclient is the sensor side of the sync protocol: it dials the
// server, identifies itself with a handshake token and answers data requests
// from a source.Source, reconnecting whenever the session is lost.
package sensorclient

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/source"
	"github.com/relabs-tech/sensor_sync/internal/supervisor"
)

const defaultDialTimeout = 5 * time.Second

type Options struct {
	Addr        string
	Type        protocol.ClientType
	Token       string
	Framing     protocol.Framing
	DialTimeout time.Duration
	Backoff     supervisor.Backoff
	Logger      *zap.Logger
	// OnState observes reconnection state changes.
	OnState func(supervisor.State)
}

type Client struct {
	src    source.Source
	opts   Options
	logger *zap.Logger
}

func New(src source.Source, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Token == "" {
		opts.Token, _ = protocol.DefaultTokens().TokenFor(opts.Type)
	}
	return &Client{
		src:    src,
		opts:   opts,
		logger: opts.Logger.Named(opts.Type.String() + "_client"),
	}
}

// Token is the handshake message sent on every connect.
func (c *Client) Token() string {
	return c.opts.Token
}

// Run keeps a session with the server alive until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	options := []func(*supervisor.Supervisor){supervisor.WithLogger(c.logger)}
	if c.opts.OnState != nil {
		options = append(options, supervisor.WithStateCallback(c.opts.OnState))
	}
	return supervisor.New(c.opts.Type.String()+" client", c.opts.Backoff, options...).Run(ctx, c.session)
}

func (c *Client) session(ctx context.Context, report func(supervisor.State)) error {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return protocol.NewError(protocol.ConnectFailed, "dial "+c.opts.Addr, c.opts.Type.String(), err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	logger := c.logger.With(zap.Stringer("server", conn.RemoteAddr()))
	logger.Info("connected to server")

	report(supervisor.Handshaking)
	codec := protocol.NewCodec(conn, c.opts.Framing, 0)
	if err := codec.WriteMessage(c.opts.Token); err != nil {
		return protocol.Classify("handshake", c.opts.Type.String(), err)
	}
	report(supervisor.Ready)

	request := protocol.RequestFor(c.opts.Type)
	for {
		msg, err := codec.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = protocol.Classify("receive", c.opts.Type.String(), err)
			if protocol.IsKind(err, protocol.PeerClosed) {
				logger.Info("server closed the connection")
			}
			return err
		}

		msg = strings.TrimSpace(msg)
		if msg != request {
			logger.Warn("unrecognized request ignored", zap.String("request", msg))
			continue
		}

		sample, err := c.src.Next()
		if err != nil {
			logger.Warn("no sample for request, skipping", zap.Error(err))
			continue
		}

		if err := codec.WriteMessage(protocol.FormatReply(sample.Timestamp, sample.Payload)); err != nil {
			return protocol.Classify("reply", c.opts.Type.String(), err)
		}
		logger.Debug("sample sent",
			zap.Float64("timestamp", sample.Timestamp),
			zap.String("payload", sample.Payload),
		)
	}
}
