// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
	"github.com/relabs-tech/sensor_sync/internal/supervisor"
)

// Deps are the resources a Server owns once Run starts. Run closes them.
type Deps struct {
	// Listener is opened from the config when nil.
	Listener net.Listener
	// Sink receives synchronized records in sync mode.
	Sink record.Sink
	// PushLog receives push rows in push mode.
	PushLog *record.PushLogger
	Now     clock.Now
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Server ties the acceptor to the cycle engine (sync mode) or to one push
// handler per client (push mode).
type Server struct {
	cfg      *config.Config
	deps     Deps
	logger   *zap.Logger
	registry *client.Registry

	// cycles carries the cycle numbering across engine sessions.
	cycles uint64
}

// New returns a server for cfg. deps.Listener may be nil.
func New(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	registry := client.NewRegistry()
	registry.OnChange(func(t protocol.ClientType, connected bool) {
		deps.Metrics.SetConnected(t.String(), connected)
	})
	return &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.Named("server"),
		registry: registry,
	}
}

// Registry returns the server's client registry.
func (s *Server) Registry() *client.Registry {
	return s.registry
}

// Healthy reports whether every required client is connected.
func (s *Server) Healthy() bool {
	return s.registry.AllRequiredPresent(s.cfg.RequiredClients)
}

// Run serves until ctx is done or a fatal error occurs. On return the
// listener, every registered connection and the sinks are closed.
func (s *Server) Run(ctx context.Context) (err error) {
	if err := s.checkDeps(); err != nil {
		return err
	}

	listener := s.deps.Listener
	if listener == nil {
		listener, err = s.listen(ctx)
		if err != nil {
			return err
		}
		if listener == nil {
			s.closeAll(nil)
			return nil
		}
	}
	defer s.closeAll(listener)

	g, gctx := errgroup.WithContext(ctx)
	// Closing the connections unblocks a pending request on shutdown.
	stop := context.AfterFunc(gctx, s.registry.CloseAll)
	defer stop()

	opts := AcceptorOptions{
		Framing:          s.cfg.Framing,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		ReadTimeout:      s.cfg.ReadTimeout,
		RetryBackoff:     s.cfg.RetryBackoff(),
		Logger:           s.deps.Logger,
		Metrics:          s.deps.Metrics,
	}
	if s.cfg.Mode == config.ModePush {
		handler := NewPushHandler(s.registry, s.deps.PushLog, s.deps.Now, s.deps.Logger, s.deps.Metrics)
		opts.OnRegister = func(conn *client.Connection) {
			g.Go(func() error {
				return handler.Handle(gctx, conn)
			})
		}
	}
	acceptor := NewAcceptor(listener, s.registry, s.cfg.HandshakeTokens, s.cfg.RequiredClients, opts)

	s.logger.Info("server listening",
		zap.Stringer("addr", listener.Addr()),
		zap.String("mode", string(s.cfg.Mode)),
		zap.Stringer("framing", s.cfg.Framing),
	)

	g.Go(func() error {
		return acceptor.Serve(gctx)
	})
	if s.cfg.Mode == config.ModeSync {
		g.Go(func() error {
			return s.runCycles(gctx, acceptor)
		})
	}

	err = g.Wait()
	if errors.Is(err, errCycleLimit) || (ctx.Err() != nil && errors.Is(err, context.Canceled)) {
		err = nil
	}
	if err != nil {
		s.logger.Error("server stopped", zap.Error(err))
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

// runCycles waits for all required clients and runs the engine, again after
// every client disconnect, until ctx is done or the engine fails fatally.
func (s *Server) runCycles(ctx context.Context, acceptor *Acceptor) error {
	// Only disconnects are retried.
	sup := supervisor.New("cycle engine", s.cfg.RetryBackoff(),
		supervisor.WithLogger(s.deps.Logger),
		supervisor.WithRetryable(func(err error) bool {
			return errors.Is(err, ErrClientDisconnected)
		}),
	)

	err := sup.Run(ctx, func(ctx context.Context, report func(supervisor.State)) error {
		report(supervisor.Handshaking)
		if err := acceptor.WaitReady(ctx); err != nil {
			return nil
		}
		report(supervisor.Ready)

		engine := NewEngine(s.registry, s.deps.Sink, EngineOptions{
			Interval:       s.cfg.CycleInterval,
			FailurePolicy:  s.cfg.FailurePolicy,
			CorrectionMode: s.cfg.CorrectionMode,
			StartCycle:     s.cycles,
			MaxCycles:      s.cfg.MaxCycles,
			Now:            s.deps.Now,
			Logger:         s.deps.Logger,
			Metrics:        s.deps.Metrics,
		})
		err := engine.Run(ctx)
		s.cycles = engine.Cycles()
		return err
	})
	if err != nil {
		return err
	}
	if ctx.Err() == nil {
		// The engine only stops on its own at MaxCycles.
		return errCycleLimit
	}
	return nil
}

// listen binds the configured address, retrying bind failures with the
// reconnect backoff. It returns a nil listener when ctx ends first.
func (s *Server) listen(ctx context.Context) (net.Listener, error) {
	var listener net.Listener
	sup := supervisor.New("listen", s.cfg.RetryBackoff(), supervisor.WithLogger(s.deps.Logger))
	err := sup.Run(ctx, func(context.Context, func(supervisor.State)) error {
		l, err := Listen(s.cfg.ListenAddr(), s.cfg.MaxConnections)
		if err != nil {
			return err
		}
		listener = l
		return nil
	})
	return listener, err
}

func (s *Server) checkDeps() error {
	switch s.cfg.Mode {
	case config.ModePush:
		if s.deps.PushLog == nil {
			return ErrNoPushLog
		}
	default:
		if s.deps.Sink == nil {
			return ErrNoSink
		}
	}
	return nil
}

func (s *Server) closeAll(listener net.Listener) {
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("listener close failed", zap.Error(err))
		}
	}
	s.registry.CloseAll()

	if s.deps.Sink != nil {
		if err := s.deps.Sink.Close(); err != nil && !errors.Is(err, record.ErrClosed) {
			s.logger.Warn("record sink close failed", zap.Error(err))
		}
	}
	if s.deps.PushLog != nil {
		if err := s.deps.PushLog.Close(); err != nil && !errors.Is(err, record.ErrClosed) {
			s.logger.Warn("push log close failed", zap.Error(err))
		}
	}
}
