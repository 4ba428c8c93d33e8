// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/supervisor"
)

// Handshake results as counted by sensor_sync_handshakes_total.
const (
	HandshakeAccepted = "accepted"
	HandshakeRejected = "rejected"
	HandshakeOccupied = "occupied"
	HandshakeFailed   = "failed"
)

// Listen opens the TCP listener. maxConns > 0 caps simultaneous connections,
// counting those still handshaking.
func Listen(addr string, maxConns int) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, protocol.NewError(protocol.ConnectFailed, "listen", "", err)
	}
	if maxConns > 0 {
		l = netutil.LimitListener(l, maxConns)
	}
	return l, nil
}

// AcceptorOptions tune an Acceptor. Zero values fall back to line framing,
// DefaultMaxMessageSize, no timeouts and a one second accept retry.
type AcceptorOptions struct {
	Framing          protocol.Framing
	MaxMessageSize   int
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	// RetryBackoff paces Accept retries after a listener error.
	RetryBackoff supervisor.Backoff
	Logger           *zap.Logger
	Metrics          *metrics.Metrics
	// OnRegister runs after every successful registration and must not block.
	OnRegister func(conn *client.Connection)
}

// Acceptor identifies incoming connections by their first message and
// registers them. It keeps accepting for the lifetime of Serve.
type Acceptor struct {
	listener net.Listener
	registry *client.Registry
	tokens   protocol.TokenTable
	required []protocol.ClientType
	opts     AcceptorOptions
	logger   *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
	changed   chan struct{}

	handshakes sync.WaitGroup
}

// NewAcceptor returns an acceptor serving listener. required lists the
// client types WaitReady waits for.
func NewAcceptor(listener net.Listener, registry *client.Registry, tokens protocol.TokenTable, required []protocol.ClientType, opts AcceptorOptions) *Acceptor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	if opts.RetryBackoff.Initial <= 0 {
		opts.RetryBackoff = supervisor.Constant(time.Second)
	}
	return &Acceptor{
		listener: listener,
		registry: registry,
		tokens:   tokens,
		required: required,
		opts:     opts,
		logger:   opts.Logger.Named("acceptor"),
		ready:    make(chan struct{}),
		changed:  make(chan struct{}, 1),
	}
}

// Addr returns the listener's address.
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// Ready is closed the first time every required client type is registered.
func (a *Acceptor) Ready() <-chan struct{} {
	return a.ready
}

// WaitReady blocks until every required type is registered, which may
// happen more than once over a server's lifetime.
func (a *Acceptor) WaitReady(ctx context.Context) error {
	for {
		if a.registry.AllRequiredPresent(a.required) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.changed:
		}
	}
}

// Serve accepts connections until ctx is done or the listener is closed.
// Accept errors such as descriptor exhaustion are retried after
// RetryBackoff. It waits for in-flight handshakes before returning.
func (a *Acceptor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = a.listener.Close()
	})
	defer stop()
	defer a.handshakes.Wait()

	a.logger.Info("waiting for clients", zap.Stringer("addr", a.listener.Addr()))
	sup := supervisor.New("accept", a.opts.RetryBackoff, supervisor.WithLogger(a.logger))
	return sup.Run(ctx, a.acceptLoop)
}

// acceptLoop returns nil once the listener is closed and a ConnectFailed
// error on any other Accept failure. Reporting Ready after a successful
// accept resets the retry schedule.
func (a *Acceptor) acceptLoop(ctx context.Context, report func(supervisor.State)) error {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.opts.Metrics.ObserveAcceptError()
			return protocol.NewError(protocol.ConnectFailed, "accept", "", err)
		}
		report(supervisor.Ready)

		a.handshakes.Add(1)
		go func() {
			defer a.handshakes.Done()
			a.handshake(ctx, conn)
		}()
	}
}

func (a *Acceptor) handshake(ctx context.Context, conn net.Conn) {
	logger := a.logger.With(zap.Stringer("remote", conn.RemoteAddr()))
	logger.Info("connection accepted")

	// Cancelling ctx unblocks a pending handshake read.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var deadline time.Time
	if a.opts.HandshakeTimeout > 0 {
		deadline = time.Now().Add(a.opts.HandshakeTimeout)
	}
	_ = conn.SetReadDeadline(deadline)

	codec := protocol.NewCodec(conn, a.opts.Framing, a.opts.MaxMessageSize)
	msg, err := codec.ReadMessage()
	if err != nil {
		err = protocol.Classify("handshake", "", err)
		logger.Warn("handshake read failed", zap.Error(err))
		a.opts.Metrics.ObserveHandshake(HandshakeFailed)
		_ = conn.Close()
		return
	}

	clientType, err := a.tokens.Resolve(msg)
	if err != nil {
		logger.Warn("handshake rejected", zap.Error(err))
		a.opts.Metrics.ObserveHandshake(HandshakeRejected)
		_ = conn.Close()
		return
	}

	if !stop() || ctx.Err() != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := client.NewConnection(conn, clientType, codec)
	c.SetTimeouts(a.opts.ReadTimeout, a.opts.ReadTimeout)
	if !a.registry.Register(c) {
		logger.Warn("duplicate client rejected", zap.Stringer("client", clientType))
		a.opts.Metrics.ObserveHandshake(HandshakeOccupied)
		_ = c.Close()
		return
	}

	logger.Info("client registered",
		zap.Stringer("client", clientType),
		zap.String("id", c.ID.String()),
	)
	a.opts.Metrics.ObserveHandshake(HandshakeAccepted)

	a.notify()
	if a.opts.OnRegister != nil {
		a.opts.OnRegister(c)
	}
}

func (a *Acceptor) notify() {
	if !a.registry.AllRequiredPresent(a.required) {
		return
	}
	a.readyOnce.Do(func() {
		a.logger.Info("all required clients connected")
		close(a.ready)
	})
	select {
	case a.changed <- struct{}{}:
	default:
	}
}
