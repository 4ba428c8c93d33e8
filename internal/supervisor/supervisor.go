// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package supervisor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/protocol"
)

// State is the reconnection state of a supervised session.
type State byte

const (
	Disconnected State = iota
	Connecting
	Handshaking
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// ErrSessionEnded marks a session that ended cleanly but should be
// re-established, e.g. a sensor client disconnecting mid-run.
var ErrSessionEnded = errors.New("session ended")

// Attempt runs one connect/handshake/run session and reports its progress.
// Returning nil ends supervision.
type Attempt func(ctx context.Context, report func(State)) error

// Supervisor retries an Attempt after a backoff delay until it succeeds,
// fails with a non-retryable error, or ctx is done.
type Supervisor struct {
	name      string
	backoff   Backoff
	logger    *zap.Logger
	retryable func(error) bool
	onState   func(State)

	after func(time.Duration) <-chan time.Time
}

func New(name string, backoff Backoff, options ...func(*Supervisor)) *Supervisor {
	s := &Supervisor{
		name:      name,
		backoff:   backoff,
		logger:    zap.NewNop(),
		retryable: Retryable,
		after:     time.After,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func WithLogger(logger *zap.Logger) func(*Supervisor) {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRetryable(fn func(error) bool) func(*Supervisor) {
	return func(s *Supervisor) {
		s.retryable = fn
	}
}

func WithStateCallback(fn func(State)) func(*Supervisor) {
	return func(s *Supervisor) {
		s.onState = fn
	}
}

// Retryable treats connection-level failures and ended sessions as
// transient. Log write failures and anything untagged are fatal.
func Retryable(err error) bool {
	if errors.Is(err, ErrSessionEnded) {
		return true
	}
	switch protocol.KindOf(err) {
	case protocol.ConnectFailed, protocol.PeerClosed, protocol.ReadTimeout, protocol.HandshakeRejected:
		return true
	default:
		return false
	}
}

// Run supervises attempt. It returns nil when ctx is cancelled or the
// attempt finishes cleanly, and the attempt's error when it is not retryable.
func (s *Supervisor) Run(ctx context.Context, attempt Attempt) error {
	failures := 0
	for {
		s.setState(Connecting)

		reachedReady := false
		err := attempt(ctx, func(st State) {
			if st == Ready {
				reachedReady = true
			}
			s.setState(st)
		})
		s.setState(Disconnected)

		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !s.retryable(err) {
			s.logger.Error("session failed, not retrying", zap.String("session", s.name), zap.Error(err))
			return err
		}

		if reachedReady {
			failures = 0
		}
		delay := s.backoff.Delay(failures)
		failures++

		s.logger.Warn("session lost, retrying",
			zap.String("session", s.name),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(delay):
		}
	}
}

func (s *Supervisor) setState(st State) {
	s.logger.Debug("session state", zap.String("session", s.name), zap.Stringer("state", st))
	if s.onState != nil {
		s.onState(st)
	}
}
