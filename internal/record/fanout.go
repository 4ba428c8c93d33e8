// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"context"

	"go.uber.org/zap"
)

// NamedSink is a secondary sink. Its failures are reported, never fatal.
type NamedSink struct {
	Name string
	Sink Sink
}

// Fanout writes every record to the primary sink first and then to each
// secondary sink. Only a primary failure is returned.
type Fanout struct {
	primary   Sink
	secondary []NamedSink
	logger    *zap.Logger
	onError   func(name string)
}

var _ Sink = (*Fanout)(nil)

func NewFanout(primary Sink, logger *zap.Logger, secondary ...NamedSink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
	}
}

// OnSinkError installs a hook fired for every failed secondary write.
func (f *Fanout) OnSinkError(fn func(name string)) {
	f.onError = fn
}

func (f *Fanout) Append(ctx context.Context, rec SynchronizedRecord) error {
	if err := f.primary.Append(ctx, rec); err != nil {
		return err
	}

	for _, s := range f.secondary {
		if err := s.Sink.Append(ctx, rec); err != nil {
			f.logger.Warn("secondary sink append failed",
				zap.String("sink", s.Name),
				zap.Uint64("cycle", rec.Cycle),
				zap.Error(err),
			)
			if f.onError != nil {
				f.onError(s.Name)
			}
		}
	}
	return nil
}

// Close closes secondary sinks first and the primary last.
func (f *Fanout) Close() error {
	for _, s := range f.secondary {
		if err := s.Sink.Close(); err != nil {
			f.logger.Warn("secondary sink close failed", zap.String("sink", s.Name), zap.Error(err))
		}
	}
	return f.primary.Close()
}
