// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

// State is the cycle engine's position within one cycle.
type State int32

const (
	Idle State = iota
	RequestingCamera
	RequestingEM
	Logging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestingCamera:
		return "requesting_camera"
	case RequestingEM:
		return "requesting_em"
	case Logging:
		return "logging"
	default:
		return "unknown"
	}
}

// EngineOptions configure one engine run. Zero values mean no pause between
// cycles, skip-cycle failure handling and EM-only correction.
type EngineOptions struct {
	Interval       time.Duration
	FailurePolicy  config.FailurePolicy
	CorrectionMode clock.CorrectionMode
	// StartCycle is the number of cycles run by earlier sessions. Numbering
	// continues after it.
	StartCycle uint64
	// MaxCycles stops the run once that many cycles have started, StartCycle
	// included; 0 runs until cancelled.
	MaxCycles uint64
	Now       clock.Now
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Engine drives the synchronous request/response cycle against the camera
// and EM tracker connections registered when Run starts.
type Engine struct {
	registry *client.Registry
	sink     record.Sink
	opts     EngineOptions
	logger   *zap.Logger

	state atomic.Int32
	cycle atomic.Uint64
}

// NewEngine returns an idle engine that logs to sink.
func NewEngine(registry *client.Registry, sink record.Sink, opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = config.SkipCycle
	}
	e := &Engine{
		registry: registry,
		sink:     sink,
		opts:     opts,
		logger:   opts.Logger.Named("engine"),
	}
	e.cycle.Store(opts.StartCycle)
	return e
}

// State returns the step the current cycle is in.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Cycles returns the number of cycles started so far, StartCycle included.
func (e *Engine) Cycles() uint64 {
	return e.cycle.Load()
}

// Run cycles until ctx is done, MaxCycles is reached or a fatal error
// occurs. A client closing its socket unregisters it and returns
// ErrClientDisconnected.
func (e *Engine) Run(ctx context.Context) error {
	if e.sink == nil {
		return ErrNoSink
	}
	camera, ok := e.registry.Get(protocol.Camera)
	if !ok {
		return fmt.Errorf("%s: %w", protocol.Camera, ErrClientMissing)
	}
	em, ok := e.registry.Get(protocol.EMTracker)
	if !ok {
		return fmt.Errorf("%s: %w", protocol.EMTracker, ErrClientMissing)
	}

	e.logger.Info("cycle engine started",
		zap.String("camera", camera.RemoteAddr()),
		zap.String("em", em.RemoteAddr()),
		zap.Duration("interval", e.opts.Interval),
		zap.String("failure_policy", string(e.opts.FailurePolicy)),
		zap.Stringer("correction", e.opts.CorrectionMode),
	)
	defer e.setState(Idle)

	for e.opts.MaxCycles == 0 || e.Cycles() < e.opts.MaxCycles {
		if ctx.Err() != nil {
			return nil
		}

		err := e.runCycle(ctx, camera, em)
		switch {
		case err == nil:
			e.opts.Metrics.ObserveCycle(metrics.OutcomeLogged)
		case errors.Is(err, errCycleSkipped):
			e.logger.Warn("cycle skipped", zap.Uint64("cycle", e.Cycles()), zap.Error(err))
			e.opts.Metrics.ObserveCycle(metrics.OutcomeSkipped)
		default:
			e.opts.Metrics.ObserveCycle(metrics.OutcomeFailed)
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("cycle failed", zap.Uint64("cycle", e.Cycles()), zap.Error(err))
			return err
		}

		e.setState(Idle)
		if !sleep(ctx, e.opts.Interval) {
			return nil
		}
	}

	e.logger.Info("cycle limit reached", zap.Uint64("cycles", e.opts.MaxCycles))
	return nil
}

func (e *Engine) runCycle(ctx context.Context, camera, em *client.Connection) error {
	cycle := e.cycle.Add(1)

	e.setState(RequestingCamera)
	cam, camReq, camResp, err := e.request(camera, protocol.RequestCameraData)
	if err != nil {
		return e.fail(camera, err)
	}

	e.setState(RequestingEM)
	emReply, tReq, tResp, err := e.request(em, protocol.RequestEMData)
	if err != nil {
		return e.fail(em, err)
	}

	correction := clock.Estimate(tReq, tResp, emReply.Timestamp)
	cameraTS := cam.Timestamp
	if e.opts.CorrectionMode == clock.CorrectBoth {
		cameraTS = clock.Estimate(camReq, camResp, cam.Timestamp).Corrected
	}
	if correction.Clamped {
		e.logger.Warn("negative round trip, server clock stepped back",
			zap.Uint64("cycle", cycle),
			zap.Float64("t_request", tReq),
			zap.Float64("t_response", tResp),
		)
	}
	e.opts.Metrics.ObserveRTTDelay(correction.Delay)

	e.setState(Logging)
	rec := record.SynchronizedRecord{
		Cycle:                cycle,
		ServerCycleTimestamp: clock.Seconds(e.opts.Now()),
		CameraTimestamp:      cameraTS,
		CameraData:           cam.Payload,
		EMTimestampCorrected: correction.Corrected,
		EMData:               emReply.Payload,
		RTTDelay:             correction.Delay,
	}
	if err := e.sink.Append(ctx, rec); err != nil {
		if !protocol.IsKind(err, protocol.LogWriteFailed) {
			err = protocol.NewError(protocol.LogWriteFailed, "append", "", err)
		}
		return err
	}

	e.logger.Debug("record logged",
		zap.Uint64("cycle", cycle),
		zap.Float64("server_ts", rec.ServerCycleTimestamp),
		zap.Float64("em_ts_corrected", rec.EMTimestampCorrected),
		zap.Float64("rtt_delay", rec.RTTDelay),
	)
	return nil
}

// request sends msg and parses the reply, stamping the wall clock right
// before the send and right after the reply arrives.
func (e *Engine) request(conn *client.Connection, msg string) (protocol.Reply, float64, float64, error) {
	logger := e.logger.With(zap.Stringer("client", conn.Type))

	start := e.opts.Now()
	raw, err := conn.Request(msg)
	end := e.opts.Now()
	if err != nil {
		return protocol.Reply{}, 0, 0, err
	}
	e.opts.Metrics.ObserveRequest(conn.Type.String(), end.Sub(start))

	reply, err := protocol.ParseReply(raw)
	if err != nil {
		return protocol.Reply{}, 0, 0, fmt.Errorf("%s: %w", conn.Type, err)
	}
	logger.Debug("reply received",
		zap.Float64("timestamp", reply.Timestamp),
		zap.String("payload", reply.Payload),
	)
	return reply, clock.Seconds(start), clock.Seconds(end), nil
}

func (e *Engine) fail(conn *client.Connection, err error) error {
	switch protocol.KindOf(err) {
	case protocol.PeerClosed:
		e.registry.UnregisterConn(conn)
		e.logger.Warn("client disconnected",
			zap.Stringer("client", conn.Type),
			zap.String("id", conn.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	case protocol.ParseFailed, protocol.ReadTimeout:
		if e.opts.FailurePolicy == config.SkipCycle {
			return fmt.Errorf("%w: %w", errCycleSkipped, err)
		}
	}
	return err
}

func (e *Engine) setState(s State) {
	if State(e.state.Swap(int32(s))) != s {
		e.logger.Debug("engine state", zap.Stringer("state", s))
	}
}

// sleep waits d or until ctx is done. It reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
