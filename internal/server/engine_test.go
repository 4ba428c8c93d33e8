// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

type memorySink struct {
	mx      sync.Mutex
	records []record.SynchronizedRecord
	err     error
}

func (m *memorySink) Append(_ context.Context, rec record.SynchronizedRecord) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) Records() []record.SynchronizedRecord {
	m.mx.Lock()
	defer m.mx.Unlock()
	return append([]record.SynchronizedRecord(nil), m.records...)
}

func engineOptions(maxCycles uint64) EngineOptions {
	return EngineOptions{
		Interval:  time.Millisecond,
		MaxCycles: maxCycles,
	}
}

func TestEngine_LogsCorrectedCycles(t *testing.T) {
	registry := client.NewRegistry()
	camera, _ := pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	_, em := pipeDouble(t, registry, protocol.EMTracker, emAnswer)
	sink := &memorySink{}

	engine := NewEngine(registry, sink, engineOptions(5))
	require.NoError(t, engine.Run(context.Background()))

	records := sink.Records()
	require.Len(t, records, 5)
	emStamps := em.Stamps()
	require.Len(t, emStamps, 5)

	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Cycle)
		assert.GreaterOrEqual(t, rec.RTTDelay, 0.0)
		assert.LessOrEqual(t, rec.EMTimestampCorrected, emStamps[i])
		assert.InDelta(t, emStamps[i]-rec.RTTDelay, rec.EMTimestampCorrected, 1e-9)
		assert.Equal(t, "0.1,0.2,0.3", rec.EMData)
		if i > 0 {
			assert.GreaterOrEqual(t, rec.ServerCycleTimestamp, records[i-1].ServerCycleTimestamp)
		}
	}
	assert.Equal(t, "depth_0.npy, color_0.png", records[0].CameraData)
	assert.Equal(t, Idle, engine.State())
	assert.True(t, camera.Alive())
}

func TestEngine_CameraCorrectionMode(t *testing.T) {
	tests := []struct {
		mode   clock.CorrectionMode
		camera float64
	}{
		{clock.CorrectEMOnly, 50.5},
		{clock.CorrectBoth, 50.0},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			registry := client.NewRegistry()
			pipeDouble(t, registry, protocol.Camera, func(int, string) (string, bool) { return "50.5, frame", true })
			pipeDouble(t, registry, protocol.EMTracker, func(int, string) (string, bool) { return "60.25, pose", true })
			sink := &memorySink{}

			// Every clock read advances one second: each round trip takes 1 s.
			tick := int64(99)
			opts := engineOptions(1)
			opts.CorrectionMode = tt.mode
			opts.Now = func() time.Time {
				tick++
				return time.Unix(tick, 0)
			}
			require.NoError(t, NewEngine(registry, sink, opts).Run(context.Background()))

			records := sink.Records()
			require.Len(t, records, 1)
			assert.Equal(t, record.SynchronizedRecord{
				Cycle:                1,
				ServerCycleTimestamp: 104,
				CameraTimestamp:      tt.camera,
				CameraData:           "frame",
				EMTimestampCorrected: 59.75,
				EMData:               "pose",
				RTTDelay:             0.5,
			}, records[0])
		})
	}
}

func TestEngine_ContinuesNumbering(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	pipeDouble(t, registry, protocol.EMTracker, emAnswer)
	sink := &memorySink{}

	opts := engineOptions(5)
	opts.StartCycle = 3
	engine := NewEngine(registry, sink, opts)
	assert.Equal(t, uint64(3), engine.Cycles())
	require.NoError(t, engine.Run(context.Background()))

	records := sink.Records()
	require.Len(t, records, 2)
	assert.Equal(t, uint64(4), records[0].Cycle)
	assert.Equal(t, uint64(5), records[1].Cycle)
}

func TestEngine_WarnsOnNegativeRoundTrip(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, func(int, string) (string, bool) { return "50.5, frame", true })
	pipeDouble(t, registry, protocol.EMTracker, func(int, string) (string, bool) { return "60.25, pose", true })
	sink := &memorySink{}
	core, logs := observer.New(zap.WarnLevel)

	// The clock runs backwards, so every round trip is negative.
	tick := int64(200)
	opts := engineOptions(1)
	opts.Logger = zap.New(core)
	opts.Now = func() time.Time {
		tick--
		return time.Unix(tick, 0)
	}
	require.NoError(t, NewEngine(registry, sink, opts).Run(context.Background()))

	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 0.0, records[0].RTTDelay)
	assert.Equal(t, 60.25, records[0].EMTimestampCorrected)
	assert.Equal(t, 1, logs.FilterMessage("negative round trip, server clock stepped back").Len())
}

func TestEngine_ParseFailurePolicy(t *testing.T) {
	badSecond := func(n int, req string) (string, bool) {
		if n == 1 {
			return "not-a-timestamp, frame", true
		}
		return cameraAnswer(n, req)
	}

	t.Run("skip-cycle", func(t *testing.T) {
		registry := client.NewRegistry()
		pipeDouble(t, registry, protocol.Camera, badSecond)
		pipeDouble(t, registry, protocol.EMTracker, emAnswer)
		sink := &memorySink{}

		opts := engineOptions(4)
		opts.FailurePolicy = config.SkipCycle
		engine := NewEngine(registry, sink, opts)
		require.NoError(t, engine.Run(context.Background()))

		assert.Len(t, sink.Records(), 3)
		assert.Equal(t, uint64(4), engine.Cycles())
	})

	t.Run("abort", func(t *testing.T) {
		registry := client.NewRegistry()
		pipeDouble(t, registry, protocol.Camera, badSecond)
		pipeDouble(t, registry, protocol.EMTracker, emAnswer)
		sink := &memorySink{}

		opts := engineOptions(4)
		opts.FailurePolicy = config.Abort
		err := NewEngine(registry, sink, opts).Run(context.Background())

		require.Error(t, err)
		assert.True(t, protocol.IsKind(err, protocol.ParseFailed))
		assert.ErrorIs(t, err, protocol.ErrBadTimestamp)
		assert.Len(t, sink.Records(), 1)
	})
}

func TestEngine_ReadTimeoutSkipsCycle(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	emConn, em := pipeDouble(t, registry, protocol.EMTracker, func(n int, req string) (string, bool) {
		if n == 1 {
			return "", true
		}
		return emAnswer(n, req)
	})
	emConn.SetTimeouts(50*time.Millisecond, time.Second)
	sink := &memorySink{}

	require.NoError(t, NewEngine(registry, sink, engineOptions(3)).Run(context.Background()))

	assert.Len(t, sink.Records(), 2)
	assert.Equal(t, 3, em.Handled())
	assert.True(t, registry.AllRequiredPresent(protocol.AllClientTypes))
}

func TestEngine_PeerClosedUnregisters(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	emConn, _ := pipeDouble(t, registry, protocol.EMTracker, func(n int, req string) (string, bool) {
		if n == 2 {
			return "", false
		}
		return emAnswer(n, req)
	})
	sink := &memorySink{}

	err := NewEngine(registry, sink, engineOptions(0)).Run(context.Background())

	require.ErrorIs(t, err, ErrClientDisconnected)
	assert.True(t, protocol.IsKind(err, protocol.PeerClosed))
	assert.Len(t, sink.Records(), 2)
	assert.False(t, emConn.Alive())
	_, ok := registry.Get(protocol.EMTracker)
	assert.False(t, ok)
	_, ok = registry.Get(protocol.Camera)
	assert.True(t, ok)
}

func TestEngine_LogWriteFailureIsFatal(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	pipeDouble(t, registry, protocol.EMTracker, emAnswer)
	sink := &memorySink{err: errors.New("disk full")}

	opts := engineOptions(0)
	opts.FailurePolicy = config.SkipCycle
	err := NewEngine(registry, sink, opts).Run(context.Background())

	assert.True(t, protocol.IsKind(err, protocol.LogWriteFailed))
}

func TestEngine_MissingClient(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)

	err := NewEngine(registry, &memorySink{}, engineOptions(1)).Run(context.Background())
	assert.ErrorIs(t, err, ErrClientMissing)
}

func TestEngine_StopsOnCancel(t *testing.T) {
	registry := client.NewRegistry()
	pipeDouble(t, registry, protocol.Camera, cameraAnswer)
	pipeDouble(t, registry, protocol.EMTracker, emAnswer)
	sink := &memorySink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, NewEngine(registry, sink, engineOptions(0)).Run)

	require.Eventually(t, func() bool { return len(sink.Records()) >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, waitDone(t, done))
}
