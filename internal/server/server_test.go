// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

func openLog(t *testing.T, cfg *config.Config) *record.Logger {
	t.Helper()
	l, err := record.OpenLogger(cfg.LogFile)
	require.NoError(t, err)
	return l
}

func readRows(t *testing.T, path string) []record.SynchronizedRecord {
	t.Helper()
	rows, err := record.ReadLog(path)
	require.NoError(t, err)
	return rows
}

// rowCount is safe to call from Eventually conditions.
func rowCount(path string) int {
	rows, err := record.ReadLog(path)
	if err != nil {
		return -1
	}
	return len(rows)
}

func TestServer_FiveCyclesEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 5
	listener := listenLoopback(t)
	reg := prometheus.NewRegistry()

	srv := New(cfg, Deps{
		Listener: listener,
		Sink:     openLog(t, cfg),
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics.New(reg),
	})
	done := runAsync(context.Background(), srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, cameraAnswer)
	em := startDouble(t, listener.Addr(), protocol.TokenEMTracker, emAnswer)

	require.NoError(t, waitDone(t, done))

	rows := readRows(t, cfg.LogFile)
	require.Len(t, rows, 5)
	emStamps := em.Stamps()
	require.Len(t, emStamps, 5)
	for i, row := range rows {
		assert.Equal(t, fmt.Sprintf("depth_%d.npy, color_%d.png", i, i), row.CameraData)
		assert.GreaterOrEqual(t, row.RTTDelay, 0.0)
		assert.LessOrEqual(t, row.EMTimestampCorrected, emStamps[i])
		if i > 0 {
			assert.GreaterOrEqual(t, row.ServerCycleTimestamp, rows[i-1].ServerCycleTimestamp)
		}
	}

	assert.Equal(t, 5.0, metricValue(t, reg, "sensor_sync_cycles_total", map[string]string{"outcome": metrics.OutcomeLogged}))
	assert.Equal(t, 2.0, handshakes(t, reg, HandshakeAccepted))
	assert.Empty(t, srv.Registry().Snapshot(), "connections are closed on return")
	assert.Equal(t, 0.0, metricValue(t, reg, "sensor_sync_connected_clients", map[string]string{"client": "camera"}))
}

func TestServer_WaitsForReconnect(t *testing.T) {
	cfg := testConfig(t)
	listener := listenLoopback(t)

	srv := New(cfg, Deps{Listener: listener, Sink: openLog(t, cfg), Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, cameraAnswer)
	startDouble(t, listener.Addr(), protocol.TokenEMTracker, func(n int, req string) (string, bool) {
		if n == 2 {
			return "", false
		}
		return emAnswer(n, req)
	})

	require.Eventually(t, func() bool {
		_, ok := srv.Registry().Get(protocol.EMTracker)
		return !ok && rowCount(cfg.LogFile) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, srv.Healthy())

	startDouble(t, listener.Addr(), protocol.TokenEMTracker, emAnswer)
	require.Eventually(t, func() bool {
		return rowCount(cfg.LogFile) >= 4
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, srv.Healthy())

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestServer_MirrorKeepsRowsAcrossReconnect(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 6
	listener := listenLoopback(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	dbPath := filepath.Join(t.TempDir(), "records.db")
	runID := uuid.New()
	mirror, err := record.OpenSQLite(dbPath, runID)
	require.NoError(t, err)
	sink := record.NewFanout(openLog(t, cfg), zaptest.NewLogger(t), record.NamedSink{Name: "sqlite", Sink: mirror})
	sink.OnSinkError(m.ObserveSinkError)

	srv := New(cfg, Deps{Listener: listener, Sink: sink, Logger: zaptest.NewLogger(t), Metrics: m})
	done := runAsync(context.Background(), srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, cameraAnswer)
	startDouble(t, listener.Addr(), protocol.TokenEMTracker, func(n int, req string) (string, bool) {
		if n == 2 {
			return "", false
		}
		return emAnswer(n, req)
	})
	require.Eventually(t, func() bool {
		_, ok := srv.Registry().Get(protocol.EMTracker)
		return !ok && rowCount(cfg.LogFile) == 2
	}, 5*time.Second, 5*time.Millisecond)

	startDouble(t, listener.Addr(), protocol.TokenEMTracker, emAnswer)
	require.NoError(t, waitDone(t, done))

	// Cycle 3 was lost to the disconnect; numbering continues after it.
	assert.Len(t, readRows(t, cfg.LogFile), 5)
	mirror, err = record.OpenSQLite(dbPath, runID)
	require.NoError(t, err)
	defer mirror.Close()
	got, err := mirror.Records(context.Background(), runID)
	require.NoError(t, err)

	cycles := make([]uint64, 0, len(got))
	for _, rec := range got {
		cycles = append(cycles, rec.Cycle)
	}
	assert.Equal(t, []uint64{1, 2, 4, 5, 6}, cycles)
	assert.Equal(t, 0.0, metricValue(t, reg, "sensor_sync_sink_errors_total", map[string]string{"sink": "sqlite"}))
}

func TestServer_SurvivesAcceptError(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxCycles = 3
	listener := newFlakyListener(listenLoopback(t), 1)
	reg := prometheus.NewRegistry()

	srv := New(cfg, Deps{
		Listener: listener,
		Sink:     openLog(t, cfg),
		Logger:   zaptest.NewLogger(t),
		Metrics:  metrics.New(reg),
	})
	done := runAsync(context.Background(), srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, cameraAnswer)
	startDouble(t, listener.Addr(), protocol.TokenEMTracker, emAnswer)

	require.NoError(t, waitDone(t, done))
	assert.Len(t, readRows(t, cfg.LogFile), 3)
	assert.Equal(t, 1.0, metricValue(t, reg, "sensor_sync_accept_errors_total", nil))
}

func TestServer_RetriesBind(t *testing.T) {
	blocker := listenLoopback(t)
	cfg := testConfig(t)
	cfg.ListenHost = "127.0.0.1"
	cfg.ListenPort = blocker.Addr().(*net.TCPAddr).Port

	srv := New(cfg, Deps{Sink: &memorySink{}, Logger: zaptest.NewLogger(t)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, srv.Run)

	select {
	case err := <-done:
		t.Fatalf("run returned while the port was taken: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, blocker.Close())
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", cfg.ListenAddr())
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestServer_AbortPolicyEndsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailurePolicy = config.Abort
	listener := listenLoopback(t)

	srv := New(cfg, Deps{Listener: listener, Sink: openLog(t, cfg)})
	done := runAsync(context.Background(), srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, func(int, string) (string, bool) {
		return "garbage", true
	})
	startDouble(t, listener.Addr(), protocol.TokenEMTracker, emAnswer)

	err := waitDone(t, done)
	assert.True(t, protocol.IsKind(err, protocol.ParseFailed))
	assert.Empty(t, readRows(t, cfg.LogFile))
}

func TestServer_ShutdownWhileWaiting(t *testing.T) {
	cfg := testConfig(t)
	listener := listenLoopback(t)
	sink := &memorySink{}

	srv := New(cfg, Deps{Listener: listener, Sink: sink})
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, srv.Run)

	startDouble(t, listener.Addr(), protocol.TokenRealSense, cameraAnswer)
	require.Eventually(t, func() bool {
		_, ok := srv.Registry().Get(protocol.Camera)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitDone(t, done))

	_, err := net.Dial("tcp", listener.Addr().String())
	assert.Error(t, err, "listener is closed")
	assert.Empty(t, srv.Registry().Snapshot())
}

func TestServer_PushMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModePush
	cfg.ReadTimeout = 50 * time.Millisecond
	listener := listenLoopback(t)

	pushLog, err := record.OpenPushLogger(cfg.PushLogFile)
	require.NoError(t, err)

	fixed := time.Unix(1000, 0)
	srv := New(cfg, Deps{
		Listener: listener,
		PushLog:  pushLog,
		Now:      func() time.Time { return fixed },
		Logger:   zaptest.NewLogger(t),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, srv.Run)

	conn, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	codec := protocol.NewCodec(conn, protocol.FramingLine, 0)
	for _, msg := range []string{protocol.TokenEMTracker, "1.5, 0.1,0.2,0.3", "not a reply", "2.5, 0.4,0.5,0.6"} {
		require.NoError(t, codec.WriteMessage(msg))
	}

	var rows []record.PushRecord
	require.Eventually(t, func() bool {
		rows, err = record.ReadPushLog(cfg.PushLogFile)
		return err == nil && len(rows) == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []record.PushRecord{
		{ServerTimestamp: 1000, Client: "em", ClientTimestamp: 1.5, Data: "0.1,0.2,0.3"},
		{ServerTimestamp: 1000, Client: "em", ClientTimestamp: 2.5, Data: "0.4,0.5,0.6"},
	}, rows)

	conn.Close()
	require.Eventually(t, func() bool {
		return len(srv.Registry().Snapshot()) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

func TestServer_MissingSink(t *testing.T) {
	cfg := testConfig(t)
	assert.ErrorIs(t, New(cfg, Deps{}).Run(context.Background()), ErrNoSink)

	cfg.Mode = config.ModePush
	assert.ErrorIs(t, New(cfg, Deps{}).Run(context.Background()), ErrNoPushLog)
}
