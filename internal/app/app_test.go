// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/metrics"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

var sample = record.SynchronizedRecord{
	Cycle:                7,
	ServerCycleTimestamp: 1700000000.25,
	CameraTimestamp:      1700000000.125,
	CameraData:           "depth_7.npy, color_7.png",
	EMTimestampCorrected: 1700000000.2,
	EMData:               "1.0,2.0,3.0,0,0,90",
	RTTDelay:             0.0015,
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestPrintRecord(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printRecord(&out, mustJSON(t, sample)))

	line := out.String()
	assert.True(t, strings.HasPrefix(line, "[SYNC] cycle=7 "))
	assert.Contains(t, line, "rtt=1.50ms")
	assert.Contains(t, line, `cam_data="depth_7.npy, color_7.png"`)
	assert.True(t, strings.HasSuffix(line, "\n"))

	assert.Error(t, printRecord(&out, []byte("{not json")))
}

func TestRecordHub_Latest(t *testing.T) {
	hub := NewRecordHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/records/latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, hub.Publish(mustJSON(t, sample)))

	resp, err = http.Get(srv.URL + "/api/records/latest")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got record.SynchronizedRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, sample, got)

	assert.Error(t, hub.Publish([]byte("garbage")))
	latest, ok := hub.Latest()
	assert.True(t, ok)
	assert.Equal(t, sample, latest, "bad payloads leave the latest record alone")
}

func TestRecordHub_WebsocketFeed(t *testing.T) {
	hub := NewRecordHub(zaptest.NewLogger(t))
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	require.NoError(t, hub.Publish(mustJSON(t, sample)))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/records"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got record.SynchronizedRecord
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sample, got, "new viewers get the latest record first")

	require.Eventually(t, func() bool { return hub.Viewers() == 1 }, 2*time.Second, 5*time.Millisecond)
	next := sample
	next.Cycle = 8
	require.NoError(t, hub.Publish(mustJSON(t, next)))

	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, uint64(8), got.Cycle)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Viewers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestOpenSinks_MirrorsToSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.LogFile = filepath.Join(dir, "logs", "synchronized_data.csv")
	cfg.SQLitePath = filepath.Join(dir, "records.db")

	sink, err := openSinks(cfg, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)

	require.NoError(t, sink.Append(context.Background(), sample))
	require.NoError(t, sink.Close())

	rows, err := record.ReadLog(cfg.LogFile)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sample.CameraData, rows[0].CameraData)
	assert.FileExists(t, cfg.SQLitePath)
}

func TestNewSensorClient_UsesConfiguredToken(t *testing.T) {
	cfg := config.Default()
	tokens, err := protocol.ParseTokenTable("cam-01=camera,EMTracker=em")
	require.NoError(t, err)
	cfg.HandshakeTokens = tokens

	c := newSensorClient(cfg, protocol.Camera, nil, zaptest.NewLogger(t))
	assert.NotNil(t, c)
	assert.Equal(t, "cam-01", c.Token())
}
