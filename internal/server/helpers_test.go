// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/sensor_sync/internal/client"
	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
)

// answerFunc scripts a sensor double. An empty reply swallows the request;
// ok=false closes the connection instead of answering.
type answerFunc func(n int, request string) (reply string, ok bool)

type sensorDouble struct {
	conn net.Conn

	mx      sync.Mutex
	stamps  []float64
	handled int
}

func startDouble(t *testing.T, addr net.Addr, token string, answer answerFunc) *sensorDouble {
	t.Helper()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	codec := protocol.NewCodec(conn, protocol.FramingLine, 0)
	require.NoError(t, codec.WriteMessage(token))
	return serveDouble(conn, codec, answer)
}

// pipeDouble registers the server end of a pipe and scripts the other end.
func pipeDouble(t *testing.T, registry *client.Registry, typ protocol.ClientType, answer answerFunc) (*client.Connection, *sensorDouble) {
	t.Helper()
	server, peer := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		peer.Close()
	})

	conn := client.NewConnection(server, typ, protocol.NewCodec(server, protocol.FramingLine, 0))
	conn.SetTimeouts(time.Second, time.Second)
	require.True(t, registry.Register(conn))
	return conn, serveDouble(peer, protocol.NewCodec(peer, protocol.FramingLine, 0), answer)
}

func serveDouble(conn net.Conn, codec *protocol.Codec, answer answerFunc) *sensorDouble {
	d := &sensorDouble{conn: conn}
	go func() {
		for n := 0; ; n++ {
			req, err := codec.ReadMessage()
			if err != nil {
				return
			}
			reply, ok := answer(n, req)
			if !ok {
				conn.Close()
				return
			}

			d.mx.Lock()
			d.handled++
			d.mx.Unlock()
			if reply == "" {
				continue
			}
			if ts, err := protocol.ParseReply(reply); err == nil {
				d.mx.Lock()
				d.stamps = append(d.stamps, ts.Timestamp)
				d.mx.Unlock()
			}
			if err := codec.WriteMessage(reply); err != nil {
				return
			}
		}
	}()
	return d
}

// Stamps returns the timestamps of every well-formed reply sent so far.
func (d *sensorDouble) Stamps() []float64 {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]float64(nil), d.stamps...)
}

func cameraAnswer(n int, _ string) (string, bool) {
	return protocol.FormatReply(clock.Seconds(time.Now()), fmt.Sprintf("depth_%d.npy, color_%d.png", n, n)), true
}

func emAnswer(_ int, _ string) (string, bool) {
	time.Sleep(time.Millisecond)
	return protocol.FormatReply(clock.Seconds(time.Now()), "0.1,0.2,0.3"), true
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.LogFile = filepath.Join(dir, "synchronized_data.csv")
	cfg.PushLogFile = filepath.Join(dir, "push_data.csv")
	cfg.CycleInterval = time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RetryMaxDelay = 10 * time.Millisecond
	return cfg
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	l, err := Listen("127.0.0.1:0", 0)
	require.NoError(t, err)
	return l
}

func runAsync(ctx context.Context, fn func(context.Context) error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for run to return")
		return nil
	}
}

func (d *sensorDouble) Handled() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.handled
}

// metricValue reads one counter or gauge sample from g.
func metricValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func handshakes(t *testing.T, g prometheus.Gatherer, result string) float64 {
	t.Helper()
	return metricValue(t, g, "sensor_sync_handshakes_total", map[string]string{"result": result})
}
