// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensor_sync/internal/config"
	"github.com/relabs-tech/sensor_sync/internal/record"
)

const (
	wsSendBuffer   = 16
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// RecordHub keeps the latest synchronized record and fans every new one out
// to the connected websocket viewers.
type RecordHub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	latest  record.SynchronizedRecord
	have    bool
	viewers map[*viewer]struct{}
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

func NewRecordHub(logger *zap.Logger) *RecordHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHub{
		logger:  logger.Named("web"),
		viewers: make(map[*viewer]struct{}),
	}
}

// Publish stores a JSON encoded record and forwards it to every viewer.
// Viewers that fall behind miss records rather than stall the hub.
func (h *RecordHub) Publish(payload []byte) error {
	var rec record.SynchronizedRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = rec
	h.have = true
	for v := range h.viewers {
		select {
		case v.send <- payload:
		default:
			h.logger.Debug("viewer lagging, record dropped", zap.Stringer("remote", v.conn.RemoteAddr()))
		}
	}
	return nil
}

func (h *RecordHub) Latest() (record.SynchronizedRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.have
}

// Viewers returns the number of connected websocket viewers.
func (h *RecordHub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

func (h *RecordHub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/records/latest", h.serveLatest)
	mux.HandleFunc("/ws/records", h.serveWS)
	return mux
}

func (h *RecordHub) serveLatest(w http.ResponseWriter, _ *http.Request) {
	rec, ok := h.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		h.logger.Warn("json encode error", zap.Error(err))
	}
}

func (h *RecordHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	if h.have {
		if payload, err := json.Marshal(h.latest); err == nil {
			v.send <- payload
		}
	}
	h.viewers[v] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("viewer connected", zap.Stringer("remote", conn.RemoteAddr()))

	go h.writeLoop(v)

	// Viewers only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.viewers, v)
	close(v.send)
	h.mu.Unlock()
	h.logger.Info("viewer disconnected", zap.Stringer("remote", conn.RemoteAddr()))
}

func (h *RecordHub) writeLoop(v *viewer) {
	defer v.conn.Close()
	for payload := range v.send {
		_ = v.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := v.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Debug("websocket write error", zap.Error(err))
			return
		}
	}
	_ = v.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// RunWeb subscribes to the published records and serves them over HTTP
// until ctx is done.
func RunWeb(ctx context.Context, logger *zap.Logger) error {
	cfg := config.Get()
	hub := NewRecordHub(logger)

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientID+"-web")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))

	if err := subscribeRecords(client, cfg.TopicRecords, logger, hub.Publish); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("web server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
