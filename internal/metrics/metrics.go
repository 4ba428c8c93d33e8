// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cycle outcomes.
const (
	OutcomeLogged  = "logged"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics is the server's Prometheus instrumentation. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles           *prometheus.CounterVec
	rttDelay         prometheus.Histogram
	requestDuration  *prometheus.HistogramVec
	connectedClients *prometheus.GaugeVec
	handshakes       *prometheus.CounterVec
	acceptErrors     prometheus.Counter
	sinkErrors       *prometheus.CounterVec
	pushMessages     *prometheus.CounterVec
}

func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_sync_cycles_total",
				Help: "Synchronization cycles by outcome",
			},
			[]string{"outcome"},
		),
		rttDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sensor_sync_rtt_delay_seconds",
				Help:    "Estimated one-way delay (half round trip) to the EM tracker",
				Buckets: []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sensor_sync_request_duration_seconds",
				Help:    "Request to reply duration per client",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"client"},
		),
		connectedClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sensor_sync_connected_clients",
				Help: "Registered client connections by type",
			},
			[]string{"client"},
		),
		handshakes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_sync_handshakes_total",
				Help: "Handshake attempts by result",
			},
			[]string{"result"},
		),
		acceptErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_sync_accept_errors_total",
				Help: "Listener accept failures",
			},
		),
		sinkErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_sync_sink_errors_total",
				Help: "Failed writes to secondary record sinks",
			},
			[]string{"sink"},
		),
		pushMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_sync_push_messages_total",
				Help: "Messages received in push mode by client and result",
			},
			[]string{"client", "result"},
		),
	}
}

func (m *Metrics) ObserveCycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRTTDelay(delaySeconds float64) {
	if m == nil {
		return
	}
	m.rttDelay.Observe(delaySeconds)
}

func (m *Metrics) ObserveRequest(client string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(client).Observe(d.Seconds())
}

func (m *Metrics) SetConnected(client string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connectedClients.WithLabelValues(client).Set(v)
}

func (m *Metrics) ObserveHandshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObservePushMessage(client, result string) {
	if m == nil {
		return
	}
	m.pushMessages.WithLabelValues(client, result).Inc()
}
