// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/relabs-tech/sensor_sync/internal/clock"
	"github.com/relabs-tech/sensor_sync/internal/protocol"
	"github.com/relabs-tech/sensor_sync/internal/supervisor"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. SENSOR_SYNC_LISTEN_PORT=5000.
const EnvPrefix = "SENSOR_SYNC"

// Mode selects the server's concurrency shape.
type Mode string

const (
	// ModeSync runs one request/response cycle at a time against both clients.
	ModeSync Mode = "sync"
	// ModePush gives every client its own handler that logs whatever it sends.
	ModePush Mode = "push"
)

// FailurePolicy decides what a parse failure or stalled read does to a run.
type FailurePolicy string

const (
	// SkipCycle drops the failing cycle and continues with the next one.
	SkipCycle FailurePolicy = "skip-cycle"
	// Abort ends the run on the first parse or socket error.
	Abort FailurePolicy = "abort"
)

// Config holds all application configuration values.
type Config struct {
	// Listener
	ListenHost     string
	ListenPort     int
	MaxConnections int

	// Logs
	LogFile     string
	PushLogFile string
	SQLitePath  string

	// Protocol
	Mode             Mode
	Framing          protocol.Framing
	HandshakeTokens  protocol.TokenTable
	RequiredClients  []protocol.ClientType
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration

	// Cycle
	CycleInterval  time.Duration
	FailurePolicy  FailurePolicy
	CorrectionMode clock.CorrectionMode
	MaxCycles      uint64

	// Reconnection
	RetryDelay      time.Duration
	RetryMaxDelay   time.Duration
	RetryMultiplier float64
	RetryJitter     float64

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	TopicRecords string

	// HTTP surfaces
	MetricsAddr   string
	WebServerPort int

	// Operator logging
	LogLevel  string
	LogFormat string

	// Sensor clients
	ServerAddr   string
	EMSerialPort string
	EMSerialBaud int
}

// defaults mirror the reference deployment: port 4999, 100 ms cycles,
// 5 s reconnect delay, RealSense + EMTracker required.
var defaults = map[string]string{
	"LISTEN_HOST":          "0.0.0.0",
	"LISTEN_PORT":          "4999",
	"MAX_CONNECTIONS":      "8",
	"LOG_FILE":             "data/synchronized_data.csv",
	"PUSH_LOG_FILE":        "data/push_data.csv",
	"SQLITE_PATH":          "",
	"MODE":                 string(ModeSync),
	"FRAMING":              "line",
	"HANDSHAKE_TOKENS":     "RealSense=camera,EMTracker=em",
	"REQUIRED_CLIENTS":     "camera,em",
	"HANDSHAKE_TIMEOUT_MS": "5000",
	"READ_TIMEOUT_MS":      "2000",
	"CYCLE_INTERVAL_MS":    "100",
	"FAILURE_POLICY":       string(SkipCycle),
	"CORRECTION_MODE":      "em-only",
	"MAX_CYCLES":           "0",
	"RETRY_DELAY_MS":       "5000",
	"RETRY_MAX_DELAY_MS":   "5000",
	"RETRY_MULTIPLIER":     "1",
	"RETRY_JITTER":         "0",
	"MQTT_BROKER":          "",
	"MQTT_CLIENT_ID":       "sensor-sync-server",
	"TOPIC_RECORDS":        "sensor_sync/records",
	"METRICS_ADDR":         "",
	"WEB_SERVER_PORT":      "8080",
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "console",
	"SERVER_ADDR":          "127.0.0.1:4999",
	"EM_SERIAL_PORT":       "",
	"EM_SERIAL_BAUD":       "115200",
}

// Package-level unexported variables for the singleton:
//   - globalConfig: only reachable through InitGlobal and Get
//   - configOnce: InitGlobal runs once, even if called multiple times
//   - configMu: write lock for initialization, read lock for Get
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads a KEY=VALUE configuration file. Every key has a default, and
// SENSOR_SYNC_<KEY> environment variables override the file. An empty path
// loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if err := cfg.setValue(name, strings.TrimSpace(v.GetString(key))); err != nil {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	cfg := &Config{}
	for key, value := range defaults {
		if err := cfg.setValue(key, value); err != nil {
			panic(fmt.Sprintf("invalid default %s=%q: %v", key, value, err))
		}
	}
	return cfg
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Listener
	case "LISTEN_HOST":
		c.ListenHost = value
	case "LISTEN_PORT":
		c.ListenPort, err = parseInt(value, 0, 65535)
	case "MAX_CONNECTIONS":
		c.MaxConnections, err = parseInt(value, 0, 1<<16)

	// Logs
	case "LOG_FILE":
		c.LogFile = value
	case "PUSH_LOG_FILE":
		c.PushLogFile = value
	case "SQLITE_PATH":
		c.SQLitePath = value

	// Protocol
	case "MODE":
		switch Mode(strings.ToLower(value)) {
		case ModeSync, ModePush:
			c.Mode = Mode(strings.ToLower(value))
		default:
			return fmt.Errorf("must be %q or %q, got %q", ModeSync, ModePush, value)
		}
	case "FRAMING":
		c.Framing, err = protocol.ParseFraming(value)
	case "HANDSHAKE_TOKENS":
		c.HandshakeTokens, err = protocol.ParseTokenTable(value)
	case "REQUIRED_CLIENTS":
		c.RequiredClients, err = protocol.ParseClientTypes(value)
	case "HANDSHAKE_TIMEOUT_MS":
		c.HandshakeTimeout, err = parseMillis(value)
	case "READ_TIMEOUT_MS":
		c.ReadTimeout, err = parseMillis(value)

	// Cycle
	case "CYCLE_INTERVAL_MS":
		c.CycleInterval, err = parseMillis(value)
	case "FAILURE_POLICY":
		switch FailurePolicy(strings.ToLower(value)) {
		case SkipCycle, Abort:
			c.FailurePolicy = FailurePolicy(strings.ToLower(value))
		default:
			return fmt.Errorf("must be %q or %q, got %q", SkipCycle, Abort, value)
		}
	case "CORRECTION_MODE":
		c.CorrectionMode, err = clock.ParseCorrectionMode(value)
	case "MAX_CYCLES":
		c.MaxCycles, err = strconv.ParseUint(value, 10, 64)

	// Reconnection
	case "RETRY_DELAY_MS":
		c.RetryDelay, err = parseMillis(value)
	case "RETRY_MAX_DELAY_MS":
		c.RetryMaxDelay, err = parseMillis(value)
	case "RETRY_MULTIPLIER":
		c.RetryMultiplier, err = parseFloatRange(value, 1, 10)
	case "RETRY_JITTER":
		c.RetryJitter, err = parseFloatRange(value, 0, 1)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "TOPIC_RECORDS":
		c.TopicRecords = value

	// HTTP surfaces
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(value, 0, 65535)

	// Operator logging
	case "LOG_LEVEL":
		c.LogLevel = value
	case "LOG_FORMAT":
		c.LogFormat = value

	// Sensor clients
	case "SERVER_ADDR":
		c.ServerAddr = value
	case "EM_SERIAL_PORT":
		c.EMSerialPort = value
	case "EM_SERIAL_BAUD":
		c.EMSerialBaud, err = parseInt(value, 0, 4_000_000)

	default:
		return fmt.Errorf("unknown config key")
	}

	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	return nil
}

// validate checks cross-field constraints.
func (c *Config) validate() error {
	if c.LogFile == "" {
		return fmt.Errorf("LOG_FILE is required")
	}
	if c.Mode == ModePush && c.PushLogFile == "" {
		return fmt.Errorf("PUSH_LOG_FILE is required in push mode")
	}
	if c.CycleInterval < 0 {
		return fmt.Errorf("CYCLE_INTERVAL_MS must not be negative")
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("RETRY_DELAY_MS must be positive")
	}
	if c.RetryMaxDelay < c.RetryDelay {
		return fmt.Errorf("RETRY_MAX_DELAY_MS must be >= RETRY_DELAY_MS")
	}
	for _, t := range c.RequiredClients {
		if _, ok := c.HandshakeTokens.TokenFor(t); !ok {
			return fmt.Errorf("REQUIRED_CLIENTS includes %s but no HANDSHAKE_TOKENS entry maps to it", t)
		}
	}
	if c.Mode == ModeSync {
		for _, t := range protocol.AllClientTypes {
			if !c.Requires(t) {
				return fmt.Errorf("sync mode requires REQUIRED_CLIENTS to include %s", t)
			}
		}
	}
	return nil
}

// Requires reports whether t is in the required client set.
func (c *Config) Requires(t protocol.ClientType) bool {
	for _, r := range c.RequiredClients {
		if r == t {
			return true
		}
	}
	return false
}

// ListenAddr joins host and port.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.ListenPort))
}

// RetryBackoff is the reconnect delay schedule shared by the server and
// the sensor clients.
func (c *Config) RetryBackoff() supervisor.Backoff {
	return supervisor.Backoff{
		Initial:    c.RetryDelay,
		Max:        c.RetryMaxDelay,
		Multiplier: c.RetryMultiplier,
		Jitter:     c.RetryJitter,
	}
}

func parseInt(value string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("must be %d-%d", lo, hi)
	}
	return n, nil
}

func parseMillis(value string) (time.Duration, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return time.Duration(n) * time.Millisecond, nil
}

func parseFloatRange(value string, lo, hi float64) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if f < lo || f > hi {
		return 0, fmt.Errorf("must be %g-%g", lo, hi)
	}
	return f, nil
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so only the first call loads anything.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
