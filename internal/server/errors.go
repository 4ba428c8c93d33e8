// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package server

import (
	"errors"
	"fmt"

	"github.com/relabs-tech/sensor_sync/internal/supervisor"
)

var (
	// ErrClientDisconnected ends an engine run after a client closed its
	// socket. The slot is already cleared; waiting for a reconnect is safe.
	ErrClientDisconnected = fmt.Errorf("client disconnected: %w", supervisor.ErrSessionEnded)

	ErrClientMissing = errors.New("required client not registered")
	ErrNoSink        = errors.New("no record sink configured")
	ErrNoPushLog     = errors.New("no push log configured")

	errCycleSkipped = errors.New("cycle skipped")
	errCycleLimit   = errors.New("cycle limit reached")
)
