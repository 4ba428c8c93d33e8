// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/sensor_sync/internal/clock"
)

// MockCameraSource numbers frames the way the depth camera client names
// its saved files.
type MockCameraSource struct {
	mx    sync.Mutex
	frame int
	now   clock.Now
}

func NewMockCameraSource(now clock.Now) *MockCameraSource {
	if now == nil {
		now = time.Now
	}
	return &MockCameraSource{now: now}
}

func (m *MockCameraSource) Next() (Sample, error) {
	m.mx.Lock()
	n := m.frame
	m.frame++
	m.mx.Unlock()

	return Sample{
		Timestamp: clock.Seconds(m.now()),
		Payload:   fmt.Sprintf("depth_%d.npy, color_%d.png", n, n),
	}, nil
}

// MockEMSource generates a smoothly moving pose.
type MockEMSource struct {
	start time.Time
	now   clock.Now
}

func NewMockEMSource(now clock.Now) *MockEMSource {
	if now == nil {
		now = time.Now
	}
	return &MockEMSource{start: now(), now: now}
}

func (m *MockEMSource) Next() (Sample, error) {
	t := m.now()
	elapsed := t.Sub(m.start).Seconds()

	pose := Pose{
		X:     100 * math.Sin(elapsed*0.5),
		Y:     80 * math.Cos(elapsed*0.3),
		Z:     150 + 10*math.Sin(elapsed),
		Roll:  20 * math.Sin(elapsed),
		Pitch: 15 * math.Cos(elapsed*0.7),
		Yaw:   math.Mod(elapsed*30, 360),
	}
	return Sample{Timestamp: clock.Seconds(t), Payload: pose.String()}, nil
}
