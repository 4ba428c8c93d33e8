// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"errors"
	"fmt"
)

// ErrNoSample is returned while a source has nothing to report yet.
var ErrNoSample = errors.New("no sample available")

// Sample is one sensor reading: when it was taken, in float seconds on the
// sensor host's clock, and its text payload.
type Sample struct {
	Timestamp float64
	Payload   string
}

// Source is anything that can provide samples on request: the mock
// sources, the serial EM tracker, later a replay source from file.
type Source interface {
	Next() (Sample, error)
}

// Pose is a tracked sensor position (mm) and orientation (degrees).
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// String renders the pose as the "x,y,z,roll,pitch,yaw" payload.
func (p Pose) String() string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f,%.4f,%.4f", p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}
