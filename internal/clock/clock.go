// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package clock estimates one-way network delay from a request round trip
// and corrects timestamps reported on a remote clock.
package clock

import (
	"fmt"
	"strings"
	"time"
)

// Correction is the outcome of one round-trip measurement.
type Correction struct {
	// Delay is the estimated one-way delay in seconds.
	Delay float64
	// Corrected is the remote timestamp shifted back by Delay.
	Corrected float64
	// Clamped is set when the round trip was negative and Delay forced to 0.
	Clamped bool
}

// Estimate assumes a symmetric path: the one-way delay is half the round
// trip between tRequest and tResponse, both read on the local clock.
// A negative round trip (local clock stepped backwards) yields zero delay.
func Estimate(tRequest, tResponse, tRemote float64) Correction {
	delay := (tResponse - tRequest) / 2
	clamped := delay < 0
	if clamped {
		delay = 0
	}
	return Correction{
		Delay:     delay,
		Corrected: tRemote - delay,
		Clamped:   clamped,
	}
}

// Seconds converts a wall-clock time to float seconds since the Unix epoch,
// the unit used on the wire and in the log.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Now returns the wall clock, overridable in tests.
type Now func() time.Time

// CorrectionMode selects which channels get round-trip correction.
type CorrectionMode byte

const (
	// CorrectEMOnly trusts the camera's self-reported timestamp and corrects
	// only the EM tracker channel.
	CorrectEMOnly CorrectionMode = iota
	// CorrectBoth applies the same half round-trip correction to the camera.
	CorrectBoth
)

func (m CorrectionMode) String() string {
	if m == CorrectBoth {
		return "both"
	}
	return "em-only"
}

func ParseCorrectionMode(s string) (CorrectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "em-only", "em_only":
		return CorrectEMOnly, nil
	case "both":
		return CorrectBoth, nil
	default:
		return 0, fmt.Errorf("unknown correction mode %q", s)
	}
}
