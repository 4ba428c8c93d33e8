// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package supervisor

import (
	"math/rand"
	"time"
)

// Backoff computes the delay before reconnect attempt n (starting at 0).
// Multiplier 1 and Jitter 0 give the reference constant delay.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the fraction (0-1) of the delay randomly subtracted.
	Jitter float64

	rand func() float64
}

// Constant returns a fixed-delay backoff.
func Constant(d time.Duration) Backoff {
	return Backoff{Initial: d, Max: d, Multiplier: 1}
}

func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < attempt && (b.Max <= 0 || d < float64(b.Max)); i++ {
		d *= mult
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d -= d * b.Jitter * r()
	}
	return time.Duration(d)
}
