// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Reply is a parsed "<float-seconds>,<payload>" client answer.
type Reply struct {
	Timestamp float64
	Payload   string
}

// ParseReply splits on the first comma. A reply without a comma carries an
// empty payload.
func ParseReply(raw string) (Reply, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Reply{}, parseError(raw, ErrEmptyReply)
	}

	tsPart, payload, _ := strings.Cut(s, ",")
	ts, err := strconv.ParseFloat(strings.TrimSpace(tsPart), 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Reply{}, parseError(raw, ErrBadTimestamp)
	}

	return Reply{
		Timestamp: ts,
		Payload:   strings.TrimSpace(payload),
	}, nil
}

// FormatReply renders the wire form of a reply.
func FormatReply(ts float64, payload string) string {
	return strconv.FormatFloat(ts, 'f', -1, 64) + "," + payload
}
