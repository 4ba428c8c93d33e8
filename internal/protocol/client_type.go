// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"fmt"
	"strings"
)

// ClientType is the sensor role a client declares during the handshake.
type ClientType byte

const (
	Camera ClientType = iota
	EMTracker

	// NumClientTypes sizes fixed slot tables indexed by ClientType.
	NumClientTypes
)

// AllClientTypes lists every recognized role in slot order.
var AllClientTypes = []ClientType{Camera, EMTracker}

func (t ClientType) String() string {
	switch t {
	case Camera:
		return "camera"
	case EMTracker:
		return "em"
	default:
		return fmt.Sprintf("client(%d)", byte(t))
	}
}

// Valid reports whether t is one of the recognized roles.
func (t ClientType) Valid() bool {
	return t < NumClientTypes
}

// ParseClientType accepts the short role names used in configuration.
func ParseClientType(s string) (ClientType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camera", "realsense":
		return Camera, nil
	case "em", "emtracker", "em_tracker":
		return EMTracker, nil
	default:
		return 0, fmt.Errorf("unknown client type %q", s)
	}
}

// ParseClientTypes parses a comma separated list such as "camera,em".
// Duplicates are collapsed.
func ParseClientTypes(s string) ([]ClientType, error) {
	var out []ClientType
	seen := [NumClientTypes]bool{}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ParseClientType(part)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
