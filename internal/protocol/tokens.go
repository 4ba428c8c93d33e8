// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Handshake tokens sent by the reference sensor clients.
const (
	TokenRealSense = "RealSense"
	TokenEMTracker = "EMTracker"
)

// Fixed request commands sent by the server each cycle.
const (
	RequestCameraData = "RequestCameraData"
	RequestEMData     = "RequestEMData"
)

// RequestFor returns the request command a client of type t answers.
func RequestFor(t ClientType) string {
	if t == Camera {
		return RequestCameraData
	}
	return RequestEMData
}

// TokenTable maps handshake tokens to client types.
type TokenTable map[string]ClientType

// DefaultTokens returns the reference token table.
func DefaultTokens() TokenTable {
	return TokenTable{
		TokenRealSense: Camera,
		TokenEMTracker: EMTracker,
	}
}

// ParseTokenTable parses "RealSense=camera,EMTracker=em".
func ParseTokenTable(s string) (TokenTable, error) {
	table := TokenTable{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, role, ok := strings.Cut(pair, "=")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTokenSpec, pair)
		}
		t, err := ParseClientType(role)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidTokenSpec, pair, err)
		}
		table[token] = t
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("%w: no tokens", ErrInvalidTokenSpec)
	}
	return table, nil
}

// Resolve maps a raw handshake message to a client type. Surrounding
// whitespace is ignored.
func (tt TokenTable) Resolve(raw string) (ClientType, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return 0, NewError(HandshakeRejected, "handshake", "", ErrEmptyHandshake)
	}
	t, ok := tt[token]
	if !ok {
		return 0, NewError(HandshakeRejected, "handshake", "", fmt.Errorf("%w %q", ErrUnknownToken, token))
	}
	return t, nil
}

// TokenFor returns a token that resolves to t, preferring the reference tokens.
func (tt TokenTable) TokenFor(t ClientType) (string, bool) {
	var candidates []string
	for token, typ := range tt {
		if typ == t {
			candidates = append(candidates, token)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	for _, c := range candidates {
		if c == TokenRealSense || c == TokenEMTracker {
			return c, true
		}
	}
	return candidates[0], true
}
