// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Kind tags the outcome of a fallible operation so callers can pick a policy
// (retry, skip, abort) per failure class.
type Kind byte

const (
	KindUnknown Kind = iota
	ConnectFailed
	HandshakeRejected
	ReadTimeout
	PeerClosed
	ParseFailed
	LogWriteFailed
)

func (k Kind) String() string {
	switch k {
	case ConnectFailed:
		return "connect_failed"
	case HandshakeRejected:
		return "handshake_rejected"
	case ReadTimeout:
		return "read_timeout"
	case PeerClosed:
		return "peer_closed"
	case ParseFailed:
		return "parse_failed"
	case LogWriteFailed:
		return "log_write_failed"
	default:
		return "unknown"
	}
}

// Error is a tagged failure. Op names the step ("read camera reply",
// "handshake", ...) and Client the peer role when known.
type Error struct {
	Kind   Kind
	Op     string
	Client string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Client != "" {
		msg += " [" + e.Client + "]"
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a tagged error.
func NewError(kind Kind, op, client string, err error) *Error {
	return &Error{Kind: kind, Op: op, Client: client, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify tags a raw I/O error coming out of a socket operation.
// Already tagged errors are returned unchanged.
func Classify(op, client string, err error) error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return NewError(PeerClosed, op, client, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(ReadTimeout, op, client, err)
	}

	return NewError(ConnectFailed, op, client, err)
}

var (
	ErrEmptyReply       = errors.New("empty reply")
	ErrBadTimestamp     = errors.New("timestamp is not a finite number")
	ErrMessageTooLarge  = errors.New("message too large")
	ErrUnknownToken     = errors.New("unknown handshake token")
	ErrUnknownFraming   = errors.New("unknown framing")
	ErrEmptyHandshake   = errors.New("empty handshake")
	ErrInvalidTokenSpec = errors.New("invalid handshake token mapping")
)

func parseError(reply string, err error) error {
	return NewError(ParseFailed, "parse reply", "", fmt.Errorf("%q: %w", reply, err))
}
