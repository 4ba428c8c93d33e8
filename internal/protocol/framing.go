// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Framing selects how logical messages are delimited on the stream.
type Framing byte

const (
	// FramingLine terminates every message with '\n'. Backslash, CR and LF
	// inside a message are escaped.
	FramingLine Framing = iota
	// FramingLength prefixes every message with a 4 byte big-endian length.
	FramingLength
	// FramingRaw treats one read as one message. Only safe for the legacy
	// clients that send a single short message per request.
	FramingRaw
)

// RawBufferSize is the read size used by FramingRaw.
const RawBufferSize = 4096

// DefaultMaxMessageSize bounds a single framed message.
const DefaultMaxMessageSize = 64 << 10

func (f Framing) String() string {
	switch f {
	case FramingLine:
		return "line"
	case FramingLength:
		return "length"
	case FramingRaw:
		return "raw"
	default:
		return "unknown"
	}
}

func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "line":
		return FramingLine, nil
	case "length":
		return FramingLength, nil
	case "raw":
		return FramingRaw, nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnknownFraming, s)
	}
}

// Codec reads and writes framed text messages on one stream. It is not safe
// for concurrent readers; one writer and one reader may run in parallel.
type Codec struct {
	framing Framing
	maxSize int
	r       *bufio.Reader
	w       io.Writer
}

func NewCodec(rw io.ReadWriter, framing Framing, maxSize int) *Codec {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Codec{
		framing: framing,
		maxSize: maxSize,
		r:       bufio.NewReaderSize(rw, RawBufferSize),
		w:       rw,
	}
}

func (c *Codec) Framing() Framing { return c.framing }

// ReadMessage returns the next logical message. A peer that closed the
// stream yields io.EOF.
func (c *Codec) ReadMessage() (string, error) {
	switch c.framing {
	case FramingLength:
		return c.readLength()
	case FramingRaw:
		return c.readRaw()
	default:
		return c.readLine()
	}
}

func (c *Codec) WriteMessage(msg string) error {
	var frame []byte
	switch c.framing {
	case FramingLength:
		if len(msg) > c.maxSize {
			return ErrMessageTooLarge
		}
		frame = make([]byte, 4+len(msg))
		binary.BigEndian.PutUint32(frame, uint32(len(msg)))
		copy(frame[4:], msg)
	case FramingRaw:
		frame = []byte(msg)
	default:
		frame = append([]byte(EscapeLine(msg)), '\n')
	}

	_, err := c.w.Write(frame)
	return err
}

func (c *Codec) readLine() (string, error) {
	var line []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > c.maxSize+1 {
			return "", ErrMessageTooLarge
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return UnescapeLine(string(line)), nil
}

func (c *Codec) readLength() (string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(c.r, prefix[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if int64(n) > int64(c.maxSize) {
		return "", fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

func (c *Codec) readRaw() (string, error) {
	buf := make([]byte, RawBufferSize)
	n, err := c.r.Read(buf)
	if n > 0 {
		return string(buf[:n]), nil
	}
	if err == nil {
		err = io.EOF
	}
	return "", err
}

var (
	lineEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	lineUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func EscapeLine(s string) string   { return lineEscaper.Replace(s) }
func UnescapeLine(s string) string { return lineUnescaper.Replace(s) }
