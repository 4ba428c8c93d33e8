// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package client

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/sensor_sync/internal/protocol"
)

// Connection is one identified sensor client. Once registered it is owned by
// the Registry.
type Connection struct {
	ID   uuid.UUID
	Type protocol.ClientType

	conn  net.Conn
	codec *protocol.Codec

	readTimeout  time.Duration
	writeTimeout time.Duration

	alive     atomic.Bool
	closeOnce sync.Once
}

// NewConnection wraps conn. codec must be the one used for the handshake
// read so that bytes it already buffered are not lost.
func NewConnection(conn net.Conn, t protocol.ClientType, codec *protocol.Codec) *Connection {
	c := &Connection{
		ID:    uuid.New(),
		Type:  t,
		conn:  conn,
		codec: codec,
	}
	c.alive.Store(true)
	return c
}

// SetTimeouts bounds every following Send and Receive. Zero disables the bound.
func (c *Connection) SetTimeouts(read, write time.Duration) {
	c.readTimeout = read
	c.writeTimeout = write
}

func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Connection) Alive() bool {
	return c.alive.Load()
}

func (c *Connection) Send(msg string) error {
	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return c.fail("send "+msg, err)
	}
	if err := c.codec.WriteMessage(msg); err != nil {
		return c.fail("send "+msg, err)
	}
	return nil
}

func (c *Connection) Receive() (string, error) {
	var deadline time.Time
	if c.readTimeout > 0 {
		deadline = time.Now().Add(c.readTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", c.fail("receive", err)
	}
	msg, err := c.codec.ReadMessage()
	if err != nil {
		return "", c.fail("receive", err)
	}
	return msg, nil
}

// Request sends msg and blocks for exactly one reply.
func (c *Connection) Request(msg string) (string, error) {
	if err := c.Send(msg); err != nil {
		return "", err
	}
	return c.Receive()
}

// Close is idempotent. Closing an already closed socket is not an error.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		err = c.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	})
	return err
}

func (c *Connection) fail(op string, err error) error {
	err = protocol.Classify(op, c.Type.String(), err)
	if protocol.IsKind(err, protocol.PeerClosed) {
		c.alive.Store(false)
	}
	return err
}
