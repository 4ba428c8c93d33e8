// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package client

import (
	"sync"

	"github.com/relabs-tech/sensor_sync/internal/protocol"
)

// Registry holds at most one live Connection per ClientType in a fixed slot
// table. All methods are safe for concurrent use and only ever wait on the
// internal mutex.
type Registry struct {
	mx       sync.Mutex
	slots    [protocol.NumClientTypes]*Connection
	onChange func(t protocol.ClientType, connected bool)
}

func NewRegistry() *Registry {
	return &Registry{}
}

// OnChange installs a callback fired after every slot change, outside the lock.
func (r *Registry) OnChange(fn func(t protocol.ClientType, connected bool)) {
	r.mx.Lock()
	r.onChange = fn
	r.mx.Unlock()
}

// Register claims the slot for conn.Type. It fails, leaving the current
// occupant untouched, when that slot already holds a live connection.
func (r *Registry) Register(conn *Connection) bool {
	if conn == nil || !conn.Type.Valid() {
		return false
	}

	r.mx.Lock()
	current := r.slots[conn.Type]
	if current != nil && current.Alive() {
		r.mx.Unlock()
		return false
	}
	r.slots[conn.Type] = conn
	fn := r.onChange
	r.mx.Unlock()

	if current != nil {
		_ = current.Close()
	}
	if fn != nil {
		fn(conn.Type, true)
	}
	return true
}

func (r *Registry) Get(t protocol.ClientType) (*Connection, bool) {
	if !t.Valid() {
		return nil, false
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	conn := r.slots[t]
	return conn, conn != nil
}

// Unregister clears and closes the slot for t. Clearing an empty slot is a no-op.
func (r *Registry) Unregister(t protocol.ClientType) {
	if !t.Valid() {
		return
	}

	r.mx.Lock()
	conn := r.slots[t]
	r.slots[t] = nil
	fn := r.onChange
	r.mx.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if fn != nil {
		fn(t, false)
	}
}

// UnregisterConn clears the slot only if it still holds conn, so a stale
// handler cannot evict a newer connection of the same type.
func (r *Registry) UnregisterConn(conn *Connection) bool {
	if conn == nil || !conn.Type.Valid() {
		return false
	}

	r.mx.Lock()
	if r.slots[conn.Type] != conn {
		r.mx.Unlock()
		_ = conn.Close()
		return false
	}
	r.slots[conn.Type] = nil
	fn := r.onChange
	r.mx.Unlock()

	_ = conn.Close()
	if fn != nil {
		fn(conn.Type, false)
	}
	return true
}

// AllRequiredPresent reports whether every type in required has a slot.
// An empty required set is trivially satisfied.
func (r *Registry) AllRequiredPresent(required []protocol.ClientType) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	for _, t := range required {
		if !t.Valid() || r.slots[t] == nil {
			return false
		}
	}
	return true
}

// Snapshot returns the current occupants keyed by type.
func (r *Registry) Snapshot() map[protocol.ClientType]*Connection {
	r.mx.Lock()
	defer r.mx.Unlock()

	out := make(map[protocol.ClientType]*Connection, len(r.slots))
	for i, conn := range r.slots {
		if conn != nil {
			out[protocol.ClientType(i)] = conn
		}
	}
	return out
}

// CloseAll empties every slot and closes the connections.
func (r *Registry) CloseAll() {
	for _, t := range protocol.AllClientTypes {
		r.Unregister(t)
	}
}
