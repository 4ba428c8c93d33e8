// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/relabs-tech/sensor_sync/internal/protocol"
)

var ErrClosed = errors.New("log is closed")

// csvFile is an append-only CSV file. The header is written only when the
// file is empty, so reopening an existing log after a restart keeps appending
// under the original header. Rows are serialized by a mutex and synced to
// disk before WriteRow returns.
type csvFile struct {
	mx     sync.Mutex
	path   string
	f      *os.File
	w      *csv.Writer
	closed bool
}

func openCSV(path string, header []string) (*csvFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, logWriteError("create log directory", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, logWriteError("open log", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, logWriteError("stat log", err)
	}

	c := &csvFile{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := c.writeRow(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *csvFile) WriteRow(row []string) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return logWriteError("append row", ErrClosed)
	}
	return c.writeRow(row)
}

func (c *csvFile) writeRow(row []string) error {
	if err := c.w.Write(row); err != nil {
		return logWriteError("append row", err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return logWriteError("flush row", err)
	}
	if err := c.f.Sync(); err != nil {
		return logWriteError("sync row", err)
	}
	return nil
}

func (c *csvFile) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.w.Flush()
	flushErr := c.w.Error()
	closeErr := c.f.Close()
	if err := errors.Join(flushErr, closeErr); err != nil {
		return logWriteError("close log", err)
	}
	return nil
}

func logWriteError(op string, err error) error {
	return protocol.NewError(protocol.LogWriteFailed, op, "", err)
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
