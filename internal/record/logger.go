// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"context"
	"fmt"
	"slices"
)

// Logger is the durable synchronized log. It is the primary Sink: a failed
// Append means the record was not acknowledged.
type Logger struct {
	file *csvFile
}

var _ Sink = (*Logger)(nil)

// OpenLogger creates path if needed and writes the header once.
func OpenLogger(path string) (*Logger, error) {
	f, err := openCSV(path, Header)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f}, nil
}

func (l *Logger) Path() string { return l.file.path }

// Append writes one row and syncs it before returning.
func (l *Logger) Append(_ context.Context, rec SynchronizedRecord) error {
	return l.file.WriteRow(rec.row())
}

func (l *Logger) Close() error {
	return l.file.Close()
}

// ReadLog re-reads a synchronized log written by Logger.
func ReadLog(path string) ([]SynchronizedRecord, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if !slices.Equal(rows[0], Header) {
		return nil, fmt.Errorf("read %s: unexpected header %v", path, rows[0])
	}

	out := make([]SynchronizedRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("read %s: row %d: %w", path, i+1, err)
		}
		rec.Cycle = uint64(i + 1)
		out = append(out, rec)
	}
	return out, nil
}
