// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"fmt"
)

// PushRecord is one message received in push mode, stamped on arrival with
// the server clock. No round-trip correction is applied.
type PushRecord struct {
	ServerTimestamp float64 `json:"server_timestamp"`
	Client          string  `json:"client"`
	ClientTimestamp float64 `json:"client_timestamp"`
	Data            string  `json:"data"`
}

var PushHeader = []string{"ServerTimestamp", "Client", "ClientTimestamp", "Data"}

// PushLogger is shared by every per-client handler; rows never interleave.
type PushLogger struct {
	file *csvFile
}

func OpenPushLogger(path string) (*PushLogger, error) {
	f, err := openCSV(path, PushHeader)
	if err != nil {
		return nil, err
	}
	return &PushLogger{file: f}, nil
}

func (l *PushLogger) Append(rec PushRecord) error {
	return l.file.WriteRow([]string{
		formatFloat(rec.ServerTimestamp),
		rec.Client,
		formatFloat(rec.ClientTimestamp),
		rec.Data,
	})
}

func (l *PushLogger) Close() error {
	return l.file.Close()
}

// ReadPushLog re-reads a push log.
func ReadPushLog(path string) ([]PushRecord, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) < 1 {
		return nil, nil
	}

	out := make([]PushRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(PushHeader) {
			return nil, fmt.Errorf("read %s: row %d: expected %d columns", path, i+1, len(PushHeader))
		}
		var rec PushRecord
		var err error
		if rec.ServerTimestamp, err = parseFloat(row[0]); err != nil {
			return nil, fmt.Errorf("read %s: row %d: %w", path, i+1, err)
		}
		rec.Client = row[1]
		if rec.ClientTimestamp, err = parseFloat(row[2]); err != nil {
			return nil, fmt.Errorf("read %s: row %d: %w", path, i+1, err)
		}
		rec.Data = row[3]
		out = append(out, rec)
	}
	return out, nil
}
