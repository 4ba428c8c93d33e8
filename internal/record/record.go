// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"context"
	"fmt"
	"strconv"
)

// SynchronizedRecord is one completed cycle. Timestamps are float seconds
// since the Unix epoch.
type SynchronizedRecord struct {
	Cycle uint64 `json:"cycle"` // not persisted in the CSV

	ServerCycleTimestamp float64 `json:"server_cycle_timestamp"`
	CameraTimestamp      float64 `json:"camera_timestamp"`
	CameraData           string  `json:"camera_data"`
	EMTimestampCorrected float64 `json:"em_timestamp_corrected"`
	EMData               string  `json:"em_data"`
	RTTDelay             float64 `json:"rtt_delay"`
}

// Header is the fixed six column header of the synchronized log.
var Header = []string{
	"ServerCycleTimestamp",
	"CameraTimestamp",
	"CameraData",
	"EMTimestampCorrected",
	"EMData",
	"RTT_Delay",
}

// Sink receives records in cycle order.
type Sink interface {
	Append(ctx context.Context, rec SynchronizedRecord) error
	Close() error
}

func (r SynchronizedRecord) row() []string {
	return []string{
		formatFloat(r.ServerCycleTimestamp),
		formatFloat(r.CameraTimestamp),
		r.CameraData,
		formatFloat(r.EMTimestampCorrected),
		r.EMData,
		formatFloat(r.RTTDelay),
	}
}

func parseRow(row []string) (SynchronizedRecord, error) {
	if len(row) != len(Header) {
		return SynchronizedRecord{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(row))
	}

	var (
		rec  SynchronizedRecord
		errs [4]error
	)
	rec.ServerCycleTimestamp, errs[0] = strconv.ParseFloat(row[0], 64)
	rec.CameraTimestamp, errs[1] = strconv.ParseFloat(row[1], 64)
	rec.CameraData = row[2]
	rec.EMTimestampCorrected, errs[2] = strconv.ParseFloat(row[3], 64)
	rec.EMData = row[4]
	rec.RTTDelay, errs[3] = strconv.ParseFloat(row[5], 64)
	for _, err := range errs {
		if err != nil {
			return SynchronizedRecord{}, err
		}
	}
	return rec, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
