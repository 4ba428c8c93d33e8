// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package record

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	run_id                 TEXT    NOT NULL,
	cycle                  INTEGER NOT NULL,
	server_cycle_timestamp REAL    NOT NULL,
	camera_timestamp       REAL    NOT NULL,
	camera_data            TEXT    NOT NULL,
	em_timestamp_corrected REAL    NOT NULL,
	em_data                TEXT    NOT NULL,
	rtt_delay              REAL    NOT NULL,
	PRIMARY KEY (run_id, cycle)
);
CREATE INDEX IF NOT EXISTS records_server_ts ON records(server_cycle_timestamp);
`

// SQLiteSink mirrors the synchronized log into a queryable table. Each
// server run writes under its own run id.
type SQLiteSink struct {
	db    *sql.DB
	runID uuid.UUID
}

var _ Sink = (*SQLiteSink)(nil)

// OpenSQLite creates or opens the database at path.
//
// The database is configured with:
//   - WAL mode so readers do not block the cycle loop
//   - NORMAL synchronous mode
//   - 5-second busy timeout
func OpenSQLite(path string, runID uuid.UUID) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteSink{db: db, runID: runID}, nil
}

func (s *SQLiteSink) RunID() uuid.UUID { return s.runID }

func (s *SQLiteSink) Append(ctx context.Context, rec SynchronizedRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records
		(run_id, cycle, server_cycle_timestamp, camera_timestamp, camera_data,
		 em_timestamp_corrected, em_data, rtt_delay)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.runID.String(),
		rec.Cycle,
		rec.ServerCycleTimestamp,
		rec.CameraTimestamp,
		rec.CameraData,
		rec.EMTimestampCorrected,
		rec.EMData,
		rec.RTTDelay,
	)
	if err != nil {
		return fmt.Errorf("insert record %d: %w", rec.Cycle, err)
	}
	return nil
}

// Records returns the rows of one run in cycle order.
func (s *SQLiteSink) Records(ctx context.Context, runID uuid.UUID) ([]SynchronizedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle, server_cycle_timestamp, camera_timestamp, camera_data,
		       em_timestamp_corrected, em_data, rtt_delay
		FROM records
		WHERE run_id = ?
		ORDER BY cycle
	`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []SynchronizedRecord
	for rows.Next() {
		var rec SynchronizedRecord
		if err := rows.Scan(
			&rec.Cycle,
			&rec.ServerCycleTimestamp,
			&rec.CameraTimestamp,
			&rec.CameraData,
			&rec.EMTimestampCorrected,
			&rec.EMData,
			&rec.RTTDelay,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
