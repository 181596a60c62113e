/*
 * Copyright 2025 The vrrctl Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package storage persists residency snapshots to SQLite so the
// telemetry consumer can read accumulated per-bucket residency across
// daemon restarts.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/displaykit/vrrctl/pkg/residency"
)

const schema = `
CREATE TABLE IF NOT EXISTS residency_states (
	session_id TEXT NOT NULL,
	state_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	PRIMARY KEY (session_id, state_id)
);

CREATE TABLE IF NOT EXISTS residency_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	captured_at_ms INTEGER NOT NULL,
	state_id INTEGER NOT NULL,
	entry_count INTEGER NOT NULL,
	time_in_state_ms INTEGER NOT NULL,
	last_entry_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session_ts
	ON residency_snapshots(session_id, captured_at_ms);
`

// SnapshotRow is one persisted bucket reading.
type SnapshotRow struct {
	CapturedAtMs  int64
	StateID       int
	EntryCount    uint64
	TimeInStateMs int64
	LastEntryMs   int64
}

// DB wraps the SQLite database holding residency snapshots.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path in WAL mode.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// InsertStates records the bucket table of one session. The table is
// immutable per session, so re-running an insert is an error.
func (d *DB) InsertStates(sessionID string, states []residency.State) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO residency_states (session_id, state_id, name) VALUES (?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, state := range states {
		if _, err := stmt.Exec(sessionID, state.ID, state.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert state %d: %w", state.ID, err)
		}
	}

	return tx.Commit()
}

// InsertSnapshot records one poll of the residency table.
func (d *DB) InsertSnapshot(sessionID string, capturedAtMs int64, entries []residency.StateResidency) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(
		"INSERT INTO residency_snapshots (session_id, captured_at_ms, state_id, entry_count, time_in_state_ms, last_entry_ms) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(sessionID, capturedAtMs, entry.ID,
			entry.TotalStateEntryCount, entry.TotalTimeInStateMs, entry.LastEntryTimestampMs); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert snapshot entry %d: %w", entry.ID, err)
		}
	}

	return tx.Commit()
}

// States returns the bucket table of a session in ID order.
func (d *DB) States(sessionID string) ([]residency.State, error) {
	rows, err := d.db.Query(
		"SELECT state_id, name FROM residency_states WHERE session_id = ? ORDER BY state_id",
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []residency.State

	for rows.Next() {
		var state residency.State

		if err := rows.Scan(&state.ID, &state.Name); err != nil {
			return nil, err
		}

		states = append(states, state)
	}

	return states, rows.Err()
}

// SnapshotsInRange returns the snapshot rows of a session between two
// capture times inclusive, oldest first.
func (d *DB) SnapshotsInRange(sessionID string, fromMs, toMs int64) ([]SnapshotRow, error) {
	rows, err := d.db.Query(
		"SELECT captured_at_ms, state_id, entry_count, time_in_state_ms, last_entry_ms FROM residency_snapshots WHERE session_id = ? AND captured_at_ms >= ? AND captured_at_ms <= ? ORDER BY captured_at_ms, state_id",
		sessionID, fromMs, toMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []SnapshotRow

	for rows.Next() {
		var row SnapshotRow

		if err := rows.Scan(&row.CapturedAtMs, &row.StateID, &row.EntryCount,
			&row.TimeInStateMs, &row.LastEntryMs); err != nil {
			return nil, err
		}

		snapshots = append(snapshots, row)
	}

	return snapshots, rows.Err()
}

// LatestSnapshot returns the most recent capture of a session, or nil
// when none was recorded yet.
func (d *DB) LatestSnapshot(sessionID string) ([]SnapshotRow, error) {
	row := d.db.QueryRow(
		"SELECT MAX(captured_at_ms) FROM residency_snapshots WHERE session_id = ?",
		sessionID)

	var capturedAt sql.NullInt64
	if err := row.Scan(&capturedAt); err != nil {
		return nil, err
	}

	if !capturedAt.Valid {
		return nil, nil
	}

	return d.SnapshotsInRange(sessionID, capturedAt.Int64, capturedAt.Int64)
}
