package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/elevation.map/internal/elevation"
)

// BatchRecord is one persisted fusion batch.
type BatchRecord struct {
	ID          int64         `json:"id"`
	RunID       string        `json:"run_id"`
	Stamp       time.Time     `json:"stamp"`
	FrameID     string        `json:"frame_id"`
	Received    int           `json:"received"`
	Kept        int           `json:"kept"`
	Fused       int           `json:"fused"`
	OutOfBounds int           `json:"out_of_bounds"`
	Published   bool          `json:"published"`
	Duration    time.Duration `json:"duration_ns"`
	Err         string        `json:"error,omitempty"`
}

// RebroadcastRecord is one watchdog rebroadcast.
type RebroadcastRecord struct {
	ID    int64         `json:"id"`
	RunID string        `json:"run_id"`
	Stamp time.Time     `json:"stamp"`
	Idle  time.Duration `json:"idle_ns"`
}

// RunSummary aggregates the rows of a single run.
type RunSummary struct {
	RunID         string `json:"run_id"`
	Batches       int64  `json:"batches"`
	FailedBatches int64  `json:"failed_batches"`
	PointsFused   int64  `json:"points_fused"`
	Rebroadcasts  int64  `json:"rebroadcasts"`
}

// RecordBatch implements elevation.EventRecorder.
func (db *DB) RecordBatch(b elevation.BatchStats) error {
	var errText sql.NullString
	if b.Err != "" {
		errText = sql.NullString{String: b.Err, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO fusion_batches (
			run_id, stamp_unix_nanos, frame_id, received, kept, fused,
			out_of_bounds, published, duration_ns, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		db.runID, b.Stamp.UnixNano(), b.FrameID, b.Received, b.Kept, b.Fused,
		b.OutOfBounds, b.Published, int64(b.Duration), errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fusion batch: %w", err)
	}
	return nil
}

// RecordRebroadcast implements elevation.EventRecorder.
func (db *DB) RecordRebroadcast(stamp time.Time, idle time.Duration) error {
	_, err := db.Exec(
		`INSERT INTO watchdog_events (run_id, stamp_unix_nanos, idle_ns) VALUES (?, ?, ?)`,
		db.runID, stamp.UnixNano(), int64(idle),
	)
	if err != nil {
		return fmt.Errorf("failed to insert watchdog event: %w", err)
	}
	return nil
}

// RecentBatches returns up to limit batches, newest first.
func (db *DB) RecentBatches(limit int) ([]BatchRecord, error) {
	rows, err := db.Query(`
		SELECT batch_id, run_id, stamp_unix_nanos, frame_id, received, kept, fused,
			out_of_bounds, published, duration_ns, error
		FROM fusion_batches ORDER BY batch_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRecord
	for rows.Next() {
		var (
			r        BatchRecord
			stamp    int64
			duration int64
			errText  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &stamp, &r.FrameID, &r.Received, &r.Kept, &r.Fused,
			&r.OutOfBounds, &r.Published, &duration, &errText); err != nil {
			return nil, err
		}
		r.Stamp = time.Unix(0, stamp).UTC()
		r.Duration = time.Duration(duration)
		r.Err = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentRebroadcasts returns up to limit watchdog events, newest first.
func (db *DB) RecentRebroadcasts(limit int) ([]RebroadcastRecord, error) {
	rows, err := db.Query(`
		SELECT event_id, run_id, stamp_unix_nanos, idle_ns
		FROM watchdog_events ORDER BY event_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RebroadcastRecord
	for rows.Next() {
		var (
			r     RebroadcastRecord
			stamp int64
			idle  int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &stamp, &idle); err != nil {
			return nil, err
		}
		r.Stamp = time.Unix(0, stamp).UTC()
		r.Idle = time.Duration(idle)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates the rows written by the given run.
func (db *DB) Summary(runID string) (RunSummary, error) {
	s := RunSummary{RunID: runID}
	err := db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(fused), 0)
		FROM fusion_batches WHERE run_id = ?`, runID).Scan(&s.Batches, &s.FailedBatches, &s.PointsFused)
	if err != nil {
		return s, fmt.Errorf("failed to summarise batches: %w", err)
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM watchdog_events WHERE run_id = ?`, runID).Scan(&s.Rebroadcasts)
	if err != nil {
		return s, fmt.Errorf("failed to summarise watchdog events: %w", err)
	}
	return s, nil
}
