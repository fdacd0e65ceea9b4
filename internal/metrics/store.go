package metrics

import (
	"context"
	"fmt"
	"time"

	"family-meal-planner/internal/database"
)

const timestampLayout = "2006-01-02 15:04:05"

// Run records the outcome of a single sync run.
type Run struct {
	UserID     string
	Kind       string
	Uploaded   int
	Downloaded int
	Failed     int
	Error      string
	Latency    time.Duration
	Timestamp  time.Time
}

// Store persists sync runs to SQLite.
type Store struct {
	db *database.DB
}

func NewStore(d *database.DB) *Store {
	return &Store{db: d}
}

// RecordRun saves a run. A zero timestamp means now.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.SQL.ExecContext(ctx, `
		INSERT INTO sync_runs (user_id, kind, uploaded, downloaded, failed, error, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, r.Kind, r.Uploaded, r.Downloaded, r.Failed, r.Error, r.Latency.Milliseconds(),
		ts.UTC().Format(timestampLayout))
	if err != nil {
		return fmt.Errorf("failed to record sync run: %w", err)
	}
	return nil
}

// DailySummary aggregates the sync runs of a single day.
type DailySummary struct {
	Date         string  `db:"day"`
	Runs         int     `db:"runs"`
	FailedRuns   int     `db:"failed_runs"`
	Uploaded     int     `db:"uploaded"`
	Downloaded   int     `db:"downloaded"`
	FailedItems  int     `db:"failed_items"`
	AvgLatencyMS float64 `db:"avg_latency_ms"`
}

// DailySummary returns one row per day for the last N days, newest first.
func (s *Store) DailySummary(ctx context.Context, days int) ([]DailySummary, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timestampLayout)
	var out []DailySummary
	err := s.db.SQL.SelectContext(ctx, &out, `
		SELECT date(timestamp) AS day,
		       COUNT(*) AS runs,
		       COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0) AS failed_runs,
		       COALESCE(SUM(uploaded), 0) AS uploaded,
		       COALESCE(SUM(downloaded), 0) AS downloaded,
		       COALESCE(SUM(failed), 0) AS failed_items,
		       COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM sync_runs
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily sync summary: %w", err)
	}
	return out, nil
}

// Cleanup removes runs older than the given number of days and reports how
// many were removed.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(timestampLayout)
	res, err := s.db.SQL.ExecContext(ctx, `DELETE FROM sync_runs WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sync runs: %w", err)
	}
	return res.RowsAffected()
}
