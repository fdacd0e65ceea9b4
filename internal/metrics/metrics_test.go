package metrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"family-meal-planner/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "metrics.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestDailySummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordRun(ctx, Run{UserID: "u1", Kind: "all", Uploaded: 3, Downloaded: 2, Latency: 100 * time.Millisecond}))
	require.NoError(t, s.RecordRun(ctx, Run{UserID: "u1", Kind: "recipes", Failed: 1, Error: "boom", Latency: 300 * time.Millisecond}))

	days, err := s.DailySummary(ctx, 7)
	require.NoError(t, err)
	require.Len(t, days, 1)
	d := days[0]
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), d.Date)
	assert.Equal(t, 2, d.Runs)
	assert.Equal(t, 1, d.FailedRuns)
	assert.Equal(t, 3, d.Uploaded)
	assert.Equal(t, 2, d.Downloaded)
	assert.Equal(t, 1, d.FailedItems)
	assert.InDelta(t, 200, d.AvgLatencyMS, 0.001)
}

func TestCleanupRemovesOldRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordRun(ctx, Run{UserID: "u1", Kind: "all", Timestamp: time.Now().AddDate(0, 0, -40)}))
	require.NoError(t, s.RecordRun(ctx, Run{UserID: "u1", Kind: "all"}))

	n, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	days, err := s.DailySummary(ctx, 60)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, 1, days[0].Runs)
}

func TestSyncMetrics(t *testing.T) {
	m := NewSyncMetrics(prometheus.NewRegistry())

	m.ObserveItem("upload_recipes", nil)
	m.ObserveItem("upload_recipes", nil)
	m.ObserveItem("download_plans", errors.New("bad doc"))
	m.ObserveRun("all", nil, 250*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("upload_recipes", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ItemsTotal.WithLabelValues("download_plans", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("all", OutcomeSuccess)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Duration))

	var nilMetrics *SyncMetrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveItem("x", nil)
		nilMetrics.ObserveRun("x", nil, time.Second)
	})
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meals.db"), make([]byte, 2048), 0o644))

	h := Snapshot(filepath.Join(dir, "meals.db"))
	assert.Equal(t, dir, h.DatabaseDir)
	assert.Equal(t, "2.0 KB", h.DataSize)
	assert.Positive(t, h.Goroutines)
	assert.Equal(t, "512 B", humanSize(512))
}
