package cloudsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/metrics"
)

type fakeRecorder struct {
	mu   sync.Mutex
	runs []metrics.Run
}

func (f *fakeRecorder) RecordRun(_ context.Context, r metrics.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeRecorder) snapshot() []metrics.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]metrics.Run(nil), f.runs...)
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		tables []string
		want   string
	}{
		{[]string{database.TableRecipes}, KindRecipes},
		{[]string{database.TableIngredients, database.TableRecipes}, KindRecipes},
		{[]string{database.TableMealPlans}, KindPlans},
		{[]string{database.TablePlanFamilyCrossRef, database.TableWeeklyPlans}, KindPlans},
		{[]string{database.TableRecipes, database.TableMealPlans}, KindAll},
		{nil, KindAll},
	}
	for _, tt := range tests {
		set := make(map[string]bool)
		for _, table := range tt.tables {
			set[table] = true
		}
		assert.Equal(t, tt.want, kindFor(set), "tables %v", tt.tables)
	}
}

func TestAutoSyncRunsAfterChangesSettle(t *testing.T) {
	_, store := newCloud(t)
	d := newDevice(t, store)
	session := auth.NewSession(nil)
	session.SignIn(alice)
	recorder := &fakeRecorder{}

	a := NewAutoSync(d.syncer, d.db.Changes, session, zap.NewNop(),
		WithDebounce(50*time.Millisecond), WithRecorder(recorder))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	// Give Run time to subscribe.
	time.Sleep(20 * time.Millisecond)

	rec, _ := d.seed(t, "Week")

	require.Eventually(t, func() bool {
		_, err := store.Get(context.Background(), cloud.Doc(cloud.UserRecipes("alice"), rec.UUID))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return len(recorder.snapshot()) > 0 }, 2*time.Second, 10*time.Millisecond)
	runs := recorder.snapshot()
	assert.Equal(t, "alice", runs[0].UserID)
	assert.Empty(t, runs[0].Error)

	status := a.Status()
	assert.False(t, status.LastSync.IsZero())
	assert.Empty(t, status.LastError)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestAutoSyncSkipsAnonymousIdentity(t *testing.T) {
	_, store := newCloud(t)
	d := newDevice(t, store)
	session := auth.NewSession(nil)
	session.SignInAnonymously("guest")
	recorder := &fakeRecorder{}

	a := NewAutoSync(d.syncer, d.db.Changes, session, zap.NewNop(),
		WithDebounce(20*time.Millisecond), WithRecorder(recorder))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	d.seed(t, "Week")
	time.Sleep(150 * time.Millisecond)

	assert.Empty(t, recorder.snapshot())
	assert.Zero(t, remoteCount(t, store, cloud.UserRecipes("guest")))

	_, err := a.SyncNow(context.Background())
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestSyncNowRecordsFailures(t *testing.T) {
	mr, store := newCloud(t)
	d := newDevice(t, store)
	session := auth.NewSession(nil)
	session.SignIn(alice)
	recorder := &fakeRecorder{}
	a := NewAutoSync(d.syncer, d.db.Changes, session, zap.NewNop(), WithRecorder(recorder))

	mr.Close()
	_, err := a.SyncNow(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)

	status := a.Status()
	assert.False(t, status.Syncing)
	assert.NotEmpty(t, status.LastError)
	runs := recorder.snapshot()
	require.Len(t, runs, 1)
	assert.Equal(t, KindAll, runs[0].Kind)
	assert.NotEmpty(t, runs[0].Error)

	a.ClearError()
	assert.Empty(t, a.Status().LastError)
}
