package cloudsync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/metrics"
)

const DefaultDebounce = 2 * time.Second

// Run kinds.
const (
	KindAll     = "all"
	KindRecipes = "recipes"
	KindPlans   = "plans"
)

// RunRecorder persists the outcome of a sync run.
type RunRecorder interface {
	RecordRun(ctx context.Context, r metrics.Run) error
}

// Status is the state of change-triggered sync.
type Status struct {
	Syncing   bool
	LastSync  time.Time
	LastError string
}

// AutoSync schedules a sync after local changes settle. Runs never overlap:
// a manual SyncNow waits for an automatic run in flight, and the other way
// round.
type AutoSync struct {
	syncer   *Syncer
	feed     *database.Feed
	identity auth.Provider
	logger   *zap.Logger
	recorder RunRecorder
	metrics  *metrics.SyncMetrics
	debounce time.Duration

	runMu sync.Mutex

	mu     sync.RWMutex
	status Status
}

type AutoSyncOption func(*AutoSync)

func WithDebounce(d time.Duration) AutoSyncOption {
	return func(a *AutoSync) { a.debounce = d }
}

func WithRecorder(r RunRecorder) AutoSyncOption {
	return func(a *AutoSync) { a.recorder = r }
}

func WithRunMetrics(m *metrics.SyncMetrics) AutoSyncOption {
	return func(a *AutoSync) { a.metrics = m }
}

func NewAutoSync(syncer *Syncer, feed *database.Feed, identity auth.Provider, logger *zap.Logger, opts ...AutoSyncOption) *AutoSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AutoSync{
		syncer:   syncer,
		feed:     feed,
		identity: identity,
		logger:   logger,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.debounce <= 0 {
		a.debounce = DefaultDebounce
	}
	return a
}

func (a *AutoSync) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// ClearError forgets the last error.
func (a *AutoSync) ClearError() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status.LastError = ""
}

// Run watches the change feed until ctx is done or the feed closes.
func (a *AutoSync) Run(ctx context.Context) error {
	changes, stop := a.feed.Subscribe(64)
	defer stop()

	timer := time.NewTimer(a.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := make(map[string]bool)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				timer.Stop()
				return nil
			}
			pending[c.Table] = true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(a.debounce)
		case <-timer.C:
			kind := kindFor(pending)
			pending = make(map[string]bool)
			id := a.identity.Current()
			if !id.Verified() {
				a.logger.Debug("skipping sync for unverified identity")
				continue
			}
			if _, err := a.execute(ctx, id, kind); err != nil {
				a.logger.Warn("automatic sync failed", zap.String("kind", kind), zap.Error(err))
			}
		}
	}
}

// kindFor picks the narrowest sync that covers the changed tables.
func kindFor(tables map[string]bool) string {
	recipes := tables[database.TableRecipes] || tables[database.TableIngredients]
	plans := tables[database.TableWeeklyPlans] || tables[database.TableMealPlans] ||
		tables[database.TablePlanFamilyCrossRef] || tables[database.TableFamilies]
	switch {
	case recipes && !plans:
		return KindRecipes
	case plans && !recipes:
		return KindPlans
	default:
		return KindAll
	}
}

// SyncNow runs a full sync for the current identity.
func (a *AutoSync) SyncNow(ctx context.Context) (Report, error) {
	id := a.identity.Current()
	if !id.Verified() {
		return Report{}, auth.ErrNotAuthenticated
	}
	return a.execute(ctx, id, KindAll)
}

func (a *AutoSync) execute(ctx context.Context, id auth.Identity, kind string) (Report, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.mu.Lock()
	a.status.Syncing = true
	a.mu.Unlock()

	start := time.Now()
	var report Report
	var err error
	switch kind {
	case KindRecipes:
		report, err = a.syncer.SyncRecipes(ctx, id)
	case KindPlans:
		report, err = a.syncer.SyncWeeklyPlans(ctx, id)
	default:
		report, err = a.syncer.SyncAll(ctx, id)
	}
	latency := time.Since(start)

	a.mu.Lock()
	a.status.Syncing = false
	if err != nil {
		a.status.LastError = err.Error()
	} else {
		a.status.LastSync = time.Now()
		a.status.LastError = ""
	}
	a.mu.Unlock()

	a.metrics.ObserveRun(kind, err, latency)
	if a.recorder != nil {
		run := metrics.Run{
			UserID:     id.UID,
			Kind:       kind,
			Uploaded:   report.Uploaded(),
			Downloaded: report.Downloaded(),
			Failed:     report.Failed,
			Latency:    latency,
		}
		if err != nil {
			run.Error = err.Error()
		}
		if rerr := a.recorder.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
			a.logger.Warn("failed to record sync run", zap.Error(rerr))
		}
	}
	return report, err
}
