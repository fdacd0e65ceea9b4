package cloudsync

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/recipe"
)

var ErrMigrationInProgress = errors.New("migration already in progress")

type MigrationStatus string

const (
	MigrationIdle       MigrationStatus = "IDLE"
	MigrationInProgress MigrationStatus = "IN_PROGRESS"
	MigrationCompleted  MigrationStatus = "COMPLETED"
	MigrationFailed     MigrationStatus = "FAILED"
)

// MigrationState is the migration status and, when it failed, why.
type MigrationState struct {
	Status MigrationStatus
	Reason string
}

// MigrationResult counts the recipes copied to the cloud.
type MigrationResult struct {
	Succeeded int
	Failed    int
}

// Migrator copies recipes created while signed out into the cloud
// collection of a user that has just signed in. It never rolls back.
type Migrator struct {
	syncer  *Syncer
	recipes *recipe.Repository
	logger  *zap.Logger

	mu       sync.Mutex
	state    MigrationState
	progress float64
}

func NewMigrator(syncer *Syncer, recipes *recipe.Repository, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		syncer:  syncer,
		recipes: recipes,
		logger:  logger,
		state:   MigrationState{Status: MigrationIdle},
	}
}

func (m *Migrator) State() MigrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress is the fraction of recipes processed, between 0 and 1.
func (m *Migrator) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

func (m *Migrator) set(state MigrationState, progress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.progress = progress
}

// HasLocalDataToMigrate reports whether any local recipe exists.
func (m *Migrator) HasLocalDataToMigrate(ctx context.Context) (bool, error) {
	n, err := m.recipes.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Migrate copies every local recipe to the user's cloud collection. Local
// recipes are deleted afterwards only when clearLocal is set and every copy
// succeeded.
func (m *Migrator) Migrate(ctx context.Context, id auth.Identity, clearLocal bool) (MigrationResult, error) {
	var result MigrationResult
	if !id.Verified() {
		m.set(MigrationState{Status: MigrationFailed, Reason: "no authenticated user"}, 0)
		return result, auth.ErrNotAuthenticated
	}

	m.mu.Lock()
	if m.state.Status == MigrationInProgress {
		m.mu.Unlock()
		return result, ErrMigrationInProgress
	}
	m.state = MigrationState{Status: MigrationInProgress}
	m.progress = 0
	m.mu.Unlock()

	recipes, err := m.recipes.ListRecipes(ctx)
	if err != nil {
		m.set(MigrationState{Status: MigrationFailed, Reason: err.Error()}, 0)
		return result, err
	}

	migratedAt := m.syncer.now().UnixMilli()
	for i, rec := range recipes {
		if err := m.syncer.pushRecipe(ctx, id.UID, rec, migratedAt); err != nil {
			m.logger.Warn("failed to migrate recipe", zap.String("recipe", rec.Name), zap.Error(err))
			result.Failed++
		} else {
			result.Succeeded++
		}
		m.set(MigrationState{Status: MigrationInProgress}, float64(i+1)/float64(len(recipes)))
	}

	if clearLocal && result.Succeeded > 0 && result.Failed == 0 {
		if _, err := m.recipes.DeleteAllRecipes(ctx); err != nil {
			m.logger.Warn("failed to clear local recipes after migration", zap.Error(err))
		}
	}

	m.set(MigrationState{Status: MigrationCompleted}, 1)
	m.logger.Info("migration completed",
		zap.String("user", id.UID),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result, nil
}

// Reset returns the migrator to Idle.
func (m *Migrator) Reset() {
	m.set(MigrationState{Status: MigrationIdle}, 0)
}
