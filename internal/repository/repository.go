// Package repository picks the recipe storage strategy for the signed-in
// identity.
package repository

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/recipe"
)

// Kind is the storage strategy in use.
type Kind int

const (
	LocalOnly Kind = iota
	CloudSynced
)

func (k Kind) String() string {
	if k == CloudSynced {
		return "cloud-synced"
	}
	return "local-only"
}

// KindFor maps an identity to a strategy: anonymous or signed out users stay
// local, verified users are mirrored to the cloud.
func KindFor(id auth.Identity) Kind {
	if id.Verified() {
		return CloudSynced
	}
	return LocalOnly
}

// RecipeRepository is the recipe contract both strategies expose.
type RecipeRepository interface {
	Kind() Kind
	SaveRecipe(ctx context.Context, in recipe.RecipeInput) (*recipe.Recipe, error)
	UpdateRecipe(ctx context.Context, r recipe.Recipe) error
	DeleteRecipe(ctx context.Context, id int64) error
	Recipe(ctx context.Context, id int64) (*recipe.Recipe, error)
	ListRecipes(ctx context.Context) ([]recipe.Recipe, error)
	RecipeWithIngredients(ctx context.Context, id int64) (*recipe.RecipeWithIngredients, error)
}

// Mirror pushes single recipe changes to the cloud.
type Mirror interface {
	PushRecipe(ctx context.Context, id auth.Identity, recipeID int64) error
	DeleteRemoteRecipe(ctx context.Context, id auth.Identity, recipeUUID string) error
}

// LocalRecipes reads and writes the local store only.
type LocalRecipes struct {
	*recipe.Repository
}

func NewLocalRecipes(r *recipe.Repository) *LocalRecipes {
	return &LocalRecipes{Repository: r}
}

func (l *LocalRecipes) Kind() Kind { return LocalOnly }

// CloudRecipes writes through the local store and then mirrors the change to
// the user's cloud collection. Mirror failures are logged and left for the
// next full sync.
type CloudRecipes struct {
	local    *recipe.Repository
	mirror   Mirror
	identity auth.Identity
	logger   *zap.Logger
}

func NewCloudRecipes(local *recipe.Repository, mirror Mirror, id auth.Identity, logger *zap.Logger) *CloudRecipes {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CloudRecipes{local: local, mirror: mirror, identity: id, logger: logger}
}

func (c *CloudRecipes) Kind() Kind { return CloudSynced }

func (c *CloudRecipes) push(ctx context.Context, recipeID int64) {
	if err := c.mirror.PushRecipe(ctx, c.identity, recipeID); err != nil {
		c.logger.Warn("failed to mirror recipe", zap.Int64("recipe_id", recipeID), zap.Error(err))
	}
}

func (c *CloudRecipes) SaveRecipe(ctx context.Context, in recipe.RecipeInput) (*recipe.Recipe, error) {
	rec, err := c.local.SaveRecipe(ctx, in)
	if err != nil {
		return nil, err
	}
	c.push(ctx, rec.RecipeID)
	return rec, nil
}

func (c *CloudRecipes) UpdateRecipe(ctx context.Context, r recipe.Recipe) error {
	if err := c.local.UpdateRecipe(ctx, r); err != nil {
		return err
	}
	c.push(ctx, r.RecipeID)
	return nil
}

func (c *CloudRecipes) DeleteRecipe(ctx context.Context, id int64) error {
	rec, err := c.local.Recipe(ctx, id)
	if err != nil {
		return err
	}
	if err := c.local.DeleteRecipe(ctx, id); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := c.mirror.DeleteRemoteRecipe(ctx, c.identity, rec.UUID); err != nil {
		c.logger.Warn("failed to delete mirrored recipe", zap.Int64("recipe_id", id), zap.Error(err))
	}
	return nil
}

func (c *CloudRecipes) Recipe(ctx context.Context, id int64) (*recipe.Recipe, error) {
	return c.local.Recipe(ctx, id)
}

func (c *CloudRecipes) ListRecipes(ctx context.Context) ([]recipe.Recipe, error) {
	return c.local.ListRecipes(ctx)
}

func (c *CloudRecipes) RecipeWithIngredients(ctx context.Context, id int64) (*recipe.RecipeWithIngredients, error) {
	return c.local.RecipeWithIngredients(ctx, id)
}

// Selector holds the strategy for the current identity and swaps it on
// every identity change. Swapping never migrates data.
type Selector struct {
	local  *recipe.Repository
	mirror Mirror
	logger *zap.Logger

	mu      sync.RWMutex
	current RecipeRepository
}

func NewSelector(local *recipe.Repository, mirror Mirror, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Selector{local: local, mirror: mirror, logger: logger}
	s.Apply(auth.Identity{})
	return s
}

// Apply selects the strategy for id.
func (s *Selector) Apply(id auth.Identity) RecipeRepository {
	var next RecipeRepository
	switch KindFor(id) {
	case CloudSynced:
		next = NewCloudRecipes(s.local, s.mirror, id, s.logger)
	default:
		next = NewLocalRecipes(s.local)
	}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	s.logger.Debug("recipe repository selected", zap.Stringer("kind", next.Kind()))
	return next
}

func (s *Selector) Current() RecipeRepository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Selector) Kind() Kind {
	return s.Current().Kind()
}

// Watch applies the provider's current identity and every later change
// until ctx is done.
func (s *Selector) Watch(ctx context.Context, provider auth.Provider) {
	changes, stop := provider.Subscribe()
	defer stop()
	s.Apply(provider.Current())
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-changes:
			if !ok {
				return
			}
			s.Apply(id)
		}
	}
}

var (
	_ RecipeRepository = (*LocalRecipes)(nil)
	_ RecipeRepository = (*CloudRecipes)(nil)
)
