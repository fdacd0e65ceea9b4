// Package app wires the stores, the cloud reconciler and the importers into
// the use cases the command line and the bot expose.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/cloudsync"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/database"
	"family-meal-planner/internal/family"
	"family-meal-planner/internal/importer"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/repository"
	"family-meal-planner/internal/shopping"
)

var (
	ErrCloudDisabled    = errors.New("cloud sync is not configured")
	ErrImporterDisabled = errors.New("recipe import is not configured")
	ErrPlanNotFound     = errors.New("weekly plan not found")
	ErrRecipeNotFound   = errors.New("recipe not found")
)

// App holds the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	DB       *database.DB
	Recipes  *recipe.Repository
	Plans    *planner.PlanRepository
	Session  *auth.Session
	Selector *repository.Selector
	Shopping *shopping.Aggregator
	Runs     *metrics.Store

	// Nil when no cloud store is configured.
	Families *family.Service
	Syncer   *cloudsync.Syncer
	Migrator *cloudsync.Migrator
	AutoSync *cloudsync.AutoSync

	// Nil when no text generator is configured.
	Importer *importer.Parser

	closers []func() error
}

type options struct {
	store      cloud.Store
	gen        llm.TextGenerator
	registerer prometheus.Registerer
}

type Option func(*options)

// WithStore uses store instead of dialing cloud.redis_url.
func WithStore(store cloud.Store) Option {
	return func(o *options) { o.store = store }
}

// WithTextGenerator uses gen instead of a configured Gemini or Groq client.
func WithTextGenerator(gen llm.TextGenerator) Option {
	return func(o *options) { o.gen = gen }
}

// WithRegisterer registers the sync metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New opens the local database and connects whichever collaborators cfg
// enables. Sections that are not configured leave their use cases disabled.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		DB:      db,
		Recipes: recipe.NewRepository(db),
		Plans:   planner.NewPlanRepository(db),
		Runs:    metrics.NewStore(db),
		closers: []func() error{db.Close},
	}
	a.Shopping = shopping.NewAggregator(a.Plans, a.Recipes, logger.Named("shopping"))

	if err := a.openSession(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openCloud(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	a.Selector.Apply(a.Session.Current())
	if err := a.openImporter(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openSession() error {
	var verifier *auth.Verifier
	if a.cfg.Auth.TokenSecret != "" {
		v, err := auth.NewVerifier(a.cfg.Auth.TokenSecret, a.cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
		verifier = v
	}
	a.Session = auth.NewSession(verifier)
	if a.cfg.Auth.Token != "" {
		if _, err := a.Session.SignInWithToken(a.cfg.Auth.Token); err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}
	}
	return nil
}

func (a *App) openCloud(ctx context.Context, o options) error {
	store := o.store
	if store == nil && a.cfg.Cloud.RedisURL != "" {
		rs, err := cloud.Dial(ctx, a.cfg.Cloud.RedisURL, a.cfg.Cloud.Prefix)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		store = rs
	}
	if store == nil {
		a.Selector = repository.NewSelector(a.Recipes, offlineMirror{}, a.logger.Named("repository"))
		return nil
	}

	reg := o.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	syncMetrics := metrics.NewSyncMetrics(reg)

	a.Families = family.NewService(store, family.NewRepository(a.DB), a.Plans, a.logger.Named("family"))
	a.Syncer = cloudsync.NewSyncer(store, a.Recipes, a.Plans, a.Families, a.logger.Named("sync"),
		cloudsync.WithMetrics(syncMetrics))
	a.Migrator = cloudsync.NewMigrator(a.Syncer, a.Recipes, a.logger.Named("migration"))
	a.AutoSync = cloudsync.NewAutoSync(a.Syncer, a.DB.Changes, a.Session, a.logger.Named("autosync"),
		cloudsync.WithDebounce(a.cfg.Sync.Debounce),
		cloudsync.WithRecorder(a.Runs),
		cloudsync.WithRunMetrics(syncMetrics))
	a.Selector = repository.NewSelector(a.Recipes, a.Syncer, a.logger.Named("repository"))
	return nil
}

func (a *App) openImporter(ctx context.Context, o options) error {
	gen := o.gen
	if gen == nil && a.cfg.Gemini.APIKey != "" {
		client, err := llm.NewGeminiClient(ctx, a.cfg.Gemini.APIKey, a.cfg.Gemini.Model)
		if err != nil {
			return fmt.Errorf("failed to create Gemini client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		gen = client
	}
	if gen == nil && a.cfg.Groq.APIKey != "" {
		gen = llm.NewGroqClient(a.cfg.Groq.APIKey, a.cfg.Groq.Model)
	}
	if gen != nil {
		a.Importer = importer.NewParser(gen, a.logger.Named("importer"))
	}
	return nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run keeps the recipe repository in step with the signed-in identity and
// syncs after local changes until ctx is done.
func (a *App) Run(ctx context.Context) error {
	go a.Selector.Watch(ctx, a.Session)
	if a.AutoSync == nil {
		<-ctx.Done()
		return nil
	}
	return a.AutoSync.Run(ctx)
}

// Identity is the signed-in user.
func (a *App) Identity() auth.Identity {
	return a.Session.Current()
}

// Sync runs a full sync for the signed-in user.
func (a *App) Sync(ctx context.Context) (cloudsync.Report, error) {
	if a.AutoSync == nil {
		return cloudsync.Report{}, ErrCloudDisabled
	}
	return a.AutoSync.SyncNow(ctx)
}

func (a *App) plan(ctx context.Context, weeklyPlanID int64) (*planner.WeeklyPlan, error) {
	p, err := a.Plans.WeeklyPlan(ctx, weeklyPlanID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrPlanNotFound, weeklyPlanID)
	}
	return p, nil
}

// ShoppingList builds the sorted shopping list of a weekly plan.
func (a *App) ShoppingList(ctx context.Context, weeklyPlanID int64) ([]shopping.Item, error) {
	if _, err := a.plan(ctx, weeklyPlanID); err != nil {
		return nil, err
	}
	items, err := a.Shopping.Build(ctx, weeklyPlanID)
	if err != nil {
		return nil, err
	}
	shopping.Sort(items)
	return items, nil
}

// WeeklyPlans lists the plans the signed-in user can see, newest first.
// Without a user every local plan is listed.
func (a *App) WeeklyPlans(ctx context.Context) ([]planner.WeeklyPlan, error) {
	id := a.Identity()
	if !id.Authenticated() {
		return a.Plans.ListWeeklyPlans(ctx)
	}
	return a.Plans.WeeklyPlansForUser(ctx, id.UID)
}

// CreatePlan stores a weekly plan for the week containing start, owned by
// the signed-in user. Zero commensals use the default party size.
func (a *App) CreatePlan(ctx context.Context, name string, start time.Time, commensals int) (*planner.WeeklyPlan, error) {
	id, err := a.Plans.InsertWeeklyPlan(ctx, planner.WeeklyPlan{
		Name:       name,
		StartDate:  planner.WeekStart(start).UnixMilli(),
		Commensals: commensals,
		UserID:     a.Identity().UID,
	})
	if err != nil {
		return nil, err
	}
	return a.plan(ctx, id)
}

// FindRecipe resolves a recipe by number or by exact name.
func (a *App) FindRecipe(ctx context.Context, ref string) (*recipe.Recipe, error) {
	var rec *recipe.Recipe
	var err error
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		rec, err = a.Recipes.Recipe(ctx, id)
	} else {
		rec, err = a.Recipes.RecipeByName(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, ref)
	}
	return rec, nil
}

// ScheduleMeal adds a recipe to a slot of a plan. The slot keeps any meals
// already in it. Zero commensals use the plan's party size.
func (a *App) ScheduleMeal(ctx context.Context, weeklyPlanID int64, recipeRef string, day planner.DayOfWeek, mealType planner.MealType, commensals int) (*planner.MealPlan, error) {
	if _, err := a.plan(ctx, weeklyPlanID); err != nil {
		return nil, err
	}
	rec, err := a.FindRecipe(ctx, recipeRef)
	if err != nil {
		return nil, err
	}
	m := planner.MealPlan{
		WeeklyPlanID: weeklyPlanID,
		RecipeID:     rec.RecipeID,
		DayOfWeek:    day,
		MealType:     mealType,
		Servings:     rec.Servings,
		Commensals:   commensals,
	}
	id, err := a.Plans.InsertMealPlan(ctx, m)
	if err != nil {
		return nil, err
	}
	m.MealPlanID = id
	return &m, nil
}

// ClearSlot removes every meal in one slot of a plan.
func (a *App) ClearSlot(ctx context.Context, weeklyPlanID int64, day planner.DayOfWeek, mealType planner.MealType) error {
	if _, err := a.plan(ctx, weeklyPlanID); err != nil {
		return err
	}
	return a.Plans.DeleteMealsInSlot(ctx, weeklyPlanID, day, mealType)
}

// ClearWeek removes every meal of a plan and returns how many were removed.
func (a *App) ClearWeek(ctx context.Context, weeklyPlanID int64) (int64, error) {
	if _, err := a.plan(ctx, weeklyPlanID); err != nil {
		return 0, err
	}
	return a.Plans.ClearAllMealsInWeek(ctx, weeklyPlanID)
}

// SharePlan shares a plan with a family the signed-in user belongs to. The
// next sync copies it to the family.
func (a *App) SharePlan(ctx context.Context, weeklyPlanID, familyID int64) error {
	if a.Families == nil {
		return ErrCloudDisabled
	}
	if _, err := a.plan(ctx, weeklyPlanID); err != nil {
		return err
	}
	return a.Families.ShareWeeklyPlan(ctx, a.Identity(), weeklyPlanID, familyID)
}

// UnsharePlan stops sharing a plan with a family.
func (a *App) UnsharePlan(ctx context.Context, weeklyPlanID, familyID int64) error {
	if a.Families == nil {
		return ErrCloudDisabled
	}
	return a.Families.UnshareWeeklyPlan(ctx, a.Identity(), weeklyPlanID, familyID)
}

// ImportText parses free text into a recipe and saves it through the
// current repository.
func (a *App) ImportText(ctx context.Context, text string) (*recipe.Recipe, error) {
	if a.Importer == nil {
		return nil, ErrImporterDisabled
	}
	in, err := a.Importer.ParseText(ctx, text)
	if err != nil {
		return nil, err
	}
	return a.Selector.Current().SaveRecipe(ctx, in)
}

// ImportURL fetches a page and saves the recipe found in it.
func (a *App) ImportURL(ctx context.Context, url string) (*recipe.Recipe, error) {
	if a.Importer == nil {
		return nil, ErrImporterDisabled
	}
	in, err := a.Importer.ImportURL(ctx, url)
	if err != nil {
		return nil, err
	}
	return a.Selector.Current().SaveRecipe(ctx, in)
}

// Migrate uploads local data to the signed-in user's cloud space.
func (a *App) Migrate(ctx context.Context, clearLocal bool) (cloudsync.MigrationResult, error) {
	if a.Migrator == nil {
		return cloudsync.MigrationResult{}, ErrCloudDisabled
	}
	return a.Migrator.Migrate(ctx, a.Identity(), clearLocal)
}

// CreateFamily creates a family owned by the signed-in user.
func (a *App) CreateFamily(ctx context.Context, name string) (*family.Family, error) {
	if a.Families == nil {
		return nil, ErrCloudDisabled
	}
	return a.Families.CreateFamily(ctx, a.Identity(), name)
}

// Invite creates an invite code for a family.
func (a *App) Invite(ctx context.Context, familyID int64) (string, error) {
	if a.Families == nil {
		return "", ErrCloudDisabled
	}
	return a.Families.CreateInvite(ctx, a.Identity(), familyID)
}

// Join redeems an invite code.
func (a *App) Join(ctx context.Context, code string) (*family.Family, error) {
	if a.Families == nil {
		return nil, ErrCloudDisabled
	}
	return a.Families.JoinWithCode(ctx, a.Identity(), code)
}

// CleanupMetrics removes sync run records older than days, falling back to
// the configured retention.
func (a *App) CleanupMetrics(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = a.cfg.Sync.MetricsRetentionDays
	}
	return a.Runs.Cleanup(ctx, days)
}

// Health reports process and database usage.
func (a *App) Health() metrics.Health {
	return metrics.Snapshot(a.cfg.Database.Path)
}

// offlineMirror stands in for the cloud when none is configured.
type offlineMirror struct{}

func (offlineMirror) PushRecipe(context.Context, auth.Identity, int64) error {
	return ErrCloudDisabled
}

func (offlineMirror) DeleteRemoteRecipe(context.Context, auth.Identity, string) error {
	return ErrCloudDisabled
}
