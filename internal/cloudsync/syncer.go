// Package cloudsync reconciles the local store with the cloud document store
// across a user's own collections and the collections of their families.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
)

// Phases, as reported to metrics.
const (
	PhaseUploadRecipes   = "upload_recipes"
	PhaseUploadPlans     = "upload_plans"
	PhaseDownloadRecipes = "download_recipes"
	PhaseDownloadPlans   = "download_plans"
	PhaseFamilyPlans     = "family_plans"
)

var ErrStoreUnavailable = errors.New("cloud store unavailable")

// Families resolves the families a user belongs to and makes sure they exist
// locally before plans are linked to them.
type Families interface {
	UserFamilyIDs(ctx context.Context, uid string) ([]int64, error)
	EnsureLocal(ctx context.Context, familyID int64) error
}

// Report counts what a sync run did. Item failures are counted and logged
// but do not fail the run.
type Report struct {
	RecipesUploaded   int
	PlansUploaded     int
	RecipesDownloaded int
	PlansDownloaded   int
	FamilyLinks       int
	Failed            int
}

func (r Report) Uploaded() int   { return r.RecipesUploaded + r.PlansUploaded }
func (r Report) Downloaded() int { return r.RecipesDownloaded + r.PlansDownloaded }

// Syncer moves recipes and weekly plans between the local store and the
// cloud store. Document ids are the recipe and plan uuids.
type Syncer struct {
	store    cloud.Store
	recipes  *recipe.Repository
	plans    *planner.PlanRepository
	families Families
	metrics  *metrics.SyncMetrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Syncer)

func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(s *Syncer) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func NewSyncer(store cloud.Store, recipes *recipe.Repository, plans *planner.PlanRepository, families Families, logger *zap.Logger, opts ...Option) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		store:    store,
		recipes:  recipes,
		plans:    plans,
		families: families,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) begin(ctx context.Context, id auth.Identity) error {
	if !id.Verified() {
		return auth.ErrNotAuthenticated
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// item records the outcome of one item in a phase.
func (s *Syncer) item(report *Report, phase, name string, err error) bool {
	s.metrics.ObserveItem(phase, err)
	if err != nil {
		report.Failed++
		s.logger.Warn("sync item failed", zap.String("phase", phase), zap.String("item", name), zap.Error(err))
		return false
	}
	return true
}

// SyncAll uploads local recipes and plans, downloads the user's remote ones
// and then pulls the plans shared with the user's families. Phases run in
// that order, one after the other.
func (s *Syncer) SyncAll(ctx context.Context, id auth.Identity) (Report, error) {
	var report Report
	if err := s.begin(ctx, id); err != nil {
		return report, err
	}
	steps := []func(context.Context, string, *Report) error{
		s.uploadRecipes,
		s.uploadPlans,
		s.downloadRecipes,
		s.downloadPlans,
		s.propagateFamilies,
	}
	for _, step := range steps {
		if err := step(ctx, id.UID, &report); err != nil {
			return report, err
		}
	}
	s.logger.Info("sync completed",
		zap.String("user", id.UID),
		zap.Int("uploaded", report.Uploaded()),
		zap.Int("downloaded", report.Downloaded()),
		zap.Int("family_links", report.FamilyLinks),
		zap.Int("failed", report.Failed))
	return report, nil
}

// SyncRecipes runs only the recipe phases.
func (s *Syncer) SyncRecipes(ctx context.Context, id auth.Identity) (Report, error) {
	var report Report
	if err := s.begin(ctx, id); err != nil {
		return report, err
	}
	if err := s.uploadRecipes(ctx, id.UID, &report); err != nil {
		return report, err
	}
	err := s.downloadRecipes(ctx, id.UID, &report)
	return report, err
}

// SyncWeeklyPlans runs only the plan phases, family propagation included.
func (s *Syncer) SyncWeeklyPlans(ctx context.Context, id auth.Identity) (Report, error) {
	var report Report
	if err := s.begin(ctx, id); err != nil {
		return report, err
	}
	for _, step := range []func(context.Context, string, *Report) error{s.uploadPlans, s.downloadPlans, s.propagateFamilies} {
		if err := step(ctx, id.UID, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

// PushRecipe writes a single local recipe to the user's collection.
func (s *Syncer) PushRecipe(ctx context.Context, id auth.Identity, recipeID int64) error {
	if !id.Verified() {
		return auth.ErrNotAuthenticated
	}
	rec, err := s.recipes.Recipe(ctx, recipeID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("recipe %d not found", recipeID)
	}
	return s.pushRecipe(ctx, id.UID, *rec, 0)
}

// DeleteRemoteRecipe removes a recipe from the user's collection.
func (s *Syncer) DeleteRemoteRecipe(ctx context.Context, id auth.Identity, recipeUUID string) error {
	if !id.Verified() {
		return auth.ErrNotAuthenticated
	}
	if err := s.store.Delete(ctx, cloud.Doc(cloud.UserRecipes(id.UID), recipeUUID)); err != nil {
		return fmt.Errorf("failed to delete remote recipe: %w", err)
	}
	return nil
}

func (s *Syncer) pushRecipe(ctx context.Context, uid string, rec recipe.Recipe, migratedAt int64) error {
	ingredients, err := s.recipes.IngredientsForRecipe(ctx, rec.RecipeID)
	if err != nil {
		return err
	}
	doc := recipeDocFor(rec, ingredients)
	doc.MigratedAt = migratedAt
	fields, err := cloud.Encode(doc)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, cloud.Doc(cloud.UserRecipes(uid), rec.UUID), fields, cloud.Merge())
}

func (s *Syncer) uploadRecipes(ctx context.Context, uid string, report *Report) error {
	recipes, err := s.recipes.ListRecipes(ctx)
	if err != nil {
		return err
	}
	for _, rec := range recipes {
		if s.item(report, PhaseUploadRecipes, rec.Name, s.pushRecipe(ctx, uid, rec, 0)) {
			report.RecipesUploaded++
		}
	}
	return nil
}

func (s *Syncer) uploadPlans(ctx context.Context, uid string, report *Report) error {
	plans, err := s.plans.ListWeeklyPlans(ctx)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if s.item(report, PhaseUploadPlans, p.Name, s.pushPlan(ctx, uid, p)) {
			report.PlansUploaded++
		}
	}
	return nil
}

// pushPlan writes a plan to the user's collection. Only the plan's owner
// writes the family copies; members may hold a copy missing meals whose
// recipes they lack.
func (s *Syncer) pushPlan(ctx context.Context, uid string, p planner.WeeklyPlan) error {
	familyIDs, err := s.plans.FamilyIDsForWeeklyPlan(ctx, p.WeeklyPlanID)
	if err != nil {
		return err
	}
	meals, err := s.plans.MealPlansForWeek(ctx, p.WeeklyPlanID)
	if err != nil {
		return err
	}
	fields, err := cloud.Encode(weeklyPlanDocFor(p, familyIDs, meals))
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, cloud.Doc(cloud.UserWeeklyPlans(uid), p.UUID), fields, cloud.Merge()); err != nil {
		return err
	}
	if p.UserID != "" && p.UserID != uid {
		return nil
	}
	for _, fid := range familyIDs {
		if err := s.store.Set(ctx, cloud.Doc(cloud.FamilyWeeklyPlans(fid), p.UUID), fields, cloud.Merge()); err != nil {
			return fmt.Errorf("family %d: %w", fid, err)
		}
	}
	return nil
}

func (s *Syncer) downloadRecipes(ctx context.Context, uid string, report *Report) error {
	docs, err := s.store.List(ctx, cloud.UserRecipes(uid))
	if err != nil {
		return fmt.Errorf("failed to list remote recipes: %w", err)
	}
	for _, d := range docs {
		created, err := s.downloadRecipe(ctx, d)
		if s.item(report, PhaseDownloadRecipes, d.ID, err) && created {
			report.RecipesDownloaded++
		}
	}
	return nil
}

func (s *Syncer) downloadRecipe(ctx context.Context, d cloud.Document) (bool, error) {
	var doc RecipeDoc
	if err := d.Fields.Decode(&doc); err != nil {
		return false, err
	}
	if doc.Name == "" {
		return false, errors.New("recipe without name")
	}
	existing, err := s.findRecipe(ctx, doc)
	if err != nil || existing != nil {
		return false, err
	}
	if _, err := s.recipes.SaveRecipe(ctx, doc.input()); err != nil {
		return false, err
	}
	return true, nil
}

// findRecipe matches by uuid. Documents written before uuids existed match
// by recipeId when present, else by name.
func (s *Syncer) findRecipe(ctx context.Context, doc RecipeDoc) (*recipe.Recipe, error) {
	switch {
	case doc.UUID != "":
		return s.recipes.RecipeByUUID(ctx, doc.UUID)
	case doc.RecipeID != nil:
		return s.recipes.Recipe(ctx, *doc.RecipeID)
	default:
		return s.recipes.RecipeByName(ctx, doc.Name)
	}
}

func (s *Syncer) downloadPlans(ctx context.Context, uid string, report *Report) error {
	docs, err := s.store.List(ctx, cloud.UserWeeklyPlans(uid))
	if err != nil {
		return fmt.Errorf("failed to list remote weekly plans: %w", err)
	}
	for _, d := range docs {
		planID, created, doc, err := s.upsertPlan(ctx, uid, d)
		if !s.item(report, PhaseDownloadPlans, d.ID, err) || !created {
			continue
		}
		report.PlansDownloaded++
		for _, fid := range doc.FamilyIDs {
			if err := s.link(ctx, planID, fid); err != nil {
				s.logger.Warn("failed to link downloaded plan", zap.Int64("family_id", fid), zap.Error(err))
				continue
			}
			report.FamilyLinks++
		}
	}
	return nil
}

// propagateFamilies pulls the plans of every family the user belongs to.
// The plan to family link is asserted on every pass; meals are only added to
// plans created by this pass. Plans of other owners that left the family
// collection lose their local link.
func (s *Syncer) propagateFamilies(ctx context.Context, uid string, report *Report) error {
	familyIDs, err := s.families.UserFamilyIDs(ctx, uid)
	if err != nil {
		return err
	}
	for _, fid := range familyIDs {
		if err := s.families.EnsureLocal(ctx, fid); err != nil {
			s.item(report, PhaseFamilyPlans, strconv.FormatInt(fid, 10), err)
			continue
		}
		docs, err := s.store.List(ctx, cloud.FamilyWeeklyPlans(fid))
		if err != nil {
			s.item(report, PhaseFamilyPlans, strconv.FormatInt(fid, 10), err)
			continue
		}
		present := make(map[string]bool, len(docs))
		for _, d := range docs {
			present[d.ID] = true
			planID, created, doc, err := s.upsertPlan(ctx, uid, d)
			if doc.UUID != "" {
				present[doc.UUID] = true
			}
			if err == nil {
				err = s.plans.AddFamilyAssociation(ctx, planID, fid)
			}
			if !s.item(report, PhaseFamilyPlans, d.ID, err) {
				continue
			}
			report.FamilyLinks++
			if created {
				report.PlansDownloaded++
			}
		}
		if err := s.dropUnshared(ctx, uid, fid, present); err != nil {
			s.item(report, PhaseFamilyPlans, strconv.FormatInt(fid, 10), err)
		}
	}
	return nil
}

func (s *Syncer) dropUnshared(ctx context.Context, uid string, familyID int64, present map[string]bool) error {
	local, err := s.plans.WeeklyPlansForFamily(ctx, familyID)
	if err != nil {
		return err
	}
	for _, p := range local {
		if p.UserID == "" || p.UserID == uid || present[p.UUID] {
			continue
		}
		if err := s.plans.RemoveFamilyAssociation(ctx, p.WeeklyPlanID, familyID); err != nil {
			return err
		}
		s.logger.Info("plan no longer shared", zap.String("plan", p.Name), zap.Int64("family_id", familyID))
	}
	return nil
}

func (s *Syncer) link(ctx context.Context, planID, familyID int64) error {
	if err := s.families.EnsureLocal(ctx, familyID); err != nil {
		return err
	}
	return s.plans.AddFamilyAssociation(ctx, planID, familyID)
}

// upsertPlan finds the local plan for a document, creating it with its meals
// when missing. Documents carrying a uuid match only by uuid; older ones
// match by name and start date.
func (s *Syncer) upsertPlan(ctx context.Context, uid string, d cloud.Document) (int64, bool, WeeklyPlanDoc, error) {
	var doc WeeklyPlanDoc
	if err := d.Fields.Decode(&doc); err != nil {
		return 0, false, doc, err
	}
	if doc.Name == "" || d.Fields.IsNull("startDate") {
		return 0, false, doc, errors.New("weekly plan without name or start date")
	}

	var existing *planner.WeeklyPlan
	var err error
	if doc.UUID != "" {
		existing, err = s.plans.WeeklyPlanByUUID(ctx, doc.UUID)
	} else {
		existing, err = s.plans.WeeklyPlanByNaturalKey(ctx, doc.Name, doc.StartDate)
	}
	if err != nil {
		return 0, false, doc, err
	}
	if existing != nil {
		return existing.WeeklyPlanID, false, doc, nil
	}

	p := doc.plan(uid, s.now().UnixMilli())
	meals := s.resolveMeals(ctx, doc.Meals)
	id, err := s.plans.SavePlanWithMeals(ctx, p, meals)
	if err != nil {
		return 0, false, doc, err
	}
	return id, true, doc, nil
}

// resolveMeals maps meal documents to local recipes. Meals whose recipe is
// not known locally are dropped.
func (s *Syncer) resolveMeals(ctx context.Context, docs []MealDoc) []planner.MealPlan {
	var meals []planner.MealPlan
	for _, m := range docs {
		day, mealType, err := m.slot()
		if err != nil {
			s.logger.Debug("dropping malformed meal", zap.Error(err))
			continue
		}
		rec, err := s.resolveRecipe(ctx, m)
		if err != nil {
			s.logger.Warn("failed to resolve meal recipe", zap.String("recipe", m.RecipeName), zap.Error(err))
			continue
		}
		if rec == nil {
			s.logger.Debug("dropping meal with unknown recipe", zap.String("recipe", m.RecipeName))
			continue
		}
		meal := planner.MealPlan{
			RecipeID:   rec.RecipeID,
			DayOfWeek:  day,
			MealType:   mealType,
			Servings:   m.Servings,
			Commensals: m.Commensals,
		}
		if meal.Servings <= 0 {
			meal.Servings = 1
		}
		if meal.Commensals <= 0 {
			meal.Commensals = planner.DefaultCommensals
		}
		meals = append(meals, meal)
	}
	return meals
}

func (s *Syncer) resolveRecipe(ctx context.Context, m MealDoc) (*recipe.Recipe, error) {
	if m.RecipeUUID != "" {
		rec, err := s.recipes.RecipeByUUID(ctx, m.RecipeUUID)
		if err != nil || rec != nil {
			return rec, err
		}
	}
	if m.RecipeName == "" {
		return nil, nil
	}
	return s.recipes.RecipeByName(ctx, m.RecipeName)
}
