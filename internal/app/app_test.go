package app

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/repository"
	"family-meal-planner/internal/units"
)

const testSecret = "0123456789abcdef0123"

type mockTextGen struct {
	res string
}

func (m *mockTextGen) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	return llm.ContentResponse{Content: m.res}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "app.db")},
		Auth:     config.AuthConfig{Issuer: "test"},
		Sync:     config.SyncConfig{Debounce: 10 * time.Millisecond, MetricsRetentionDays: 30},
	}
}

func newStore(t *testing.T) cloud.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cloud.NewRedisStore(client, "app:")
}

func signedIn(t *testing.T, cfg *config.Config, id auth.Identity) {
	t.Helper()
	v, err := auth.NewVerifier(testSecret, cfg.Auth.Issuer)
	require.NoError(t, err)
	token, err := v.Issue(id, time.Hour)
	require.NoError(t, err)
	cfg.Auth.TokenSecret = testSecret
	cfg.Auth.Token = token
}

func TestOfflineApp(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Families)
	assert.Equal(t, repository.LocalOnly, a.Selector.Kind())

	_, err = a.Sync(ctx)
	assert.True(t, errors.Is(err, ErrCloudDisabled))
	_, err = a.Join(ctx, "ABC123")
	assert.True(t, errors.Is(err, ErrCloudDisabled))
	_, err = a.ImportText(ctx, "some recipe")
	assert.True(t, errors.Is(err, ErrImporterDisabled))
}

func TestShoppingList(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	soup, err := a.Recipes.SaveRecipe(ctx, recipe.RecipeInput{
		Name:     "Soup",
		Servings: 2,
		Ingredients: []recipe.IngredientInput{
			{Name: "Carrot", Amount: 200, Unit: units.Gram, Category: units.Vegetables},
			{Name: "Salt", Amount: 1, Unit: units.Teaspoon, Category: units.Pantry},
		},
	})
	require.NoError(t, err)

	planID, err := a.Plans.SavePlanWithMeals(ctx, planner.WeeklyPlan{Name: "Week", StartDate: 1, Commensals: 4}, []planner.MealPlan{
		{RecipeID: soup.RecipeID, DayOfWeek: planner.Monday, MealType: planner.Lunch},
		{RecipeID: soup.RecipeID, DayOfWeek: planner.Tuesday, MealType: planner.Dinner, Commensals: 2},
	})
	require.NoError(t, err)

	items, err := a.ShoppingList(ctx, planID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	byName := map[string]float64{}
	for _, it := range items {
		byName[it.Name] = it.Amount
	}
	assert.InDelta(t, 600.0, byName["Carrot"], 1e-9)
	assert.InDelta(t, 3.0, byName["Salt"], 1e-9)

	_, err = a.ShoppingList(ctx, planID+100)
	assert.Error(t, err)

	plans, err := a.WeeklyPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestPlanScheduling(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	soup, err := a.Recipes.SaveRecipe(ctx, recipe.RecipeInput{
		Name:        "Soup",
		Servings:    2,
		Ingredients: []recipe.IngredientInput{{Name: "Carrot", Amount: 200, Unit: units.Gram}},
	})
	require.NoError(t, err)

	plan, err := a.CreatePlan(ctx, " Autumn ", time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC), 4)
	require.NoError(t, err)
	assert.Equal(t, "Autumn", plan.Name)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), plan.Start())
	assert.Equal(t, 4, plan.Commensals)

	byName, err := a.ScheduleMeal(ctx, plan.WeeklyPlanID, "Soup", planner.Monday, planner.Lunch, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, byName.Commensals)
	assert.Equal(t, 2, byName.Servings)
	_, err = a.ScheduleMeal(ctx, plan.WeeklyPlanID, strconv.FormatInt(soup.RecipeID, 10), planner.Monday, planner.Lunch, 2)
	require.NoError(t, err)
	_, err = a.ScheduleMeal(ctx, plan.WeeklyPlanID, "Soup", planner.Friday, planner.Dinner, 0)
	require.NoError(t, err)

	items, err := a.ShoppingList(ctx, plan.WeeklyPlanID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.InDelta(t, 1000.0, items[0].Amount, 1e-9)

	require.NoError(t, a.ClearSlot(ctx, plan.WeeklyPlanID, planner.Monday, planner.Lunch))
	items, err = a.ShoppingList(ctx, plan.WeeklyPlanID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.InDelta(t, 400.0, items[0].Amount, 1e-9)

	n, err := a.ClearWeek(ctx, plan.WeeklyPlanID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	items, err = a.ShoppingList(ctx, plan.WeeklyPlanID)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = a.ScheduleMeal(ctx, plan.WeeklyPlanID, "Stew", planner.Monday, planner.Lunch, 0)
	assert.ErrorIs(t, err, ErrRecipeNotFound)
	_, err = a.ScheduleMeal(ctx, plan.WeeklyPlanID+1, "Soup", planner.Monday, planner.Lunch, 0)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	_, err = a.ClearWeek(ctx, plan.WeeklyPlanID+1)
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.ErrorIs(t, a.SharePlan(ctx, plan.WeeklyPlanID, 1), ErrCloudDisabled)
}

func TestCloudApp(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	alice := auth.Identity{UID: "alice", Email: "alice@example.com"}
	signedIn(t, cfg, alice)
	store := newStore(t)

	gen := &mockTextGen{res: `{"name": "Pancakes", "servings": 2, "instructions": "Mix and fry.",
		"ingredients": [{"name": "Flour", "amount": 200, "unit": "GRAM", "category": "PANTRY"}]}`}
	reg := prometheus.NewRegistry()
	a, err := New(ctx, cfg, zap.NewNop(), WithStore(store), WithTextGenerator(gen), WithRegisterer(reg))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "alice", a.Identity().UID)
	assert.Equal(t, repository.CloudSynced, a.Selector.Kind())

	rec, err := a.ImportText(ctx, "Pancakes: 200g flour, mix and fry.")
	require.NoError(t, err)
	assert.Equal(t, "Pancakes", rec.Name)

	fields, err := store.Get(ctx, cloud.Doc(cloud.UserRecipes("alice"), rec.UUID))
	require.NoError(t, err)
	assert.NotNil(t, fields, "saved recipe is mirrored")

	fam, err := a.CreateFamily(ctx, "Home")
	require.NoError(t, err)
	code, err := a.Invite(ctx, fam.FamilyID)
	require.NoError(t, err)
	assert.Len(t, code, 6)

	plan, err := a.CreatePlan(ctx, "Pancake week", time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), 0)
	require.NoError(t, err)
	assert.Equal(t, "alice", plan.UserID)
	_, err = a.ScheduleMeal(ctx, plan.WeeklyPlanID, "Pancakes", planner.Saturday, planner.Lunch, 0)
	require.NoError(t, err)
	require.NoError(t, a.SharePlan(ctx, plan.WeeklyPlanID, fam.FamilyID))

	report, err := a.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	shared, err := store.List(ctx, cloud.FamilyWeeklyPlans(fam.FamilyID))
	require.NoError(t, err)
	require.Len(t, shared, 1)
	assert.Equal(t, plan.UUID, shared[0].ID)
	assert.Equal(t, 1, report.RecipesUploaded)

	res, err := a.Migrate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	summary, err := a.Runs.DailySummary(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, 1, summary[0].Runs)

	removed, err := a.CleanupMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestInvalidToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.TokenSecret = testSecret
	cfg.Auth.Token = "not-a-token"
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
