package acceptance_tests

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/units"
)

const secret = "acceptance-secret-0123456789"

var pasta = recipe.RecipeInput{
	Name:         "Pasta",
	Servings:     4,
	Instructions: "Boil, drain, dress.",
	Ingredients: []recipe.IngredientInput{
		{Name: "Spaghetti", Amount: 400, Unit: units.Gram, Category: units.Pantry},
		{Name: "Olive oil", Amount: 2, Unit: units.Tablespoon},
		{Name: "Parmesan", Amount: 50, Unit: units.Gram, Category: units.Dairy},
	},
}

func newDevice(t *testing.T, store cloud.Store, id auth.Identity) *app.App {
	t.Helper()
	v, err := auth.NewVerifier(secret, "acceptance")
	require.NoError(t, err)
	token, err := v.Issue(id, time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), id.UID+".db")},
		Auth:     config.AuthConfig{TokenSecret: secret, Issuer: "acceptance", Token: token},
		Sync:     config.SyncConfig{Debounce: 20 * time.Millisecond, MetricsRetentionDays: 30},
	}
	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestFamilySharesWeeklyPlanAcrossDevices(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := cloud.NewRedisStore(client, "acceptance:")

	alice := newDevice(t, store, auth.Identity{UID: "alice", Email: "alice@example.com", DisplayName: "Alice"})
	bob := newDevice(t, store, auth.Identity{UID: "bob", Email: "bob@example.com"})

	// Alice starts a family and Bob joins with the code he was sent.
	home, err := alice.CreateFamily(ctx, "Home")
	require.NoError(t, err)
	code, err := alice.Invite(ctx, home.FamilyID)
	require.NoError(t, err)
	joined, err := bob.Join(ctx, " "+strings.ToLower(code)+" ")
	require.NoError(t, err)
	assert.Equal(t, "Home", joined.Name)

	members, err := alice.Families.Members(ctx, home.FamilyID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Alice", members[0].Name())
	assert.Equal(t, "bob@example.com", members[1].Name())

	// Alice plans the week and shares it.
	_, err = alice.Selector.Current().SaveRecipe(ctx, pasta)
	require.NoError(t, err)
	week, err := alice.CreatePlan(ctx, "Week 42", time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC), 2)
	require.NoError(t, err)
	planID := week.WeeklyPlanID
	_, err = alice.ScheduleMeal(ctx, planID, "Pasta", planner.Monday, planner.Dinner, 0)
	require.NoError(t, err)
	_, err = alice.ScheduleMeal(ctx, planID, "Pasta", planner.Thursday, planner.Lunch, 6)
	require.NoError(t, err)
	require.NoError(t, alice.SharePlan(ctx, planID, home.FamilyID))

	report, err := alice.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.PlansUploaded)

	// Bob keeps the same recipe on his device, so shared meals resolve by name.
	_, err = bob.Selector.Current().SaveRecipe(ctx, pasta)
	require.NoError(t, err)

	report, err = bob.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)
	assert.Equal(t, 1, report.FamilyLinks)

	plans, err := bob.WeeklyPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Week 42", plans[0].Name)

	aliceList, err := alice.ShoppingList(ctx, planID)
	require.NoError(t, err)
	bobList, err := bob.ShoppingList(ctx, plans[0].WeeklyPlanID)
	require.NoError(t, err)
	require.Len(t, bobList, len(aliceList))
	for i := range aliceList {
		assert.Equal(t, aliceList[i].Name, bobList[i].Name)
		assert.InDelta(t, aliceList[i].Amount, bobList[i].Amount, 1e-9)
	}
	// 2 people on Monday and 6 on Thursday of a 4 serving recipe.
	assert.Equal(t, "Parmesan", aliceList[0].Name)
	assert.InDelta(t, 100.0, aliceList[0].Amount, 1e-9)

	// A second pass changes nothing.
	report, err = bob.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.PlansDownloaded)
	plans, err = bob.WeeklyPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)

	// Once Alice stops sharing, the plan leaves Bob's family view for good.
	require.NoError(t, alice.UnsharePlan(ctx, planID, home.FamilyID))
	_, err = bob.Sync(ctx)
	require.NoError(t, err)
	_, err = alice.Sync(ctx)
	require.NoError(t, err)
	links, err := alice.Plans.FamilyIDsForWeeklyPlan(ctx, planID)
	require.NoError(t, err)
	assert.Empty(t, links)
	links, err = bob.Plans.FamilyIDsForWeeklyPlan(ctx, plans[0].WeeklyPlanID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLocalChangesSyncAutomatically(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := cloud.NewRedisStore(client, "acceptance:")

	alice := newDevice(t, store, auth.Identity{UID: "alice", Email: "alice@example.com"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		alice.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// let the watcher subscribe to the change feed
	time.Sleep(50 * time.Millisecond)
	_, err = alice.Plans.InsertWeeklyPlan(ctx, planner.WeeklyPlan{Name: "Next week", StartDate: 1, UserID: "alice"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		docs, err := store.List(context.Background(), cloud.UserWeeklyPlans("alice"))
		return err == nil && len(docs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		return !alice.AutoSync.Status().LastSync.IsZero()
	}, 5*time.Second, 20*time.Millisecond)
}
