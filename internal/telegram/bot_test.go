package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/cloudsync"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/llm"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/shopping"
	"family-meal-planner/internal/units"
)

const chatID = int64(100)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type mockTextGen struct {
	res string
}

func (m *mockTextGen) GenerateContent(ctx context.Context, prompt string) (llm.ContentResponse, error) {
	return llm.ContentResponse{Content: m.res}, nil
}

func newTestBot(t *testing.T, opts ...app.Option) (*Bot, *fakeSender, int64) {
	t.Helper()
	ctx := context.Background()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "bot.db")},
		Sync:     config.SyncConfig{Debounce: time.Second, MetricsRetentionDays: 30},
		Telegram: config.TelegramConfig{AllowedUserIDs: []int64{7}},
	}
	a, err := app.New(ctx, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	soup, err := a.Recipes.SaveRecipe(ctx, recipe.RecipeInput{
		Name:     "Soup",
		Servings: 2,
		Ingredients: []recipe.IngredientInput{
			{Name: "Carrot", Amount: 200, Unit: units.Gram, Category: units.Vegetables},
			{Name: "Milk", Amount: 100, Unit: units.Milliliter, Category: units.Dairy},
		},
	})
	require.NoError(t, err)
	planID, err := a.Plans.SavePlanWithMeals(ctx, planner.WeeklyPlan{Name: "Autumn week", StartDate: 1, Commensals: 2},
		[]planner.MealPlan{{RecipeID: soup.RecipeID, DayOfWeek: planner.Monday, MealType: planner.Dinner}})
	require.NoError(t, err)

	sender := &fakeSender{}
	b := newBot(sender, a, cfg, zap.NewNop())
	b.spawn = func(f func()) { f() }
	return b, sender, planID
}

func TestPlanCommands(t *testing.T) {
	ctx := context.Background()
	b, sender, planID := newTestBot(t)

	b.processMessage(ctx, chatID, "/newplan")
	assert.Contains(t, sender.last(t), "Usage: /newplan")
	b.processMessage(ctx, chatID, "/newplan Winter week")
	assert.Contains(t, sender.last(t), "Created *Winter week*")

	id := strconv.FormatInt(planID, 10)
	b.processMessage(ctx, chatID, "/meal "+id+" fri lunch Soup")
	assert.Equal(t, "✅ Soup on Friday lunch for 2 people.", sender.last(t))
	b.processMessage(ctx, chatID, "/meal "+id+" funday lunch Soup")
	assert.Contains(t, sender.last(t), "Usage: /meal")
	b.processMessage(ctx, chatID, "/meal "+id+" mon dinner Stew")
	assert.Contains(t, sender.last(t), "recipe not found")

	items, err := b.app.ShoppingList(ctx, planID)
	require.NoError(t, err)
	carrot := items[0]
	for _, it := range items {
		if it.Name == "Carrot" {
			carrot = it
		}
	}
	assert.InDelta(t, 400.0, carrot.Amount, 1e-9)

	b.processMessage(ctx, chatID, "/clearweek "+id)
	assert.Contains(t, sender.last(t), "Removed 2 meals")

	b.processMessage(ctx, chatID, "/share "+id+" 5")
	assert.Contains(t, sender.last(t), "cloud sync is not configured")
	b.processMessage(ctx, chatID, "/share "+id)
	assert.Contains(t, sender.last(t), "Usage: /share")
}

func TestShoppingListCommands(t *testing.T) {
	ctx := context.Background()
	b, sender, planID := newTestBot(t)

	b.processMessage(ctx, chatID, "/check 1")
	assert.Contains(t, sender.last(t), "/list")

	b.processMessage(ctx, chatID, "/list "+strconv.FormatInt(planID, 10))
	out := sender.last(t)
	assert.Contains(t, out, "Autumn week")
	assert.Contains(t, out, "*Dairy*")
	assert.Contains(t, out, "1. ⬜")
	assert.Less(t, strings.Index(out, "Milk"), strings.Index(out, "Carrot"))

	b.processMessage(ctx, chatID, "/check 1")
	out = sender.last(t)
	assert.Contains(t, out, "In the basket")
	assert.Contains(t, out, "2. ✅")
	assert.Less(t, strings.Index(out, "Carrot"), strings.Index(out, "Milk"))

	b.processMessage(ctx, chatID, "/check 9")
	assert.Contains(t, sender.last(t), "No item 9")

	b.processMessage(ctx, chatID, "/clear")
	assert.NotContains(t, sender.last(t), "✅")

	b.processMessage(ctx, chatID, "/list abc")
	assert.Contains(t, sender.last(t), "Usage")
	b.processMessage(ctx, chatID, "/list 999")
	assert.Contains(t, sender.last(t), "No plan")
}

func TestSyncAndStatusWithoutCloud(t *testing.T) {
	ctx := context.Background()
	b, sender, _ := newTestBot(t)

	b.processMessage(ctx, chatID, "/sync")
	assert.Contains(t, sender.last(t), "Error syncing")
	assert.Contains(t, sender.last(t), "not configured")

	b.processMessage(ctx, chatID, "/status")
	assert.Contains(t, sender.last(t), "Cloud sync is not configured")
	assert.Contains(t, sender.last(t), "System Health")
}

func TestImportCommand(t *testing.T) {
	ctx := context.Background()
	gen := &mockTextGen{res: `{"name": "Fish_Stew", "servings": 3, "instructions": "Simmer.",
		"ingredients": [{"name": "Cod", "amount": 500, "unit": "gram", "category": "FISH"}]}`}
	b, sender, _ := newTestBot(t, app.WithTextGenerator(gen))

	b.processMessage(ctx, chatID, "/import")
	assert.Contains(t, sender.last(t), "Usage")

	b.processMessage(ctx, chatID, "/import Fish stew with 500g cod")
	assert.Contains(t, sender.last(t), "Recipe Saved")
	assert.Contains(t, sender.last(t), `Fish\_Stew`)

	rec, err := b.app.Recipes.RecipeByName(ctx, "Fish_Stew")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Servings)
}

func TestWebhookChecksAllowedUsers(t *testing.T) {
	b, sender, _ := newTestBot(t)
	mux := http.NewServeMux()
	b.RegisterHandlers(mux)

	post := func(userID int64, text string) int {
		update := tgbotapi.Update{Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: userID},
			Chat: &tgbotapi.Chat{ID: chatID},
			Text: text,
		}}
		body, err := json.Marshal(update)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body)))
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, post(99, "/plans"))
	assert.Empty(t, sender.sent)

	assert.Equal(t, http.StatusOK, post(7, "/plans"))
	assert.Contains(t, sender.last(t), "Autumn week")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())
}

func TestFormatHelpers(t *testing.T) {
	items := []shopping.Item{
		{Name: "Eggs", Unit: units.Piece, Amount: 6, Category: units.Dairy},
		{Name: "Rice", Unit: units.Gram, Amount: 500, Category: units.Pantry, Checked: true},
	}
	out := formatShoppingList("Week", items)
	assert.Contains(t, out, "🛒 *Shopping List* - Week")
	assert.Contains(t, out, "1. ⬜ 6 pc Eggs")
	assert.Contains(t, out, "2. ✅")
	assert.NotContains(t, out, "*Pantry*")

	assert.Contains(t, formatShoppingList("", nil), "Nothing to buy")
	assert.Contains(t, formatPlans(nil), "No weekly plans")

	report := formatReport(cloudsync.Report{RecipesUploaded: 2, PlansDownloaded: 1, FamilyLinks: 1, Failed: 1})
	assert.Contains(t, report, "Uploaded: 2 recipes, 0 plans")
	assert.Contains(t, report, "Family plans: 1")
	assert.Contains(t, report, "1 items failed")

	status := formatStatus(&cloudsync.Status{LastError: "redis down"},
		[]metrics.DailySummary{{Date: "2026-10-18", Runs: 3, FailedRuns: 1}}, metrics.Health{DataSize: "1.0 KB"})
	assert.Contains(t, status, "Never synced")
	assert.Contains(t, status, "redis down")
	assert.Contains(t, status, "*2026-10-18*: 3 runs (1 failed)")
	assert.Contains(t, status, "1.0 KB")

	assert.Equal(t, `a\_b\*c`, escape("a_b*c"))
}
