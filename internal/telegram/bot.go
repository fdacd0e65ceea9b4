package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/cloudsync"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/shopping"
)

const handleTimeout = time.Minute

// Sender delivers messages to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot answers chat commands with plans, shopping lists and sync results.
type Bot struct {
	sender Sender
	app    *app.App
	cfg    *config.Config
	logger *zap.Logger
	spawn  func(func())

	mu    sync.Mutex
	lists map[int64]*shopping.List
}

// NewBot initializes the Telegram API and sets the webhook.
func NewBot(cfg *config.Config, a *app.App, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

	wh, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook: %w", err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.Telegram.WebhookURL, err)
	}
	logger.Info("webhook set", zap.String("description", resp.Description))

	return newBot(api, a, cfg, logger), nil
}

func newBot(sender Sender, a *app.App, cfg *config.Config, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		sender: sender,
		app:    a,
		cfg:    cfg,
		logger: logger,
		spawn:  func(f func()) { go f() },
		lists:  make(map[int64]*shopping.List),
	}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		b.logger.Warn("failed to parse update", zap.Error(err))
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.cfg.AllowsTelegramUser(msg.From.ID) {
		b.logger.Warn("unauthorized access attempt",
			zap.Int64("user_id", msg.From.ID),
			zap.String("username", msg.From.UserName))
		return
	}

	b.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		b.processMessage(ctx, msg.Chat.ID, msg.Text)
	})
}

func (b *Bot) processMessage(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if isURL(text) {
		b.handleImportURL(ctx, chatID, text)
		return
	}

	command, args, _ := strings.Cut(text, " ")
	args = strings.TrimSpace(args)
	// "/list@MealBot 3" in group chats
	command, _, _ = strings.Cut(command, "@")

	switch command {
	case "/plans":
		b.handlePlans(ctx, chatID)
	case "/newplan":
		b.handleNewPlan(ctx, chatID, args)
	case "/meal":
		b.handleMeal(ctx, chatID, args)
	case "/clearweek":
		b.handleClearWeek(ctx, chatID, args)
	case "/share":
		b.handleShare(ctx, chatID, args)
	case "/list":
		b.handleList(ctx, chatID, args)
	case "/check":
		b.handleCheck(chatID, args)
	case "/clear":
		b.handleClear(chatID)
	case "/sync":
		b.handleSync(ctx, chatID)
	case "/status":
		b.handleStatus(ctx, chatID)
	case "/import":
		b.handleImportText(ctx, chatID, args)
	default:
		b.reply(chatID, helpText)
	}
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) replyError(chatID int64, action string, err error) {
	b.logger.Warn("command failed", zap.String("action", action), zap.Error(err))
	b.reply(chatID, formatError(action, err))
}

func (b *Bot) list(chatID int64) *shopping.List {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.lists[chatID]
	if !ok {
		l = shopping.NewList(b.app.Shopping)
		b.lists[chatID] = l
	}
	return l
}

func (b *Bot) handlePlans(ctx context.Context, chatID int64) {
	plans, err := b.app.WeeklyPlans(ctx)
	if err != nil {
		b.replyError(chatID, "listing plans", err)
		return
	}
	b.reply(chatID, formatPlans(plans))
}

func (b *Bot) handleNewPlan(ctx context.Context, chatID int64, name string) {
	if name == "" {
		b.reply(chatID, "Usage: /newplan <name>")
		return
	}
	p, err := b.app.CreatePlan(ctx, name, time.Now(), 0)
	if err != nil {
		b.replyError(chatID, "creating plan", err)
		return
	}
	b.reply(chatID, formatPlanCreated(p))
}

// handleMeal expects "<plan> <day> <lunch|dinner> <recipe name>".
func (b *Bot) handleMeal(ctx context.Context, chatID int64, args string) {
	const usage = "Usage: /meal <plan> <day> <lunch|dinner> <recipe>"
	fields := strings.SplitN(args, " ", 4)
	if len(fields) < 4 {
		b.reply(chatID, usage)
		return
	}
	planID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	day, err := planner.ParseDay(fields[1])
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	mealType, err := planner.ParseMealType(fields[2])
	if err != nil {
		b.reply(chatID, usage)
		return
	}
	recipeRef := strings.TrimSpace(fields[3])
	m, err := b.app.ScheduleMeal(ctx, planID, recipeRef, day, mealType, 0)
	if err != nil {
		b.replyError(chatID, "scheduling meal", err)
		return
	}
	b.reply(chatID, formatMealScheduled(m, recipeRef))
}

func (b *Bot) handleClearWeek(ctx context.Context, chatID int64, args string) {
	planID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /clearweek <plan>")
		return
	}
	n, err := b.app.ClearWeek(ctx, planID)
	if err != nil {
		b.replyError(chatID, "clearing plan", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🧹 Removed %d meals.", n))
}

func (b *Bot) handleShare(ctx context.Context, chatID int64, args string) {
	const usage = "Usage: /share <plan> <family>"
	planArg, familyArg, ok := strings.Cut(args, " ")
	if !ok {
		b.reply(chatID, usage)
		return
	}
	planID, err1 := strconv.ParseInt(planArg, 10, 64)
	familyID, err2 := strconv.ParseInt(strings.TrimSpace(familyArg), 10, 64)
	if err1 != nil || err2 != nil {
		b.reply(chatID, usage)
		return
	}
	if err := b.app.SharePlan(ctx, planID, familyID); err != nil {
		b.replyError(chatID, "sharing plan", err)
		return
	}
	b.reply(chatID, "🤝 Plan shared. It reaches the family on the next /sync.")
}

func (b *Bot) handleList(ctx context.Context, chatID int64, args string) {
	planID, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		b.reply(chatID, "Usage: /list <plan number>")
		return
	}
	plan, err := b.app.Plans.WeeklyPlan(ctx, planID)
	if err != nil {
		b.replyError(chatID, "loading plan", err)
		return
	}
	if plan == nil {
		b.reply(chatID, fmt.Sprintf("No plan with number %d. Try /plans.", planID))
		return
	}
	items, err := b.list(chatID).Load(ctx, planID)
	if err != nil {
		b.replyError(chatID, "building shopping list", err)
		return
	}
	b.reply(chatID, formatShoppingList(plan.Name, items))
}

func (b *Bot) handleCheck(chatID int64, args string) {
	n, err := strconv.Atoi(args)
	if err != nil {
		b.reply(chatID, "Usage: /check <item number>")
		return
	}
	l := b.list(chatID)
	if l.PlanID() == 0 {
		b.reply(chatID, "Open a list first with /list <plan number>.")
		return
	}
	if _, ok := l.ToggleAt(n - 1); !ok {
		b.reply(chatID, fmt.Sprintf("No item %d on the list.", n))
		return
	}
	b.reply(chatID, formatShoppingList("", l.Items()))
}

func (b *Bot) handleClear(chatID int64) {
	l := b.list(chatID)
	l.ClearChecked()
	b.reply(chatID, formatShoppingList("", l.Items()))
}

func (b *Bot) handleSync(ctx context.Context, chatID int64) {
	report, err := b.app.Sync(ctx)
	if err != nil {
		b.replyError(chatID, "syncing", err)
		return
	}
	b.reply(chatID, formatReport(report))
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	days, err := b.app.Runs.DailySummary(ctx, 7)
	if err != nil {
		b.replyError(chatID, "loading sync history", err)
		return
	}
	var status *cloudsync.Status
	if b.app.AutoSync != nil {
		s := b.app.AutoSync.Status()
		status = &s
	}
	b.reply(chatID, formatStatus(status, days, b.app.Health()))
}

func (b *Bot) handleImportText(ctx context.Context, chatID int64, text string) {
	if text == "" {
		b.reply(chatID, "Usage: /import <recipe text>")
		return
	}
	rec, err := b.app.ImportText(ctx, text)
	if err != nil {
		b.replyError(chatID, "importing recipe", err)
		return
	}
	b.reply(chatID, formatImported(rec))
}

func (b *Bot) handleImportURL(ctx context.Context, chatID int64, url string) {
	rec, err := b.app.ImportURL(ctx, url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			b.reply(chatID, "⏳ The page took too long to load.")
			return
		}
		b.replyError(chatID, "importing recipe", err)
		return
	}
	b.reply(chatID, formatImported(rec))
}
