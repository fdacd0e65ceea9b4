package telegram

import (
	"fmt"
	"strings"
	"time"

	"family-meal-planner/internal/cloudsync"
	"family-meal-planner/internal/metrics"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/shopping"
	"family-meal-planner/internal/units"
)

const helpText = `🍽 *Meal Planner*

/plans - your weekly plans
/newplan <name> - start a plan for this week
/meal <plan> <day> <lunch|dinner> <recipe> - schedule a recipe
/clearweek <plan> - remove every meal of a plan
/share <plan> <family> - share a plan with a family
/list <plan> - shopping list of a plan
/check <item> - tick an item off
/clear - untick every item
/sync - sync with your family now
/status - sync and system health
/import <text> - save a recipe from text

Send a link to save the recipe on that page.`

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string {
	return markdownEscaper.Replace(s)
}

func formatError(action string, err error) string {
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return fmt.Sprintf("❌ *Error %s:*\n```\n%v\n```", action, safeErr)
}

func formatPlans(plans []planner.WeeklyPlan) string {
	if len(plans) == 0 {
		return "🗓 No weekly plans yet."
	}
	var sb strings.Builder
	sb.WriteString("🗓 *Weekly Plans*\n\n")
	for _, p := range plans {
		start := time.UnixMilli(p.StartDate).UTC().Format("Mon 2 Jan")
		sb.WriteString(fmt.Sprintf("*%d* %s (%s, %d people)\n", p.WeeklyPlanID, escape(p.Name), start, p.Commensals))
	}
	sb.WriteString("\nUse /list <number> for a shopping list.")
	return sb.String()
}

func formatPlanCreated(p *planner.WeeklyPlan) string {
	return fmt.Sprintf("🗓 Created *%s* (number %d) for the week of %s.",
		escape(p.Name), p.WeeklyPlanID, p.Start().Format("Mon 2 Jan"))
}

func formatMealScheduled(m *planner.MealPlan, recipeName string) string {
	return fmt.Sprintf("✅ %s on %s %s for %d people.",
		escape(recipeName), dayName(m.DayOfWeek), strings.ToLower(string(m.MealType)), m.Commensals)
}

func dayName(d planner.DayOfWeek) string {
	s := strings.ToLower(string(d))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatShoppingList numbers items in list order so /check can refer to
// them. Unchecked items are grouped under their category.
func formatShoppingList(title string, items []shopping.Item) string {
	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*")
	if title != "" {
		sb.WriteString(" - " + escape(title))
	}
	sb.WriteString("\n")
	if len(items) == 0 {
		sb.WriteString("\n_Nothing to buy_")
		return sb.String()
	}

	var category units.Category
	checkedHeader := false
	for i, item := range items {
		switch {
		case item.Checked && !checkedHeader:
			sb.WriteString("\n*In the basket*\n")
			checkedHeader = true
		case !item.Checked && (i == 0 || item.Category != category):
			sb.WriteString(fmt.Sprintf("\n*%s*\n", item.Category.DisplayName()))
		}
		category = item.Category

		mark := "⬜"
		if item.Checked {
			mark = "✅"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s\n", i+1, mark, escape(item.Display())))
	}
	return sb.String()
}

func formatReport(r cloudsync.Report) string {
	var sb strings.Builder
	sb.WriteString("🔄 *Sync complete*\n\n")
	sb.WriteString(fmt.Sprintf("• Uploaded: %d recipes, %d plans\n", r.RecipesUploaded, r.PlansUploaded))
	sb.WriteString(fmt.Sprintf("• Downloaded: %d recipes, %d plans\n", r.RecipesDownloaded, r.PlansDownloaded))
	if r.FamilyLinks > 0 {
		sb.WriteString(fmt.Sprintf("• Family plans: %d\n", r.FamilyLinks))
	}
	if r.Failed > 0 {
		sb.WriteString(fmt.Sprintf("⚠️ %d items failed and will be retried next time.\n", r.Failed))
	}
	return sb.String()
}

func formatStatus(status *cloudsync.Status, days []metrics.DailySummary, health metrics.Health) string {
	var sb strings.Builder
	sb.WriteString("📊 *Sync & Health Report*\n\n")

	sb.WriteString("🔄 *Sync*\n")
	switch {
	case status == nil:
		sb.WriteString("_Cloud sync is not configured_\n")
	case status.Syncing:
		sb.WriteString("• Syncing now\n")
	case status.LastSync.IsZero():
		sb.WriteString("• Never synced\n")
	default:
		sb.WriteString(fmt.Sprintf("• Last sync: %s\n", status.LastSync.UTC().Format("2006-01-02 15:04")))
	}
	if status != nil && status.LastError != "" {
		sb.WriteString(fmt.Sprintf("• Last error: %s\n", escape(status.LastError)))
	}

	sb.WriteString("\n🗓 *Recent Runs*\n")
	if len(days) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range days {
		sb.WriteString(fmt.Sprintf("• *%s*: %d runs (%d failed), %d up / %d down\n",
			d.Date, d.Runs, d.FailedRuns, d.Uploaded, d.Downloaded))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Disk Data: %s\n", health.DataSize))
	return sb.String()
}

func formatImported(rec *recipe.Recipe) string {
	return fmt.Sprintf("✅ *Recipe Saved!*\n\n*Name:* %s\n*Servings:* %d", escape(rec.Name), rec.Servings)
}
