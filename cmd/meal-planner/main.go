package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"family-meal-planner/internal/app"
	"family-meal-planner/internal/config"
	"family-meal-planner/internal/logging"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/shopping"
)

func main() {
	configPath := flag.String("config", os.Getenv("MEALPLANNER_CONFIG"), "Path to a YAML config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer application.Close()

	if err := run(ctx, application, cfg, args[0], args[1:]); err != nil {
		logger.Error("command failed", zap.String("command", args[0]), zap.Error(err))
		application.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, cfg *config.Config, command string, args []string) error {
	switch command {
	case "sync":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		report, err := a.Sync(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %d recipes and %d plans.\n", report.RecipesUploaded, report.PlansUploaded)
		fmt.Printf("Downloaded %d recipes and %d plans.\n", report.RecipesDownloaded, report.PlansDownloaded)
		fmt.Printf("Family plans linked: %d. Failed items: %d.\n", report.FamilyLinks, report.Failed)

	case "plans":
		plans, err := a.WeeklyPlans(ctx)
		if err != nil {
			return err
		}
		for _, p := range plans {
			fmt.Printf("%4d  %-30s %d people\n", p.WeeklyPlanID, p.Name, p.Commensals)
		}

	case "plan":
		fs := flag.NewFlagSet("plan", flag.ExitOnError)
		name := fs.String("name", "", "Plan name")
		start := fs.String("start", "", "A date in the plan's week (YYYY-MM-DD), defaults to today")
		commensals := fs.Int("commensals", 0, "Default party size")
		fs.Parse(args)
		day := time.Now()
		if *start != "" {
			t, err := time.Parse(time.DateOnly, *start)
			if err != nil {
				return fmt.Errorf("invalid -start: %w", err)
			}
			day = t
		}
		p, err := a.CreatePlan(ctx, *name, day, *commensals)
		if err != nil {
			return err
		}
		fmt.Printf("Created plan %q with number %d for the week of %s.\n", p.Name, p.WeeklyPlanID, p.Start().Format(time.DateOnly))

	case "meal":
		fs := flag.NewFlagSet("meal", flag.ExitOnError)
		planID := fs.Int64("plan", 0, "Weekly plan number")
		recipeRef := fs.String("recipe", "", "Recipe number or name")
		dayFlag := fs.String("day", "", "Day of the week (MON..SUN)")
		typeFlag := fs.String("type", "", "LUNCH or DINNER")
		commensals := fs.Int("commensals", 0, "Party size for this meal, defaults to the plan's")
		fs.Parse(args)
		day, mealType, err := parseSlot(*dayFlag, *typeFlag)
		if err != nil {
			return err
		}
		m, err := a.ScheduleMeal(ctx, *planID, *recipeRef, day, mealType, *commensals)
		if err != nil {
			return err
		}
		fmt.Printf("Scheduled %s %s for %d people.\n", m.DayOfWeek, m.MealType, m.Commensals)

	case "clear-slot":
		fs := flag.NewFlagSet("clear-slot", flag.ExitOnError)
		planID := fs.Int64("plan", 0, "Weekly plan number")
		dayFlag := fs.String("day", "", "Day of the week (MON..SUN)")
		typeFlag := fs.String("type", "", "LUNCH or DINNER")
		fs.Parse(args)
		day, mealType, err := parseSlot(*dayFlag, *typeFlag)
		if err != nil {
			return err
		}
		if err := a.ClearSlot(ctx, *planID, day, mealType); err != nil {
			return err
		}
		fmt.Printf("Cleared %s %s.\n", day, mealType)

	case "clear-week":
		fs := flag.NewFlagSet("clear-week", flag.ExitOnError)
		planID := fs.Int64("plan", 0, "Weekly plan number")
		fs.Parse(args)
		n, err := a.ClearWeek(ctx, *planID)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d meals.\n", n)

	case "share", "unshare":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		fs := flag.NewFlagSet(command, flag.ExitOnError)
		planID := fs.Int64("plan", 0, "Weekly plan number")
		familyID := fs.Int64("family", 0, "Family number")
		fs.Parse(args)
		if command == "unshare" {
			if err := a.UnsharePlan(ctx, *planID, *familyID); err != nil {
				return err
			}
			fmt.Println("Plan is no longer shared.")
			break
		}
		if err := a.SharePlan(ctx, *planID, *familyID); err != nil {
			return err
		}
		fmt.Println("Plan shared. Run sync to send it to the family.")

	case "shopping-list":
		fs := flag.NewFlagSet("shopping-list", flag.ExitOnError)
		planID := fs.Int64("plan", 0, "Weekly plan number")
		fs.Parse(args)
		if *planID <= 0 {
			return fmt.Errorf("-plan is required")
		}
		items, err := a.ShoppingList(ctx, *planID)
		if err != nil {
			return err
		}
		printShoppingList(items)

	case "import":
		if err := cfg.RequireImporter(); err != nil {
			return err
		}
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		url := fs.String("url", "", "Page to import the recipe from")
		text := fs.String("text", "", "Recipe text")
		fs.Parse(args)

		rec, err := importRecipe(ctx, a, *url, *text)
		if err != nil {
			return err
		}
		fmt.Printf("Saved recipe %q (%d servings).\n", rec.Name, rec.Servings)

	case "migrate":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		clearLocal := fs.Bool("clear", false, "Delete local recipes when every recipe was uploaded")
		fs.Parse(args)
		result, err := a.Migrate(ctx, *clearLocal)
		if err != nil {
			return err
		}
		fmt.Printf("Migration complete. %d recipes uploaded, %d failed.\n", result.Succeeded, result.Failed)

	case "metrics-cleanup":
		fs := flag.NewFlagSet("metrics-cleanup", flag.ExitOnError)
		days := fs.Int("days", cfg.Sync.MetricsRetentionDays, "Keep records for the last N days")
		fs.Parse(args)
		affected, err := a.CleanupMetrics(ctx, *days)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully removed %d old sync records.\n", affected)

	case "family":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		fs := flag.NewFlagSet("family", flag.ExitOnError)
		name := fs.String("name", "", "Family name")
		fs.Parse(args)
		fam, err := a.CreateFamily(ctx, *name)
		if err != nil {
			return err
		}
		fmt.Printf("Created family %q with number %d.\n", fam.Name, fam.FamilyID)

	case "invite":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		fs := flag.NewFlagSet("invite", flag.ExitOnError)
		familyID := fs.Int64("family", 0, "Family number")
		fs.Parse(args)
		code, err := a.Invite(ctx, *familyID)
		if err != nil {
			return err
		}
		fmt.Printf("Invite code: %s\n", code)

	case "join":
		if err := cfg.RequireCloud(); err != nil {
			return err
		}
		fs := flag.NewFlagSet("join", flag.ExitOnError)
		code := fs.String("code", "", "Invite code")
		fs.Parse(args)
		fam, err := a.Join(ctx, *code)
		if err != nil {
			return err
		}
		fmt.Printf("Joined family %q.\n", fam.Name)

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
	return nil
}

func importRecipe(ctx context.Context, a *app.App, url, text string) (*recipe.Recipe, error) {
	switch {
	case url != "":
		return a.ImportURL(ctx, url)
	case text != "":
		return a.ImportText(ctx, text)
	default:
		return nil, fmt.Errorf("one of -url or -text is required")
	}
}

func parseSlot(day, mealType string) (planner.DayOfWeek, planner.MealType, error) {
	d, err := planner.ParseDay(day)
	if err != nil {
		return "", "", err
	}
	mt, err := planner.ParseMealType(mealType)
	if err != nil {
		return "", "", err
	}
	return d, mt, nil
}

func printShoppingList(items []shopping.Item) {
	if len(items) == 0 {
		fmt.Println("Nothing to buy.")
		return
	}
	fmt.Println("=== SHOPPING LIST ===")
	current := ""
	for _, item := range items {
		if name := item.Category.DisplayName(); name != current {
			fmt.Printf("\n%s\n", name)
			current = name
		}
		fmt.Printf("- %s\n", item.Display())
	}
}

func printUsage() {
	fmt.Println("Usage: meal-planner [-config file] <command> [arguments]")
	fmt.Println("\nCommands:")
	fmt.Println("  sync               Sync recipes, plans and family plans with the cloud")
	fmt.Println("  plans              List weekly plans")
	fmt.Println("  plan               Create a weekly plan (-name N [-start YYYY-MM-DD] [-commensals N])")
	fmt.Println("  meal               Add a recipe to a slot (-plan N -recipe R -day D -type T [-commensals N])")
	fmt.Println("  clear-slot         Remove the meals of a slot (-plan N -day D -type T)")
	fmt.Println("  clear-week         Remove every meal of a plan (-plan N)")
	fmt.Println("  share              Share a plan with a family (-plan N -family F)")
	fmt.Println("  unshare            Stop sharing a plan with a family (-plan N -family F)")
	fmt.Println("  shopping-list      Print the shopping list of a plan (-plan N)")
	fmt.Println("  import             Save a recipe from a page or text (-url U | -text T)")
	fmt.Println("  migrate            Upload local recipes to your cloud space (-clear)")
	fmt.Println("  metrics-cleanup    Remove old sync records (-days N)")
	fmt.Println("  family             Create a family (-name N)")
	fmt.Println("  invite             Create an invite code (-family N)")
	fmt.Println("  join               Join a family with an invite code (-code C)")
}
