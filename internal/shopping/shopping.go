// Package shopping builds the shopping list of a weekly plan.
package shopping

import (
	"context"
	"fmt"
	"sort"

	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/units"

	"go.uber.org/zap"
)

// Item is one aggregated line of a shopping list.
type Item struct {
	Name     string
	Unit     units.MeasurementUnit
	Amount   float64
	Category units.Category
	Checked  bool
}

// Key identifies an item by ingredient name and unit.
func (i Item) Key() string {
	return ItemKey(i.Name, i.Unit)
}

func ItemKey(name string, unit units.MeasurementUnit) string {
	return name + "_" + string(unit)
}

// Display renders the amount with its unit.
func (i Item) Display() string {
	return fmt.Sprintf("%s %s", units.DisplayString(i.Amount, i.Unit), i.Name)
}

// MealSource provides the meals of a weekly plan.
type MealSource interface {
	MealPlansForWeek(ctx context.Context, weeklyPlanID int64) ([]planner.MealPlanWithRecipe, error)
}

// IngredientSource provides recipe ingredient lines and ingredient details.
type IngredientSource interface {
	RecipeIngredients(ctx context.Context, recipeID int64) ([]recipe.RecipeIngredient, error)
	Ingredient(ctx context.Context, id int64) (*recipe.Ingredient, error)
}

// Aggregator merges the ingredients of every meal in a week.
type Aggregator struct {
	meals       MealSource
	ingredients IngredientSource
	logger      *zap.Logger
}

func NewAggregator(meals MealSource, ingredients IngredientSource, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{meals: meals, ingredients: ingredients, logger: logger}
}

// Multiplier scales a recipe made for servings to feed commensals.
// Recipes without servings are used as written.
func Multiplier(commensals, servings int) float64 {
	if servings <= 0 {
		return 1.0
	}
	return float64(commensals) / float64(servings)
}

type itemKey struct {
	name string
	unit units.MeasurementUnit
}

// Build returns the unchecked shopping list of a weekly plan. Amounts are
// summed per (ingredient name, unit); the same ingredient in two units gives
// two items. Lines whose ingredient no longer exists are skipped.
func (a *Aggregator) Build(ctx context.Context, weeklyPlanID int64) ([]Item, error) {
	meals, err := a.meals.MealPlansForWeek(ctx, weeklyPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load meals for week %d: %w", weeklyPlanID, err)
	}

	totals := make(map[itemKey]*Item)
	for _, meal := range meals {
		multiplier := Multiplier(meal.Commensals, meal.RecipeServings)

		lines, err := a.ingredients.RecipeIngredients(ctx, meal.RecipeID)
		if err != nil {
			return nil, fmt.Errorf("failed to load ingredients for recipe %d: %w", meal.RecipeID, err)
		}
		for _, line := range lines {
			ing, err := a.ingredients.Ingredient(ctx, line.IngredientID)
			if err != nil {
				return nil, fmt.Errorf("failed to load ingredient %d: %w", line.IngredientID, err)
			}
			if ing == nil {
				a.logger.Debug("skipping missing ingredient",
					zap.Int64("recipe_id", meal.RecipeID),
					zap.Int64("ingredient_id", line.IngredientID))
				continue
			}
			k := itemKey{name: ing.Name, unit: line.Unit}
			item, ok := totals[k]
			if !ok {
				item = &Item{Name: ing.Name, Unit: line.Unit, Category: ing.Category}
				totals[k] = item
			}
			item.Amount += line.Amount * multiplier
		}
	}

	items := make([]Item, 0, len(totals))
	for _, item := range totals {
		items = append(items, *item)
	}
	Sort(items)
	return items, nil
}

// Sort orders unchecked items first, then by category, then by name.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Checked != b.Checked {
			return !a.Checked
		}
		if ra, rb := a.Category.Rank(), b.Category.Rank(); ra != rb {
			return ra < rb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Unit < b.Unit
	})
}
