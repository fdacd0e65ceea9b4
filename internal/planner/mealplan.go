package planner

import (
	"fmt"
	"strings"
	"time"
)

// DayOfWeek is the day a meal is scheduled on.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var AllDays = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Index is the position of d in the week, Monday first. Unknown days return -1.
func (d DayOfWeek) Index() int {
	for i, v := range AllDays {
		if v == d {
			return i
		}
	}
	return -1
}

func ParseDay(s string) (DayOfWeek, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	for _, d := range AllDays {
		if string(d) == v || (len(v) >= 3 && strings.HasPrefix(string(d), v)) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown day of week %q", s)
}

// MealType is the slot within a day.
type MealType string

const (
	Lunch  MealType = "LUNCH"
	Dinner MealType = "DINNER"
)

func ParseMealType(s string) (MealType, error) {
	switch MealType(strings.ToUpper(strings.TrimSpace(s))) {
	case Lunch:
		return Lunch, nil
	case Dinner:
		return Dinner, nil
	}
	return "", fmt.Errorf("unknown meal type %q", s)
}

// DefaultCommensals is the party size of a new plan.
const DefaultCommensals = 2

// WeeklyPlan is one user's plan for a week. Dates are epoch milliseconds.
type WeeklyPlan struct {
	WeeklyPlanID int64  `db:"weekly_plan_id" json:"weekly_plan_id"`
	UUID         string `db:"uuid" json:"uuid"`
	Name         string `db:"name" json:"name" validate:"name"`
	StartDate    int64  `db:"start_date" json:"start_date"`
	Commensals   int    `db:"commensals" json:"commensals" validate:"gte=1"`
	UserID       string `db:"user_id" json:"user_id"`
	CreatedDate  int64  `db:"created_date" json:"created_date"`
}

func (p WeeklyPlan) Start() time.Time {
	return time.UnixMilli(p.StartDate).UTC()
}

// MealPlan places a recipe in a (day, meal type) slot. A slot may hold
// several meals.
type MealPlan struct {
	MealPlanID   int64     `db:"meal_plan_id" json:"meal_plan_id"`
	WeeklyPlanID int64     `db:"weekly_plan_id" json:"weekly_plan_id"`
	RecipeID     int64     `db:"recipe_id" json:"recipe_id"`
	DayOfWeek    DayOfWeek `db:"day_of_week" json:"day_of_week"`
	MealType     MealType  `db:"meal_type" json:"meal_type"`
	// Servings is stored and synced but the shopping list scales by
	// Commensals against the recipe's servings.
	Servings   int `db:"servings" json:"servings"`
	Commensals int `db:"commensals" json:"commensals"`
}

// MealPlanWithRecipe is a meal joined with the recipe it references.
type MealPlanWithRecipe struct {
	MealPlan
	RecipeUUID     string `db:"recipe_uuid"`
	RecipeName     string `db:"recipe_name"`
	RecipeServings int    `db:"recipe_servings"`
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextMonday returns the start of the week after the one containing t.
func NextMonday(t time.Time) time.Time {
	return WeekStart(t).AddDate(0, 0, 7)
}
