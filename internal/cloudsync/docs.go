package cloudsync

import (
	"fmt"

	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/recipe"
	"family-meal-planner/internal/units"
)

// RecipeDoc is the cloud shape of a recipe, stored at
// users/{uid}/recipes/{uuid}.
type RecipeDoc struct {
	RecipeID     *int64          `json:"recipeId"`
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	Instructions string          `json:"instructions"`
	Servings     int             `json:"servings"`
	Ingredients  []IngredientDoc `json:"ingredients"`
	MigratedAt   int64           `json:"migratedAt,omitempty"`
}

type IngredientDoc struct {
	Name     string  `json:"name"`
	Amount   float64 `json:"amount"`
	Unit     string  `json:"unit"`
	Category string  `json:"category,omitempty"`
}

// WeeklyPlanDoc is the cloud shape of a plan. The same payload is written to
// the owner's collection and to every family the plan is shared with.
type WeeklyPlanDoc struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	StartDate   int64     `json:"startDate"`
	Commensals  int       `json:"commensals"`
	CreatedDate int64     `json:"createdDate"`
	UserID      string    `json:"userId"`
	FamilyIDs   []int64   `json:"familyIds"`
	Meals       []MealDoc `json:"meals"`
}

// MealDoc references its recipe by uuid and by name so other devices can
// resolve it to their own local id.
type MealDoc struct {
	RecipeID   int64  `json:"recipeId"`
	RecipeUUID string `json:"recipeUuid,omitempty"`
	RecipeName string `json:"recipeName"`
	DayOfWeek  string `json:"dayOfWeek"`
	MealType   string `json:"mealType"`
	Servings   int    `json:"servings"`
	Commensals int    `json:"commensals"`
}

func recipeDocFor(r recipe.Recipe, ingredients []recipe.IngredientAmount) RecipeDoc {
	id := r.RecipeID
	doc := RecipeDoc{
		RecipeID:     &id,
		UUID:         r.UUID,
		Name:         r.Name,
		Instructions: r.Instructions,
		Servings:     r.Servings,
		Ingredients:  make([]IngredientDoc, 0, len(ingredients)),
	}
	for _, ing := range ingredients {
		doc.Ingredients = append(doc.Ingredients, IngredientDoc{
			Name:     ing.Name,
			Amount:   ing.Amount,
			Unit:     string(ing.Unit),
			Category: string(ing.Category),
		})
	}
	return doc
}

// input converts a downloaded recipe into a local one. Missing servings
// become 1 and unknown units become grams.
func (d RecipeDoc) input() recipe.RecipeInput {
	in := recipe.RecipeInput{
		UUID:         d.UUID,
		Name:         d.Name,
		Instructions: d.Instructions,
		Servings:     d.Servings,
	}
	if in.Servings <= 0 {
		in.Servings = 1
	}
	for _, ing := range d.Ingredients {
		if ing.Name == "" {
			continue
		}
		line := recipe.IngredientInput{
			Name:   ing.Name,
			Amount: ing.Amount,
			Unit:   units.ParseUnitOr(ing.Unit, units.Gram),
		}
		if ing.Category != "" {
			line.Category = units.ParseCategoryOr(ing.Category, units.Other)
		}
		if line.Amount < 0 {
			line.Amount = 0
		}
		in.Ingredients = append(in.Ingredients, line)
	}
	return in
}

func weeklyPlanDocFor(p planner.WeeklyPlan, familyIDs []int64, meals []planner.MealPlanWithRecipe) WeeklyPlanDoc {
	doc := WeeklyPlanDoc{
		UUID:        p.UUID,
		Name:        p.Name,
		StartDate:   p.StartDate,
		Commensals:  p.Commensals,
		CreatedDate: p.CreatedDate,
		UserID:      p.UserID,
		FamilyIDs:   make([]int64, 0, len(familyIDs)),
		Meals:       make([]MealDoc, 0, len(meals)),
	}
	doc.FamilyIDs = append(doc.FamilyIDs, familyIDs...)
	for _, m := range meals {
		doc.Meals = append(doc.Meals, MealDoc{
			RecipeID:   m.RecipeID,
			RecipeUUID: m.RecipeUUID,
			RecipeName: m.RecipeName,
			DayOfWeek:  string(m.DayOfWeek),
			MealType:   string(m.MealType),
			Servings:   m.Servings,
			Commensals: m.Commensals,
		})
	}
	return doc
}

// plan converts a downloaded plan into a local one, filling the defaults of
// older documents.
func (d WeeklyPlanDoc) plan(uid string, now int64) planner.WeeklyPlan {
	p := planner.WeeklyPlan{
		UUID:        d.UUID,
		Name:        d.Name,
		StartDate:   d.StartDate,
		Commensals:  d.Commensals,
		CreatedDate: d.CreatedDate,
		UserID:      d.UserID,
	}
	if p.Commensals <= 0 {
		p.Commensals = planner.DefaultCommensals
	}
	if p.CreatedDate == 0 {
		p.CreatedDate = now
	}
	if p.UserID == "" {
		p.UserID = uid
	}
	return p
}

func (m MealDoc) slot() (planner.DayOfWeek, planner.MealType, error) {
	if m.RecipeName == "" && m.RecipeUUID == "" {
		return "", "", fmt.Errorf("meal without recipe reference")
	}
	day, err := planner.ParseDay(m.DayOfWeek)
	if err != nil {
		return "", "", err
	}
	mealType, err := planner.ParseMealType(m.MealType)
	if err != nil {
		return "", "", err
	}
	return day, mealType, nil
}
