package recipe

import (
	"strings"

	"family-meal-planner/internal/units"
)

// Recipe is a dish with base servings. Ingredients are attached through
// RecipeIngredient rows.
type Recipe struct {
	RecipeID     int64  `db:"recipe_id" json:"recipe_id"`
	UUID         string `db:"uuid" json:"uuid"`
	Name         string `db:"name" json:"name" validate:"name"`
	Instructions string `db:"instructions" json:"instructions"`
	Servings     int    `db:"servings" json:"servings" validate:"gte=1"`
}

// Ingredient is shared between recipes and matched by exact name.
type Ingredient struct {
	IngredientID int64                 `db:"ingredient_id" json:"ingredient_id"`
	Name         string                `db:"name" json:"name" validate:"name"`
	DefaultUnit  units.MeasurementUnit `db:"default_unit" json:"default_unit"`
	Category     units.Category        `db:"category" json:"category"`
}

// IngredientPackage describes how an ingredient is sold.
type IngredientPackage struct {
	PackageID    int64                 `db:"package_id" json:"package_id"`
	IngredientID int64                 `db:"ingredient_id" json:"ingredient_id"`
	PackageType  units.PackageType     `db:"package_type" json:"package_type"`
	Size         float64               `db:"size" json:"size" validate:"gt=0"`
	Unit         units.MeasurementUnit `db:"unit" json:"unit" validate:"required"`
}

// RecipeIngredient is the quantity of one ingredient in one recipe.
type RecipeIngredient struct {
	RecipeID     int64                 `db:"recipe_id"`
	IngredientID int64                 `db:"ingredient_id"`
	Amount       float64               `db:"amount"`
	Unit         units.MeasurementUnit `db:"unit"`
}

// IngredientAmount is a RecipeIngredient joined with its ingredient.
type IngredientAmount struct {
	IngredientID int64                 `db:"ingredient_id"`
	Name         string                `db:"name"`
	Category     units.Category        `db:"category"`
	Amount       float64               `db:"amount"`
	Unit         units.MeasurementUnit `db:"unit"`
}

type RecipeWithIngredients struct {
	Recipe
	Ingredients []IngredientAmount
}

type IngredientWithPackages struct {
	Ingredient
	Packages []IngredientPackage
}

// RecipeInput is a recipe with its ingredient lines, as produced by an
// importer or a remote copy.
type RecipeInput struct {
	Name         string            `validate:"name"`
	Servings     int               `validate:"gte=1"`
	Ingredients  []IngredientInput `validate:"dive"`
	Instructions string
	UUID         string
}

type IngredientInput struct {
	Name     string                `validate:"name"`
	Amount   float64               `validate:"gte=0"`
	Unit     units.MeasurementUnit `validate:"required"`
	Category units.Category
}

func (in *RecipeInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Instructions = strings.TrimSpace(in.Instructions)
	for i := range in.Ingredients {
		in.Ingredients[i].Name = strings.TrimSpace(in.Ingredients[i].Name)
	}
}

// DuplicatePair is two ingredients whose names look like the same thing.
type DuplicatePair struct {
	First  Ingredient
	Second Ingredient
}

// FindPotentialDuplicates pairs up ingredients with similar names: equal
// ignoring case, one containing the other, or equal after dropping a plural
// suffix.
func FindPotentialDuplicates(ingredients []Ingredient) []DuplicatePair {
	var out []DuplicatePair
	for i := 0; i < len(ingredients); i++ {
		for j := i + 1; j < len(ingredients); j++ {
			if similarNames(ingredients[i].Name, ingredients[j].Name) {
				out = append(out, DuplicatePair{First: ingredients[i], Second: ingredients[j]})
			}
		}
	}
	return out
}

func similarNames(a, b string) bool {
	n1 := strings.ToLower(strings.TrimSpace(a))
	n2 := strings.ToLower(strings.TrimSpace(b))
	if n1 == "" || n2 == "" {
		return false
	}
	if n1 == n2 || strings.Contains(n1, n2) || strings.Contains(n2, n1) {
		return true
	}
	for _, s1 := range singularForms(n1) {
		for _, s2 := range singularForms(n2) {
			if s1 == s2 {
				return true
			}
		}
	}
	return false
}

func singularForms(n string) []string {
	forms := []string{n}
	for _, suffix := range []string{"es", "s"} {
		if s := strings.TrimSuffix(n, suffix); s != n && s != "" {
			forms = append(forms, s)
		}
	}
	return forms
}
