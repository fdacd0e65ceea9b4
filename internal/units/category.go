package units

import (
	"fmt"
	"strings"
)

// Category groups ingredients for shopping. It never affects quantities.
type Category string

const (
	Meat       Category = "MEAT"
	Fish       Category = "FISH"
	Dairy      Category = "DAIRY"
	Vegetables Category = "VEGETABLES"
	Fruits     Category = "FRUITS"
	Pantry     Category = "PANTRY"
	Spices     Category = "SPICES"
	Beverages  Category = "BEVERAGES"
	Other      Category = "OTHER"
)

// AllCategories lists every category in declaration order.
var AllCategories = []Category{Meat, Fish, Dairy, Vegetables, Fruits, Pantry, Spices, Beverages, Other}

// Rank is the declaration index of c. Unknown categories sort last.
func (c Category) Rank() int {
	for i, v := range AllCategories {
		if v == c {
			return i
		}
	}
	return len(AllCategories)
}

// DisplayName is the category name as shown in lists, e.g. "Vegetables".
func (c Category) DisplayName() string {
	if c == "" {
		c = Other
	}
	s := string(c)
	return s[:1] + strings.ToLower(s[1:])
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	v := strings.TrimSpace(s)
	for _, c := range AllCategories {
		if strings.EqualFold(v, string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown ingredient category %q", s)
}

// ParseCategoryOr returns fallback when s is not a known category.
func ParseCategoryOr(s string, fallback Category) Category {
	c, err := ParseCategory(s)
	if err != nil {
		return fallback
	}
	return c
}

var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{Meat, []string{"chicken", "beef", "pork", "turkey", "meat", "sausage", "bacon", "ham"}},
	{Fish, []string{"fish", "salmon", "tuna", "cod", "shrimp", "seafood", "prawn"}},
	{Dairy, []string{"milk", "cheese", "butter", "cream", "yogurt", "feta", "mozzarella", "cheddar"}},
	{Vegetables, []string{"tomato", "onion", "pepper", "lettuce", "carrot", "potato", "cucumber", "broccoli",
		"garlic", "mushroom", "celery", "zucchini", "beans", "peas", "spinach"}},
	{Fruits, []string{"apple", "banana", "orange", "lemon", "lime", "berry", "grape", "mango"}},
	{Pantry, []string{"rice", "pasta", "flour", "sugar", "oil", "sauce", "tortilla", "bread", "lentil",
		"broth", "soy", "vinegar"}},
	{Spices, []string{"salt", "pepper", "spice", "oregano", "basil", "cumin", "paprika", "curry", "cinnamon"}},
	{Beverages, []string{"juice", "coffee", "tea", "soda", "water"}},
}

// SuggestCategory guesses a category from keywords in an ingredient name.
// The first matching group wins, so "pepper" is a vegetable.
func SuggestCategory(name string) Category {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return Other
	}
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(n, kw) {
				return group.category
			}
		}
	}
	return Other
}
