package recipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository is a database-backed repository for recipes and ingredients.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new Repository.
func NewRepository(d *database.DB) *Repository {
	return &Repository{db: d}
}

const recipeColumns = `recipe_id, uuid, name, instructions, servings`

// InsertRecipe stores a recipe without ingredients and returns its id.
// A UUID is assigned when the recipe has none.
func (r *Repository) InsertRecipe(ctx context.Context, rec Recipe) (int64, error) {
	rec.Name = strings.TrimSpace(rec.Name)
	if err := shared.Validate(rec); err != nil {
		return 0, err
	}
	id, err := insertRecipe(ctx, r.db.SQL, &rec)
	if err != nil {
		return 0, err
	}
	r.db.Notify(database.TableRecipes)
	return id, nil
}

func insertRecipe(ctx context.Context, q sqlx.ExtContext, rec *Recipe) (int64, error) {
	if rec.UUID == "" {
		rec.UUID = uuid.NewString()
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO recipes (uuid, name, instructions, servings) VALUES (?, ?, ?, ?)`,
		rec.UUID, rec.Name, rec.Instructions, rec.Servings)
	if err != nil {
		return 0, fmt.Errorf("failed to insert recipe: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read recipe id: %w", err)
	}
	rec.RecipeID = id
	return id, nil
}

// UpdateRecipe updates name, instructions and servings of an existing recipe.
func (r *Repository) UpdateRecipe(ctx context.Context, rec Recipe) error {
	rec.Name = strings.TrimSpace(rec.Name)
	if err := shared.Validate(rec); err != nil {
		return err
	}
	_, err := r.db.SQL.ExecContext(ctx,
		`UPDATE recipes SET name = ?, instructions = ?, servings = ? WHERE recipe_id = ?`,
		rec.Name, rec.Instructions, rec.Servings, rec.RecipeID)
	if err != nil {
		return fmt.Errorf("failed to update recipe: %w", err)
	}
	r.db.Notify(database.TableRecipes)
	return nil
}

// DeleteRecipe removes a recipe. Its ingredient rows and every meal that
// uses it are removed with it.
func (r *Repository) DeleteRecipe(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM recipes WHERE recipe_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}
	r.db.Notify(database.TableRecipes, database.TableMealPlans)
	return nil
}

// DeleteAllRecipes removes every local recipe and returns how many were removed.
func (r *Repository) DeleteAllRecipes(ctx context.Context) (int64, error) {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM recipes`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete recipes: %w", err)
	}
	n, _ := res.RowsAffected()
	r.db.Notify(database.TableRecipes, database.TableMealPlans)
	return n, nil
}

// Recipe retrieves a recipe by its ID.
func (r *Repository) Recipe(ctx context.Context, id int64) (*Recipe, error) {
	return r.getRecipe(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE recipe_id = ?`, id)
}

// RecipeByUUID retrieves a recipe by its stable identifier.
func (r *Repository) RecipeByUUID(ctx context.Context, id string) (*Recipe, error) {
	return r.getRecipe(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE uuid = ?`, id)
}

// RecipeByName retrieves the oldest recipe with exactly this name.
func (r *Repository) RecipeByName(ctx context.Context, name string) (*Recipe, error) {
	return r.getRecipe(ctx, `SELECT `+recipeColumns+` FROM recipes WHERE name = ? ORDER BY recipe_id LIMIT 1`, name)
}

func (r *Repository) getRecipe(ctx context.Context, query string, arg any) (*Recipe, error) {
	var rec Recipe
	if err := r.db.SQL.GetContext(ctx, &rec, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Recipe not found
		}
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	return &rec, nil
}

// ListRecipes returns all recipes ordered by name.
func (r *Repository) ListRecipes(ctx context.Context) ([]Recipe, error) {
	var recipes []Recipe
	if err := r.db.SQL.SelectContext(ctx, &recipes, `SELECT `+recipeColumns+` FROM recipes ORDER BY name, recipe_id`); err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, nil
}

// Count returns the number of recipes in the database.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.SQL.GetContext(ctx, &n, `SELECT COUNT(*) FROM recipes`); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return n, nil
}

const ingredientColumns = `ingredient_id, name, default_unit, category`

// InsertIngredient stores an ingredient. A missing category is suggested
// from the name and a missing unit defaults to grams.
func (r *Repository) InsertIngredient(ctx context.Context, ing Ingredient) (int64, error) {
	ing.Name = strings.TrimSpace(ing.Name)
	if err := shared.Validate(ing); err != nil {
		return 0, err
	}
	id, err := insertIngredient(ctx, r.db.SQL, ing)
	if err != nil {
		return 0, err
	}
	r.db.Notify(database.TableIngredients)
	return id, nil
}

func insertIngredient(ctx context.Context, q sqlx.ExtContext, ing Ingredient) (int64, error) {
	if ing.DefaultUnit == "" {
		ing.DefaultUnit = units.Gram
	}
	if ing.Category == "" {
		ing.Category = units.SuggestCategory(ing.Name)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO ingredients (name, default_unit, category) VALUES (?, ?, ?)`,
		ing.Name, ing.DefaultUnit, ing.Category)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ingredient: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) UpdateIngredient(ctx context.Context, ing Ingredient) error {
	ing.Name = strings.TrimSpace(ing.Name)
	if err := shared.Validate(ing); err != nil {
		return err
	}
	_, err := r.db.SQL.ExecContext(ctx,
		`UPDATE ingredients SET name = ?, default_unit = ?, category = ? WHERE ingredient_id = ?`,
		ing.Name, ing.DefaultUnit, ing.Category, ing.IngredientID)
	if err != nil {
		return fmt.Errorf("failed to update ingredient: %w", err)
	}
	r.db.Notify(database.TableIngredients)
	return nil
}

// DeleteIngredient removes an ingredient along with its packages and every
// recipe association.
func (r *Repository) DeleteIngredient(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM ingredients WHERE ingredient_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete ingredient: %w", err)
	}
	r.db.Notify(database.TableIngredients, database.TableRecipes)
	return nil
}

func (r *Repository) Ingredient(ctx context.Context, id int64) (*Ingredient, error) {
	var ing Ingredient
	err := r.db.SQL.GetContext(ctx, &ing, `SELECT `+ingredientColumns+` FROM ingredients WHERE ingredient_id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingredient: %w", err)
	}
	return &ing, nil
}

// IngredientByName finds an ingredient by exact name.
func (r *Repository) IngredientByName(ctx context.Context, name string) (*Ingredient, error) {
	return ingredientByName(ctx, r.db.SQL, name)
}

func ingredientByName(ctx context.Context, q sqlx.QueryerContext, name string) (*Ingredient, error) {
	var ing Ingredient
	err := sqlx.GetContext(ctx, q, &ing,
		`SELECT `+ingredientColumns+` FROM ingredients WHERE name = ? ORDER BY ingredient_id LIMIT 1`, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get ingredient by name: %w", err)
	}
	return &ing, nil
}

func (r *Repository) ListIngredients(ctx context.Context) ([]Ingredient, error) {
	var out []Ingredient
	if err := r.db.SQL.SelectContext(ctx, &out, `SELECT `+ingredientColumns+` FROM ingredients ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return out, nil
}

// SearchIngredients matches names containing query, case-insensitively.
func (r *Repository) SearchIngredients(ctx context.Context, query string) ([]Ingredient, error) {
	var out []Ingredient
	err := r.db.SQL.SelectContext(ctx, &out,
		`SELECT `+ingredientColumns+` FROM ingredients WHERE name LIKE ? ORDER BY name`,
		"%"+strings.TrimSpace(query)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to search ingredients: %w", err)
	}
	return out, nil
}

func (r *Repository) IngredientsByCategory(ctx context.Context, c units.Category) ([]Ingredient, error) {
	var out []Ingredient
	err := r.db.SQL.SelectContext(ctx, &out,
		`SELECT `+ingredientColumns+` FROM ingredients WHERE category = ? ORDER BY name`, c)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients by category: %w", err)
	}
	return out, nil
}

func (r *Repository) InsertPackage(ctx context.Context, p IngredientPackage) (int64, error) {
	if err := shared.Validate(p); err != nil {
		return 0, err
	}
	if !p.PackageType.Valid() {
		p.PackageType = units.PackageOther
	}
	res, err := r.db.SQL.ExecContext(ctx,
		`INSERT INTO ingredient_packages (ingredient_id, package_type, size, unit) VALUES (?, ?, ?, ?)`,
		p.IngredientID, p.PackageType, p.Size, p.Unit)
	if err != nil {
		return 0, fmt.Errorf("failed to insert package: %w", err)
	}
	r.db.Notify(database.TableIngredients)
	return res.LastInsertId()
}

func (r *Repository) UpdatePackage(ctx context.Context, p IngredientPackage) error {
	if err := shared.Validate(p); err != nil {
		return err
	}
	_, err := r.db.SQL.ExecContext(ctx,
		`UPDATE ingredient_packages SET package_type = ?, size = ?, unit = ? WHERE package_id = ?`,
		p.PackageType, p.Size, p.Unit, p.PackageID)
	if err != nil {
		return fmt.Errorf("failed to update package: %w", err)
	}
	r.db.Notify(database.TableIngredients)
	return nil
}

func (r *Repository) DeletePackage(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM ingredient_packages WHERE package_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete package: %w", err)
	}
	r.db.Notify(database.TableIngredients)
	return nil
}

func (r *Repository) PackagesForIngredient(ctx context.Context, ingredientID int64) ([]IngredientPackage, error) {
	var out []IngredientPackage
	err := r.db.SQL.SelectContext(ctx, &out,
		`SELECT package_id, ingredient_id, package_type, size, unit FROM ingredient_packages
		 WHERE ingredient_id = ? ORDER BY package_id`, ingredientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	return out, nil
}

// IngredientsWithPackages lists all ingredients with their package definitions.
func (r *Repository) IngredientsWithPackages(ctx context.Context) ([]IngredientWithPackages, error) {
	ings, err := r.ListIngredients(ctx)
	if err != nil {
		return nil, err
	}
	var pkgs []IngredientPackage
	err = r.db.SQL.SelectContext(ctx, &pkgs,
		`SELECT package_id, ingredient_id, package_type, size, unit FROM ingredient_packages ORDER BY package_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	byIngredient := make(map[int64][]IngredientPackage)
	for _, p := range pkgs {
		byIngredient[p.IngredientID] = append(byIngredient[p.IngredientID], p)
	}
	out := make([]IngredientWithPackages, 0, len(ings))
	for _, ing := range ings {
		out = append(out, IngredientWithPackages{Ingredient: ing, Packages: byIngredient[ing.IngredientID]})
	}
	return out, nil
}

// SetRecipeIngredient inserts or replaces the quantity of an ingredient in a recipe.
func (r *Repository) SetRecipeIngredient(ctx context.Context, ri RecipeIngredient) error {
	if err := setRecipeIngredient(ctx, r.db.SQL, ri); err != nil {
		return err
	}
	r.db.Notify(database.TableRecipes)
	return nil
}

func setRecipeIngredient(ctx context.Context, q sqlx.ExtContext, ri RecipeIngredient) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO recipe_ingredient_cross_ref (recipe_id, ingredient_id, amount, unit) VALUES (?, ?, ?, ?)`,
		ri.RecipeID, ri.IngredientID, ri.Amount, ri.Unit)
	if err != nil {
		return fmt.Errorf("failed to set recipe ingredient: %w", err)
	}
	return nil
}

func (r *Repository) DeleteRecipeIngredients(ctx context.Context, recipeID int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM recipe_ingredient_cross_ref WHERE recipe_id = ?`, recipeID); err != nil {
		return fmt.Errorf("failed to delete recipe ingredients: %w", err)
	}
	r.db.Notify(database.TableRecipes)
	return nil
}

// RecipeIngredients returns the raw association rows of a recipe.
func (r *Repository) RecipeIngredients(ctx context.Context, recipeID int64) ([]RecipeIngredient, error) {
	var out []RecipeIngredient
	err := r.db.SQL.SelectContext(ctx, &out,
		`SELECT recipe_id, ingredient_id, amount, unit FROM recipe_ingredient_cross_ref WHERE recipe_id = ? ORDER BY ingredient_id`,
		recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe ingredients: %w", err)
	}
	return out, nil
}

// IngredientsForRecipe returns a recipe's ingredient lines joined with
// ingredient name and category.
func (r *Repository) IngredientsForRecipe(ctx context.Context, recipeID int64) ([]IngredientAmount, error) {
	var out []IngredientAmount
	err := r.db.SQL.SelectContext(ctx, &out, `
		SELECT i.ingredient_id, i.name, i.category, x.amount, x.unit
		FROM recipe_ingredient_cross_ref x
		JOIN ingredients i ON i.ingredient_id = x.ingredient_id
		WHERE x.recipe_id = ?
		ORDER BY i.name`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ingredients for recipe: %w", err)
	}
	return out, nil
}

func (r *Repository) RecipeWithIngredients(ctx context.Context, id int64) (*RecipeWithIngredients, error) {
	rec, err := r.Recipe(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	ings, err := r.IngredientsForRecipe(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RecipeWithIngredients{Recipe: *rec, Ingredients: ings}, nil
}

// ListRecipesWithIngredients returns every recipe with its ingredient lines.
func (r *Repository) ListRecipesWithIngredients(ctx context.Context) ([]RecipeWithIngredients, error) {
	recipes, err := r.ListRecipes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RecipeWithIngredients, 0, len(recipes))
	for _, rec := range recipes {
		ings, err := r.IngredientsForRecipe(ctx, rec.RecipeID)
		if err != nil {
			return nil, err
		}
		out = append(out, RecipeWithIngredients{Recipe: rec, Ingredients: ings})
	}
	return out, nil
}

// SaveRecipe creates a recipe with its ingredient lines in one transaction.
// Ingredients are reused by exact name and created when missing; a given
// category overrides the stored one.
func (r *Repository) SaveRecipe(ctx context.Context, in RecipeInput) (*Recipe, error) {
	in.normalize()
	if err := shared.Validate(in); err != nil {
		return nil, err
	}

	tx, err := r.db.SQL.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec := Recipe{UUID: in.UUID, Name: in.Name, Instructions: in.Instructions, Servings: in.Servings}
	if _, err := insertRecipe(ctx, tx, &rec); err != nil {
		return nil, err
	}

	for _, line := range in.Ingredients {
		ingredientID, err := findOrCreateIngredient(ctx, tx, line)
		if err != nil {
			return nil, err
		}
		ri := RecipeIngredient{RecipeID: rec.RecipeID, IngredientID: ingredientID, Amount: line.Amount, Unit: line.Unit}
		if err := setRecipeIngredient(ctx, tx, ri); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit recipe: %w", err)
	}
	r.db.Notify(database.TableRecipes, database.TableIngredients)
	return &rec, nil
}

func findOrCreateIngredient(ctx context.Context, tx *sqlx.Tx, line IngredientInput) (int64, error) {
	existing, err := ingredientByName(ctx, tx, line.Name)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return insertIngredient(ctx, tx, Ingredient{Name: line.Name, DefaultUnit: line.Unit, Category: line.Category})
	}
	if line.Category != "" && line.Category != existing.Category {
		if _, err := tx.ExecContext(ctx, `UPDATE ingredients SET category = ? WHERE ingredient_id = ?`,
			line.Category, existing.IngredientID); err != nil {
			return 0, fmt.Errorf("failed to update ingredient category: %w", err)
		}
	}
	return existing.IngredientID, nil
}
