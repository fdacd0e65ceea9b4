package recipe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"
	"family-meal-planner/internal/units"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (*Repository, *database.DB) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "recipes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db), db
}

func TestSaveRecipeReusesIngredients(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	first, err := repo.SaveRecipe(ctx, RecipeInput{
		Name:     "  Tomato Soup ",
		Servings: 4,
		Ingredients: []IngredientInput{
			{Name: "Tomato", Amount: 400, Unit: units.Gram},
			{Name: "Olive oil", Amount: 2, Unit: units.Tablespoon},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tomato Soup", first.Name)
	assert.NotEmpty(t, first.UUID)

	_, err = repo.SaveRecipe(ctx, RecipeInput{
		Name:     "Salad",
		Servings: 2,
		Ingredients: []IngredientInput{
			{Name: "Tomato", Amount: 2, Unit: units.Piece, Category: units.Fruits},
		},
	})
	require.NoError(t, err)

	ings, err := repo.ListIngredients(ctx)
	require.NoError(t, err)
	require.Len(t, ings, 2)

	tomato, err := repo.IngredientByName(ctx, "Tomato")
	require.NoError(t, err)
	require.NotNil(t, tomato)
	assert.Equal(t, units.Fruits, tomato.Category, "explicit category overrides the stored one")

	oil, err := repo.IngredientByName(ctx, "Olive oil")
	require.NoError(t, err)
	assert.Equal(t, units.Pantry, oil.Category, "category suggested from name")

	lines, err := repo.IngredientsForRecipe(ctx, first.RecipeID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Olive oil", lines[0].Name)
	assert.Equal(t, units.Tablespoon, lines[0].Unit)
	assert.Equal(t, 400.0, lines[1].Amount)
}

func TestSaveRecipeValidation(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	_, err := repo.SaveRecipe(ctx, RecipeInput{Name: "   ", Servings: 1})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = repo.SaveRecipe(ctx, RecipeInput{Name: "Soup", Servings: 0})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = repo.SaveRecipe(ctx, RecipeInput{Name: "Soup", Servings: 1, Ingredients: []IngredientInput{{Name: "", Amount: 1, Unit: units.Gram}}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecipeLookups(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	id, err := repo.InsertRecipe(ctx, Recipe{UUID: "fixed-uuid", Name: "Paella", Servings: 4})
	require.NoError(t, err)

	byUUID, err := repo.RecipeByUUID(ctx, "fixed-uuid")
	require.NoError(t, err)
	require.NotNil(t, byUUID)
	assert.Equal(t, id, byUUID.RecipeID)

	byName, err := repo.RecipeByName(ctx, "Paella")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, id, byName.RecipeID)

	missing, err := repo.Recipe(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byName.Servings = 6
	require.NoError(t, repo.UpdateRecipe(ctx, *byName))
	got, err := repo.Recipe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Servings)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)

	rec, err := repo.SaveRecipe(ctx, RecipeInput{
		Name:        "Rice",
		Servings:    2,
		Ingredients: []IngredientInput{{Name: "Rice", Amount: 200, Unit: units.Gram}},
	})
	require.NoError(t, err)
	rice, err := repo.IngredientByName(ctx, "Rice")
	require.NoError(t, err)
	_, err = repo.InsertPackage(ctx, IngredientPackage{IngredientID: rice.IngredientID, PackageType: units.PackageBag, Size: 1, Unit: units.Kilogram})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteRecipe(ctx, rec.RecipeID))
	var refs int
	require.NoError(t, db.SQL.Get(&refs, `SELECT COUNT(*) FROM recipe_ingredient_cross_ref`))
	assert.Zero(t, refs)

	// ingredients outlive recipes
	still, err := repo.Ingredient(ctx, rice.IngredientID)
	require.NoError(t, err)
	require.NotNil(t, still)

	require.NoError(t, repo.DeleteIngredient(ctx, rice.IngredientID))
	pkgs, err := repo.PackagesForIngredient(ctx, rice.IngredientID)
	require.NoError(t, err)
	assert.Empty(t, pkgs)
}

func TestIngredientsWithPackagesAndSearch(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	milkID, err := repo.InsertIngredient(ctx, Ingredient{Name: "Milk", DefaultUnit: units.Milliliter})
	require.NoError(t, err)
	_, err = repo.InsertIngredient(ctx, Ingredient{Name: "Almond milk", DefaultUnit: units.Milliliter})
	require.NoError(t, err)
	_, err = repo.InsertPackage(ctx, IngredientPackage{IngredientID: milkID, PackageType: units.PackageCarton, Size: 1, Unit: units.Liter})
	require.NoError(t, err)

	found, err := repo.SearchIngredients(ctx, "milk")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	dairy, err := repo.IngredientsByCategory(ctx, units.Dairy)
	require.NoError(t, err)
	assert.Len(t, dairy, 2)

	withPkgs, err := repo.IngredientsWithPackages(ctx)
	require.NoError(t, err)
	require.Len(t, withPkgs, 2)
	assert.Empty(t, withPkgs[0].Packages)
	assert.Len(t, withPkgs[1].Packages, 1)
}

func TestMutationsPublishChanges(t *testing.T) {
	ctx := context.Background()
	repo, db := newTestRepository(t)
	changes, cancel := db.Changes.Subscribe(8)
	defer cancel()

	_, err := repo.InsertRecipe(ctx, Recipe{Name: "Toast", Servings: 1})
	require.NoError(t, err)

	c := <-changes
	assert.Equal(t, database.TableRecipes, c.Table)
}

func TestFindPotentialDuplicates(t *testing.T) {
	ings := []Ingredient{
		{IngredientID: 1, Name: "Tomato"},
		{IngredientID: 2, Name: "tomatoes"},
		{IngredientID: 3, Name: "Onion"},
		{IngredientID: 4, Name: "Red onion"},
		{IngredientID: 5, Name: "Rice"},
	}
	pairs := FindPotentialDuplicates(ings)
	require.Len(t, pairs, 2)
	assert.Equal(t, int64(1), pairs[0].First.IngredientID)
	assert.Equal(t, int64(2), pairs[0].Second.IngredientID)
	assert.Equal(t, int64(3), pairs[1].First.IngredientID)
	assert.Equal(t, int64(4), pairs[1].Second.IngredientID)
}
