package planner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"family-meal-planner/internal/database"
	"family-meal-planner/internal/shared"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PlanRepository is a database-backed repository for weekly plans, their
// meals and their family associations.
type PlanRepository struct {
	db *database.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *database.DB) *PlanRepository {
	return &PlanRepository{db: d}
}

const planColumns = `weekly_plan_id, uuid, name, start_date, commensals, user_id, created_date`

func preparePlan(p *WeeklyPlan) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Commensals == 0 {
		p.Commensals = DefaultCommensals
	}
	if p.UUID == "" {
		p.UUID = uuid.NewString()
	}
	if p.CreatedDate == 0 {
		p.CreatedDate = time.Now().UnixMilli()
	}
	return shared.Validate(*p)
}

// InsertWeeklyPlan stores a plan and returns its id. Zero commensals become
// the default party size.
func (r *PlanRepository) InsertWeeklyPlan(ctx context.Context, p WeeklyPlan) (int64, error) {
	if err := preparePlan(&p); err != nil {
		return 0, err
	}
	id, err := insertPlan(ctx, r.db.SQL, p)
	if err != nil {
		return 0, err
	}
	r.db.Notify(database.TableWeeklyPlans)
	return id, nil
}

func insertPlan(ctx context.Context, q sqlx.ExtContext, p WeeklyPlan) (int64, error) {
	res, err := q.ExecContext(ctx,
		`INSERT INTO weekly_plans (uuid, name, start_date, commensals, user_id, created_date) VALUES (?, ?, ?, ?, ?, ?)`,
		p.UUID, p.Name, p.StartDate, p.Commensals, p.UserID, p.CreatedDate)
	if err != nil {
		return 0, fmt.Errorf("failed to insert weekly plan: %w", err)
	}
	return res.LastInsertId()
}

// SavePlanWithMeals inserts a plan and its meals in one transaction.
func (r *PlanRepository) SavePlanWithMeals(ctx context.Context, p WeeklyPlan, meals []MealPlan) (int64, error) {
	if err := preparePlan(&p); err != nil {
		return 0, err
	}
	tx, err := r.db.SQL.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertPlan(ctx, tx, p)
	if err != nil {
		return 0, err
	}
	for _, m := range meals {
		m.WeeklyPlanID = id
		if m.Commensals <= 0 {
			m.Commensals = p.Commensals
		}
		if _, err := insertMeal(ctx, tx, m); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit weekly plan: %w", err)
	}
	r.db.Notify(database.TableWeeklyPlans, database.TableMealPlans)
	return id, nil
}

func (r *PlanRepository) UpdateWeeklyPlan(ctx context.Context, p WeeklyPlan) error {
	p.Name = strings.TrimSpace(p.Name)
	if err := shared.Validate(p); err != nil {
		return err
	}
	_, err := r.db.SQL.ExecContext(ctx,
		`UPDATE weekly_plans SET name = ?, start_date = ?, commensals = ?, user_id = ? WHERE weekly_plan_id = ?`,
		p.Name, p.StartDate, p.Commensals, p.UserID, p.WeeklyPlanID)
	if err != nil {
		return fmt.Errorf("failed to update weekly plan: %w", err)
	}
	r.db.Notify(database.TableWeeklyPlans)
	return nil
}

// DeleteWeeklyPlan removes a plan with its meals and family associations.
func (r *PlanRepository) DeleteWeeklyPlan(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM weekly_plans WHERE weekly_plan_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete weekly plan: %w", err)
	}
	r.db.Notify(database.TableWeeklyPlans, database.TableMealPlans, database.TablePlanFamilyCrossRef)
	return nil
}

func (r *PlanRepository) WeeklyPlan(ctx context.Context, id int64) (*WeeklyPlan, error) {
	return r.getPlan(ctx, `SELECT `+planColumns+` FROM weekly_plans WHERE weekly_plan_id = ?`, id)
}

func (r *PlanRepository) WeeklyPlanByUUID(ctx context.Context, id string) (*WeeklyPlan, error) {
	return r.getPlan(ctx, `SELECT `+planColumns+` FROM weekly_plans WHERE uuid = ?`, id)
}

// WeeklyPlanByNaturalKey finds the oldest plan with this name and start date.
func (r *PlanRepository) WeeklyPlanByNaturalKey(ctx context.Context, name string, startDate int64) (*WeeklyPlan, error) {
	return r.getPlan(ctx,
		`SELECT `+planColumns+` FROM weekly_plans WHERE name = ? AND start_date = ? ORDER BY weekly_plan_id LIMIT 1`,
		name, startDate)
}

func (r *PlanRepository) getPlan(ctx context.Context, query string, args ...any) (*WeeklyPlan, error) {
	var p WeeklyPlan
	if err := r.db.SQL.GetContext(ctx, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get weekly plan: %w", err)
	}
	return &p, nil
}

// ListWeeklyPlans returns every local plan, newest first.
func (r *PlanRepository) ListWeeklyPlans(ctx context.Context) ([]WeeklyPlan, error) {
	var plans []WeeklyPlan
	err := r.db.SQL.SelectContext(ctx, &plans,
		`SELECT `+planColumns+` FROM weekly_plans ORDER BY created_date DESC, weekly_plan_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly plans: %w", err)
	}
	return plans, nil
}

// WeeklyPlansForUser returns plans the user owns or that are shared with a
// family the user belongs to, newest first.
func (r *PlanRepository) WeeklyPlansForUser(ctx context.Context, userID string) ([]WeeklyPlan, error) {
	var plans []WeeklyPlan
	err := r.db.SQL.SelectContext(ctx, &plans, `
		SELECT DISTINCT w.weekly_plan_id, w.uuid, w.name, w.start_date, w.commensals, w.user_id, w.created_date
		FROM weekly_plans w
		LEFT JOIN weekly_plan_family_cross_ref x ON x.weekly_plan_id = w.weekly_plan_id
		LEFT JOIN family_members m ON m.family_id = x.family_id
		WHERE w.user_id = ? OR m.user_id = ?
		ORDER BY w.created_date DESC, w.weekly_plan_id DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly plans for user %s: %w", userID, err)
	}
	return plans, nil
}

// WeeklyPlansForFamily returns plans shared with a family, newest first.
func (r *PlanRepository) WeeklyPlansForFamily(ctx context.Context, familyID int64) ([]WeeklyPlan, error) {
	var plans []WeeklyPlan
	err := r.db.SQL.SelectContext(ctx, &plans, `
		SELECT w.weekly_plan_id, w.uuid, w.name, w.start_date, w.commensals, w.user_id, w.created_date
		FROM weekly_plans w
		JOIN weekly_plan_family_cross_ref x ON x.weekly_plan_id = w.weekly_plan_id
		WHERE x.family_id = ?
		ORDER BY w.created_date DESC, w.weekly_plan_id DESC`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly plans for family %d: %w", familyID, err)
	}
	return plans, nil
}

func validateMeal(m MealPlan) error {
	if m.DayOfWeek.Index() < 0 {
		return &shared.ValidationError{Fields: []shared.FieldError{{Field: "MealPlan.DayOfWeek", Rule: "oneof"}}}
	}
	if m.MealType != Lunch && m.MealType != Dinner {
		return &shared.ValidationError{Fields: []shared.FieldError{{Field: "MealPlan.MealType", Rule: "oneof"}}}
	}
	return nil
}

// InsertMealPlan adds a meal to a slot. Several meals may share a slot.
// Without a commensals override the plan's party size is used.
func (r *PlanRepository) InsertMealPlan(ctx context.Context, m MealPlan) (int64, error) {
	if m.Commensals <= 0 {
		p, err := r.WeeklyPlan(ctx, m.WeeklyPlanID)
		if err != nil {
			return 0, err
		}
		m.Commensals = DefaultCommensals
		if p != nil {
			m.Commensals = p.Commensals
		}
	}
	id, err := insertMeal(ctx, r.db.SQL, m)
	if err != nil {
		return 0, err
	}
	r.db.Notify(database.TableMealPlans)
	return id, nil
}

func insertMeal(ctx context.Context, q sqlx.ExtContext, m MealPlan) (int64, error) {
	if err := validateMeal(m); err != nil {
		return 0, err
	}
	if m.Servings <= 0 {
		m.Servings = 1
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO meal_plans (weekly_plan_id, recipe_id, day_of_week, meal_type, servings, commensals) VALUES (?, ?, ?, ?, ?, ?)`,
		m.WeeklyPlanID, m.RecipeID, m.DayOfWeek, m.MealType, m.Servings, m.Commensals)
	if err != nil {
		return 0, fmt.Errorf("failed to insert meal plan: %w", err)
	}
	return res.LastInsertId()
}

func (r *PlanRepository) UpdateMealCommensals(ctx context.Context, mealPlanID int64, commensals int) error {
	if commensals < 1 {
		return &shared.ValidationError{Fields: []shared.FieldError{{Field: "MealPlan.Commensals", Rule: "gte"}}}
	}
	if _, err := r.db.SQL.ExecContext(ctx, `UPDATE meal_plans SET commensals = ? WHERE meal_plan_id = ?`, commensals, mealPlanID); err != nil {
		return fmt.Errorf("failed to update meal plan: %w", err)
	}
	r.db.Notify(database.TableMealPlans)
	return nil
}

func (r *PlanRepository) DeleteMealPlan(ctx context.Context, id int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM meal_plans WHERE meal_plan_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete meal plan: %w", err)
	}
	r.db.Notify(database.TableMealPlans)
	return nil
}

// DeleteMealsInSlot removes every meal in one (day, meal type) slot.
func (r *PlanRepository) DeleteMealsInSlot(ctx context.Context, weeklyPlanID int64, day DayOfWeek, mealType MealType) error {
	_, err := r.db.SQL.ExecContext(ctx,
		`DELETE FROM meal_plans WHERE weekly_plan_id = ? AND day_of_week = ? AND meal_type = ?`,
		weeklyPlanID, day, mealType)
	if err != nil {
		return fmt.Errorf("failed to clear meal slot: %w", err)
	}
	r.db.Notify(database.TableMealPlans)
	return nil
}

// ClearAllMealsInWeek removes every meal of a plan and returns how many were removed.
func (r *PlanRepository) ClearAllMealsInWeek(ctx context.Context, weeklyPlanID int64) (int64, error) {
	res, err := r.db.SQL.ExecContext(ctx, `DELETE FROM meal_plans WHERE weekly_plan_id = ?`, weeklyPlanID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear meals for week: %w", err)
	}
	n, _ := res.RowsAffected()
	r.db.Notify(database.TableMealPlans)
	return n, nil
}

// MealPlansForWeek returns every meal of a plan joined with its recipe,
// ordered by day, then meal type, then insertion.
func (r *PlanRepository) MealPlansForWeek(ctx context.Context, weeklyPlanID int64) ([]MealPlanWithRecipe, error) {
	var meals []MealPlanWithRecipe
	err := r.db.SQL.SelectContext(ctx, &meals, `
		SELECT m.meal_plan_id, m.weekly_plan_id, m.recipe_id, m.day_of_week, m.meal_type, m.servings, m.commensals,
		       r.uuid AS recipe_uuid, r.name AS recipe_name, r.servings AS recipe_servings
		FROM meal_plans m
		JOIN recipes r ON r.recipe_id = m.recipe_id
		WHERE m.weekly_plan_id = ?
		ORDER BY m.meal_plan_id`, weeklyPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get meal plans for week: %w", err)
	}
	sort.SliceStable(meals, func(i, j int) bool {
		a, b := meals[i], meals[j]
		if a.DayOfWeek.Index() != b.DayOfWeek.Index() {
			return a.DayOfWeek.Index() < b.DayOfWeek.Index()
		}
		return a.MealType == Lunch && b.MealType == Dinner
	})
	return meals, nil
}

// FamilyIDsForWeeklyPlan lists the families a plan is shared with.
func (r *PlanRepository) FamilyIDsForWeeklyPlan(ctx context.Context, weeklyPlanID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SQL.SelectContext(ctx, &ids,
		`SELECT family_id FROM weekly_plan_family_cross_ref WHERE weekly_plan_id = ? ORDER BY family_id`, weeklyPlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get families for weekly plan: %w", err)
	}
	return ids, nil
}

// AddFamilyAssociation shares a plan with a family. Repeating it is a no-op.
func (r *PlanRepository) AddFamilyAssociation(ctx context.Context, weeklyPlanID, familyID int64) error {
	res, err := r.db.SQL.ExecContext(ctx,
		`INSERT OR IGNORE INTO weekly_plan_family_cross_ref (weekly_plan_id, family_id) VALUES (?, ?)`,
		weeklyPlanID, familyID)
	if err != nil {
		return fmt.Errorf("failed to add family association: %w", err)
	}
	// Only real inserts are published, so re-asserting during sync stays quiet.
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		r.db.Notify(database.TablePlanFamilyCrossRef)
	}
	return nil
}

func (r *PlanRepository) RemoveFamilyAssociation(ctx context.Context, weeklyPlanID, familyID int64) error {
	_, err := r.db.SQL.ExecContext(ctx,
		`DELETE FROM weekly_plan_family_cross_ref WHERE weekly_plan_id = ? AND family_id = ?`,
		weeklyPlanID, familyID)
	if err != nil {
		return fmt.Errorf("failed to remove family association: %w", err)
	}
	r.db.Notify(database.TablePlanFamilyCrossRef)
	return nil
}
