package family

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"family-meal-planner/internal/database"
)

// Repository is the local copy of the families a user belongs to.
type Repository struct {
	db *database.DB
}

func NewRepository(d *database.DB) *Repository {
	return &Repository{db: d}
}

// UpsertFamily inserts a family or refreshes its name and owner.
func (r *Repository) UpsertFamily(ctx context.Context, f Family) error {
	_, err := r.db.SQL.ExecContext(ctx, `
		INSERT INTO families (family_id, name, owner_id, created_date) VALUES (?, ?, ?, ?)
		ON CONFLICT(family_id) DO UPDATE SET name = excluded.name, owner_id = excluded.owner_id`,
		f.FamilyID, f.Name, f.OwnerID, f.CreatedDate)
	if err != nil {
		return fmt.Errorf("failed to upsert family: %w", err)
	}
	r.db.Notify(database.TableFamilies)
	return nil
}

func (r *Repository) Family(ctx context.Context, id int64) (*Family, error) {
	var f Family
	err := r.db.SQL.GetContext(ctx, &f, `SELECT family_id, name, owner_id, created_date FROM families WHERE family_id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	return &f, nil
}

func (r *Repository) ListFamilies(ctx context.Context) ([]Family, error) {
	var out []Family
	if err := r.db.SQL.SelectContext(ctx, &out, `SELECT family_id, name, owner_id, created_date FROM families ORDER BY family_id`); err != nil {
		return nil, fmt.Errorf("failed to list families: %w", err)
	}
	return out, nil
}

// FamiliesForUser lists the local families that have the user as a member.
func (r *Repository) FamiliesForUser(ctx context.Context, userID string) ([]Family, error) {
	var out []Family
	err := r.db.SQL.SelectContext(ctx, &out, `
		SELECT f.family_id, f.name, f.owner_id, f.created_date
		FROM families f JOIN family_members m ON m.family_id = f.family_id
		WHERE m.user_id = ?
		ORDER BY f.family_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list families for user: %w", err)
	}
	return out, nil
}

// UpsertMember inserts a member or refreshes its details.
func (r *Repository) UpsertMember(ctx context.Context, m Member) error {
	_, err := r.db.SQL.ExecContext(ctx, `
		INSERT INTO family_members (family_id, user_id, email, display_name, joined_date) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(family_id, user_id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name`,
		m.FamilyID, m.UserID, m.Email, m.DisplayName, m.JoinedDate)
	if err != nil {
		return fmt.Errorf("failed to upsert family member: %w", err)
	}
	r.db.Notify(database.TableFamilies)
	return nil
}

func (r *Repository) Members(ctx context.Context, familyID int64) ([]Member, error) {
	var out []Member
	err := r.db.SQL.SelectContext(ctx, &out, `
		SELECT member_id, family_id, user_id, email, display_name, joined_date
		FROM family_members WHERE family_id = ? ORDER BY joined_date, member_id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list family members: %w", err)
	}
	return out, nil
}

func (r *Repository) RemoveMember(ctx context.Context, familyID int64, userID string) error {
	_, err := r.db.SQL.ExecContext(ctx, `DELETE FROM family_members WHERE family_id = ? AND user_id = ?`, familyID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove family member: %w", err)
	}
	r.db.Notify(database.TableFamilies)
	return nil
}

func (r *Repository) MemberCount(ctx context.Context, familyID int64) (int, error) {
	var n int
	if err := r.db.SQL.GetContext(ctx, &n, `SELECT COUNT(*) FROM family_members WHERE family_id = ?`, familyID); err != nil {
		return 0, fmt.Errorf("failed to count family members: %w", err)
	}
	return n, nil
}

// DeleteFamily removes a family, its members and its plan associations.
// The plans themselves stay.
func (r *Repository) DeleteFamily(ctx context.Context, familyID int64) error {
	if _, err := r.db.SQL.ExecContext(ctx, `DELETE FROM families WHERE family_id = ?`, familyID); err != nil {
		return fmt.Errorf("failed to delete family: %w", err)
	}
	r.db.Notify(database.TableFamilies, database.TablePlanFamilyCrossRef)
	return nil
}
