package family

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"family-meal-planner/internal/auth"
	"family-meal-planner/internal/cloud"
	"family-meal-planner/internal/planner"
	"family-meal-planner/internal/shared"
)

const (
	inviteAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteCodeLength    = 6
	maxInviteAttempts   = 5
	maxFamilyIDAttempts = 5
)

// Service keeps families in the cloud store and mirrors them locally.
type Service struct {
	store   cloud.Store
	repo    *Repository
	plans   *planner.PlanRepository
	logger  *zap.Logger
	now     func() time.Time
	newCode func() (string, error)
}

type Option func(*Service)

// WithClock replaces the clock used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator replaces the invite code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

func NewService(store cloud.Store, repo *Repository, plans *planner.PlanRepository, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:   store,
		repo:    repo,
		plans:   plans,
		logger:  logger,
		now:     time.Now,
		newCode: GenerateInviteCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateInviteCode returns a random code drawn from an alphabet without
// look-alike characters.
func GenerateInviteCode() (string, error) {
	base := big.NewInt(int64(len(inviteAlphabet)))
	b := make([]byte, inviteCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("failed to generate invite code: %w", err)
		}
		b[i] = inviteAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode trims and upper-cases a code typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func requireVerified(id auth.Identity) error {
	if !id.Verified() {
		return auth.ErrNotAuthenticated
	}
	return nil
}

func displayNamePtr(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}

// CreateFamily creates a family owned by the caller and adds the caller as
// its first member.
func (s *Service) CreateFamily(ctx context.Context, id auth.Identity, name string) (*Family, error) {
	if err := requireVerified(id); err != nil {
		return nil, err
	}
	f := Family{Name: shared.TrimmedName(name), OwnerID: id.UID}
	if err := shared.Validate(f); err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	f.CreatedDate = now
	doc, err := cloud.Encode(familyDoc{Name: f.Name, OwnerID: f.OwnerID, CreatedDate: now})
	if err != nil {
		return nil, err
	}

	// Family ids are creation timestamps; step forward past a collision.
	for attempt := 0; ; attempt++ {
		f.FamilyID = now + int64(attempt)
		err = s.store.Create(ctx, cloud.FamilyDoc(f.FamilyID), doc)
		if err == nil {
			break
		}
		if !errors.Is(err, cloud.ErrAlreadyExists) || attempt+1 >= maxFamilyIDAttempts {
			return nil, fmt.Errorf("failed to create family: %w", err)
		}
	}

	member := Member{
		FamilyID:    f.FamilyID,
		UserID:      id.UID,
		Email:       id.Email,
		DisplayName: displayNamePtr(id.DisplayName),
		JoinedDate:  now,
	}
	if err := s.writeMembership(ctx, member); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertFamily(ctx, f); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertMember(ctx, member); err != nil {
		return nil, err
	}
	s.logger.Info("family created", zap.Int64("family_id", f.FamilyID), zap.String("owner", id.UID))
	return &f, nil
}

// writeMembership stores the member document and the user's pointer to the
// family.
func (s *Service) writeMembership(ctx context.Context, m Member) error {
	doc, err := cloud.Encode(memberDoc{Email: m.Email, DisplayName: m.DisplayName, JoinedDate: m.JoinedDate})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, cloud.Doc(cloud.FamilyMembers(m.FamilyID), m.UserID), doc); err != nil {
		return fmt.Errorf("failed to write family member: %w", err)
	}
	ptr, err := cloud.Encode(userFamilyDoc{FamilyID: m.FamilyID, JoinedDate: m.JoinedDate})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, cloud.Doc(cloud.UserFamilies(m.UserID), strconv.FormatInt(m.FamilyID, 10)), ptr); err != nil {
		return fmt.Errorf("failed to write user family: %w", err)
	}
	return nil
}

func (s *Service) isMember(ctx context.Context, familyID int64, uid string) (bool, error) {
	_, err := s.store.Get(ctx, cloud.Doc(cloud.FamilyMembers(familyID), uid))
	if errors.Is(err, cloud.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}

func (s *Service) remoteFamily(ctx context.Context, familyID int64) (*Family, error) {
	fields, err := s.store.Get(ctx, cloud.FamilyDoc(familyID))
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return nil, ErrFamilyNotFound
		}
		return nil, fmt.Errorf("failed to get family: %w", err)
	}
	var doc familyDoc
	if err := fields.Decode(&doc); err != nil {
		return nil, err
	}
	return &Family{FamilyID: familyID, Name: doc.Name, OwnerID: doc.OwnerID, CreatedDate: doc.CreatedDate}, nil
}

// CreateInvite issues a single-use invite code for a family the caller
// belongs to.
func (s *Service) CreateInvite(ctx context.Context, id auth.Identity, familyID int64) (string, error) {
	if err := requireVerified(id); err != nil {
		return "", err
	}
	ok, err := s.isMember(ctx, familyID, id.UID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotMember
	}

	doc, err := cloud.Encode(inviteDoc{FamilyID: familyID, CreatedBy: id.UID, CreatedAt: s.now().UnixMilli()})
	if err != nil {
		return "", err
	}
	for attempt := 0; attempt < maxInviteAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		err = s.store.Create(ctx, cloud.Doc(cloud.FamilyInvites, code), doc)
		if err == nil {
			s.logger.Info("invite created", zap.Int64("family_id", familyID), zap.String("code", code))
			return code, nil
		}
		if !errors.Is(err, cloud.ErrAlreadyExists) {
			return "", fmt.Errorf("failed to store invite: %w", err)
		}
		s.logger.Debug("invite code collision", zap.String("code", code))
	}
	return "", ErrInviteCodeExhausted
}

// JoinWithCode redeems an invite code. A code can be redeemed once; when two
// users race for the same code exactly one of them joins.
func (s *Service) JoinWithCode(ctx context.Context, id auth.Identity, code string) (*Family, error) {
	if err := requireVerified(id); err != nil {
		return nil, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrInviteNotFound
	}
	path := cloud.Doc(cloud.FamilyInvites, code)

	fields, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	if !fields.IsNull("usedBy") {
		return nil, ErrInviteUsed
	}
	var inv inviteDoc
	if fields.IsNull("familyId") || fields.Decode(&inv) != nil || inv.FamilyID == 0 {
		return nil, ErrInvalidInvite
	}

	f, err := s.remoteFamily(ctx, inv.FamilyID)
	if err != nil {
		if errors.Is(err, ErrFamilyNotFound) {
			return nil, ErrInvalidInvite
		}
		return nil, err
	}
	member, err := s.isMember(ctx, f.FamilyID, id.UID)
	if err != nil {
		return nil, err
	}
	if member {
		return nil, ErrAlreadyMember
	}

	now := s.now().UnixMilli()
	err = s.store.Update(ctx, path, func(current cloud.Fields) (cloud.Fields, error) {
		if !current.IsNull("usedBy") {
			return nil, ErrInviteUsed
		}
		uid := id.UID
		return cloud.Encode(struct {
			UsedBy *string `json:"usedBy"`
			UsedAt int64   `json:"usedAt"`
		}{&uid, now})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInviteUsed), errors.Is(err, cloud.ErrConflict):
			return nil, ErrInviteUsed
		case errors.Is(err, cloud.ErrNotFound):
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to claim invite: %w", err)
	}

	m := Member{
		FamilyID:    f.FamilyID,
		UserID:      id.UID,
		Email:       id.Email,
		DisplayName: displayNamePtr(id.DisplayName),
		JoinedDate:  now,
	}
	if err := s.writeMembership(ctx, m); err != nil {
		s.releaseInvite(ctx, path, m)
		return nil, err
	}
	if err := s.repo.UpsertFamily(ctx, *f); err != nil {
		return nil, err
	}
	if err := s.repo.UpsertMember(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info("joined family", zap.Int64("family_id", f.FamilyID), zap.String("user", id.UID))
	return f, nil
}

// releaseInvite undoes a claim whose membership could not be written, so
// the code can be redeemed again.
func (s *Service) releaseInvite(ctx context.Context, path string, m Member) {
	if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyMembers(m.FamilyID), m.UserID)); err != nil {
		s.logger.Warn("failed to remove partial membership", zap.Int64("family_id", m.FamilyID), zap.Error(err))
	}
	err := s.store.Update(ctx, path, func(current cloud.Fields) (cloud.Fields, error) {
		var inv inviteDoc
		if err := current.Decode(&inv); err != nil || inv.UsedBy == nil || *inv.UsedBy != m.UserID {
			return nil, nil
		}
		return cloud.Fields{"usedBy": json.RawMessage("null"), "usedAt": json.RawMessage("null")}, nil
	})
	if err != nil {
		s.logger.Warn("failed to release invite", zap.String("user", m.UserID), zap.Error(err))
	}
}

// RemoveMember removes a member from a family. The owner can remove anyone
// but themselves; other members can only remove themselves.
func (s *Service) RemoveMember(ctx context.Context, id auth.Identity, familyID int64, uid string) error {
	if err := requireVerified(id); err != nil {
		return err
	}
	f, err := s.remoteFamily(ctx, familyID)
	if err != nil {
		return err
	}
	if uid == f.OwnerID {
		return fmt.Errorf("%w: the owner must delete the family instead", ErrNotOwner)
	}
	if id.UID != f.OwnerID && id.UID != uid {
		return ErrNotOwner
	}
	if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyMembers(familyID), uid)); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if err := s.store.Delete(ctx, cloud.Doc(cloud.UserFamilies(uid), strconv.FormatInt(familyID, 10))); err != nil {
		return fmt.Errorf("failed to remove user family: %w", err)
	}
	if uid == id.UID {
		// Leaving drops the local family entirely.
		return s.repo.DeleteFamily(ctx, familyID)
	}
	return s.repo.RemoveMember(ctx, familyID, uid)
}

// LeaveFamily removes the caller from a family.
func (s *Service) LeaveFamily(ctx context.Context, id auth.Identity, familyID int64) error {
	return s.RemoveMember(ctx, id, familyID, id.UID)
}

// DeleteFamily removes a family with its members, shared plans and
// outstanding invites. Only the owner can delete.
func (s *Service) DeleteFamily(ctx context.Context, id auth.Identity, familyID int64) error {
	if err := requireVerified(id); err != nil {
		return err
	}
	f, err := s.remoteFamily(ctx, familyID)
	if err != nil {
		return err
	}
	if f.OwnerID != id.UID {
		return ErrNotOwner
	}

	members, err := s.store.List(ctx, cloud.FamilyMembers(familyID))
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	fid := strconv.FormatInt(familyID, 10)
	for _, m := range members {
		if err := s.store.Delete(ctx, cloud.Doc(cloud.UserFamilies(m.ID), fid)); err != nil {
			return fmt.Errorf("failed to remove user family: %w", err)
		}
		if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyMembers(familyID), m.ID)); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
	}

	plans, err := s.store.List(ctx, cloud.FamilyWeeklyPlans(familyID))
	if err != nil {
		return fmt.Errorf("failed to list family plans: %w", err)
	}
	for _, p := range plans {
		if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyWeeklyPlans(familyID), p.ID)); err != nil {
			return fmt.Errorf("failed to remove family plan: %w", err)
		}
	}

	invites, err := s.store.List(ctx, cloud.FamilyInvites)
	if err != nil {
		return fmt.Errorf("failed to list invites: %w", err)
	}
	for _, inv := range invites {
		var doc inviteDoc
		if inv.Fields.Decode(&doc) != nil || doc.FamilyID != familyID {
			continue
		}
		if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyInvites, inv.ID)); err != nil {
			return fmt.Errorf("failed to remove invite: %w", err)
		}
	}

	if err := s.store.Delete(ctx, cloud.FamilyDoc(familyID)); err != nil {
		return fmt.Errorf("failed to delete family: %w", err)
	}
	if err := s.repo.DeleteFamily(ctx, familyID); err != nil {
		return err
	}
	s.logger.Info("family deleted", zap.Int64("family_id", familyID), zap.Int("members", len(members)))
	return nil
}

// UserFamilyIDs lists the ids of the families a user belongs to, according
// to the cloud store.
func (s *Service) UserFamilyIDs(ctx context.Context, uid string) ([]int64, error) {
	docs, err := s.store.List(ctx, cloud.UserFamilies(uid))
	if err != nil {
		return nil, fmt.Errorf("failed to list user families: %w", err)
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		fid, err := strconv.ParseInt(d.ID, 10, 64)
		if err != nil {
			s.logger.Warn("skipping malformed family pointer", zap.String("id", d.ID))
			continue
		}
		ids = append(ids, fid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListFamilies fetches the caller's families and their members from the
// cloud store and refreshes the local copy.
func (s *Service) ListFamilies(ctx context.Context, id auth.Identity) ([]Family, error) {
	if err := requireVerified(id); err != nil {
		return nil, err
	}
	ids, err := s.UserFamilyIDs(ctx, id.UID)
	if err != nil {
		return nil, err
	}
	out := make([]Family, 0, len(ids))
	for _, fid := range ids {
		f, err := s.remoteFamily(ctx, fid)
		if errors.Is(err, ErrFamilyNotFound) {
			s.logger.Warn("family pointer without family", zap.Int64("family_id", fid))
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.repo.UpsertFamily(ctx, *f); err != nil {
			return nil, err
		}
		if _, err := s.Members(ctx, fid); err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, nil
}

// Members fetches the members of a family from the cloud store and
// refreshes the local copy.
func (s *Service) Members(ctx context.Context, familyID int64) ([]Member, error) {
	docs, err := s.store.List(ctx, cloud.FamilyMembers(familyID))
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	out := make([]Member, 0, len(docs))
	for _, d := range docs {
		var doc memberDoc
		if err := d.Fields.Decode(&doc); err != nil {
			s.logger.Warn("skipping malformed member", zap.String("id", d.ID), zap.Error(err))
			continue
		}
		m := Member{FamilyID: familyID, UserID: d.ID, Email: doc.Email, DisplayName: doc.DisplayName, JoinedDate: doc.JoinedDate}
		if err := s.repo.UpsertMember(ctx, m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedDate < out[j].JoinedDate })
	return out, nil
}

// EnsureLocal makes sure a family row exists locally so plans can be
// associated with it.
func (s *Service) EnsureLocal(ctx context.Context, familyID int64) error {
	existing, err := s.repo.Family(ctx, familyID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	f, err := s.remoteFamily(ctx, familyID)
	if err != nil {
		return err
	}
	return s.repo.UpsertFamily(ctx, *f)
}

// ShareWeeklyPlan associates a plan with a family. The next sync copies it
// to the family collection.
func (s *Service) ShareWeeklyPlan(ctx context.Context, id auth.Identity, weeklyPlanID, familyID int64) error {
	if err := requireVerified(id); err != nil {
		return err
	}
	ok, err := s.isMember(ctx, familyID, id.UID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	if err := s.EnsureLocal(ctx, familyID); err != nil {
		return err
	}
	return s.plans.AddFamilyAssociation(ctx, weeklyPlanID, familyID)
}

// UnshareWeeklyPlan removes the association and the family's copy of the
// plan.
func (s *Service) UnshareWeeklyPlan(ctx context.Context, id auth.Identity, weeklyPlanID, familyID int64) error {
	if err := requireVerified(id); err != nil {
		return err
	}
	p, err := s.plans.WeeklyPlan(ctx, weeklyPlanID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("weekly plan %d not found", weeklyPlanID)
	}
	if err := s.store.Delete(ctx, cloud.Doc(cloud.FamilyWeeklyPlans(familyID), p.UUID)); err != nil {
		return fmt.Errorf("failed to remove family plan: %w", err)
	}
	return s.plans.RemoveFamilyAssociation(ctx, weeklyPlanID, familyID)
}
