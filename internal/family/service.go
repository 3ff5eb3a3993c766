// Package family manages families, their memberships, and their babies.
package family

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/authz"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/store"
)

const maxNameLen = 100

type Service struct {
	kernel   *authz.Kernel
	users    *store.UserStore
	families *store.FamilyStore
	babies   *store.BabyStore
	logger   *slog.Logger
}

func NewService(kernel *authz.Kernel, users *store.UserStore, families *store.FamilyStore, babies *store.BabyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		kernel:   kernel,
		users:    users,
		families: families,
		babies:   babies,
		logger:   logger.With("component", "family"),
	}
}

// cleanName trims name and reports what is wrong with it, if anything.
func cleanName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "required"
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", "must be at most 100 characters"
	}
	return name, ""
}

// Create makes a family with actorID as its owner.
func (s *Service) Create(ctx context.Context, actorID int64, name string) (*model.Family, error) {
	name, problem := cleanName(name)
	if problem != "" {
		return nil, apperr.ValidationField("name", problem)
	}
	f, err := s.families.Create(ctx, name, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("family created", "family_id", f.ID, "owner", actorID)
	return f, nil
}

func (s *Service) List(ctx context.Context, actorID int64) ([]model.Family, error) {
	families, err := s.families.ListForUser(ctx, actorID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if families == nil {
		families = []model.Family{}
	}
	return families, nil
}

func (s *Service) ListMembers(ctx context.Context, actorID int64, familyID string) ([]model.MemberWithUser, error) {
	if _, err := s.kernel.RequireMembership(ctx, actorID, familyID); err != nil {
		return nil, err
	}
	members, err := s.families.ListMembers(ctx, familyID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return members, nil
}

func validateRole(role model.Role) error {
	if !role.Valid() {
		return apperr.ValidationField("role", "must be one of owner, caregiver, viewer")
	}
	return nil
}

// AddMember adds an existing user, found by email, to the family.
func (s *Service) AddMember(ctx context.Context, actorID int64, familyID, email string, role model.Role) (*model.Membership, error) {
	if _, err := s.kernel.RequireOwner(ctx, actorID, familyID); err != nil {
		return nil, err
	}
	fields := apperr.Fields{}
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		fields.Add("email", "must be a valid email address")
	}
	if !role.Valid() {
		fields.Add("role", "must be one of owner, caregiver, viewer")
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	u, err := s.users.GetByEmail(ctx, strings.ToLower(addr.Address))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if u == nil {
		return nil, apperr.NotFound("user not found")
	}
	m, err := s.families.AddMember(ctx, familyID, u.ID, role)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.Conflict("user is already a member of this family")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("member added", "family_id", familyID, "user_id", u.ID, "role", role, "actor", actorID)
	return m, nil
}

func (s *Service) ChangeRole(ctx context.Context, actorID int64, familyID string, userID int64, role model.Role) (*model.Membership, error) {
	if _, err := s.kernel.RequireOwner(ctx, actorID, familyID); err != nil {
		return nil, err
	}
	if err := validateRole(role); err != nil {
		return nil, err
	}
	m, err := s.families.UpdateMemberRole(ctx, familyID, userID, role)
	if errors.Is(err, store.ErrLastOwner) {
		return nil, apperr.Conflict("a family must keep at least one owner")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if m == nil {
		return nil, apperr.NotFound("member not found")
	}
	s.logger.Info("member role changed", "family_id", familyID, "user_id", userID, "role", role, "actor", actorID)
	return m, nil
}

// RemoveMember removes userID from the family. Owners may remove anyone;
// any member may remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actorID int64, familyID string, userID int64) error {
	if actorID == userID {
		if _, err := s.kernel.RequireMembership(ctx, actorID, familyID); err != nil {
			return err
		}
	} else if _, err := s.kernel.RequireOwner(ctx, actorID, familyID); err != nil {
		return err
	}
	removed, err := s.families.RemoveMember(ctx, familyID, userID)
	if errors.Is(err, store.ErrLastOwner) {
		return apperr.Conflict("a family must keep at least one owner")
	}
	if err != nil {
		return apperr.Internal(err)
	}
	if !removed {
		return apperr.NotFound("member not found")
	}
	s.logger.Info("member removed", "family_id", familyID, "user_id", userID, "actor", actorID)
	return nil
}

type BabyInput struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	Timezone  string `json:"timezone"`
}

// CreateBaby requires at least the caregiver role. The time zone defaults
// to UTC.
func (s *Service) CreateBaby(ctx context.Context, actorID int64, familyID string, in BabyInput) (*model.Baby, error) {
	if _, err := s.kernel.RequireWrite(ctx, actorID, familyID); err != nil {
		return nil, err
	}
	fields := apperr.Fields{}
	name, problem := cleanName(in.Name)
	if problem != "" {
		fields.Add("name", problem)
	}
	if in.BirthDate != "" {
		if _, err := time.Parse("2006-01-02", in.BirthDate); err != nil {
			fields.Add("birth_date", "must be YYYY-MM-DD")
		}
	}
	if in.Timezone == "" {
		in.Timezone = "UTC"
	}
	if _, err := model.LoadZone(in.Timezone); err != nil {
		fields.Add("timezone", err.Error())
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	b, err := s.babies.Create(ctx, familyID, name, in.BirthDate, in.Timezone, actorID)
	if errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.Conflict("a baby with this name and birth date already exists")
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.logger.Info("baby created", "family_id", familyID, "baby_id", b.ID, "actor", actorID)
	return b, nil
}

func (s *Service) ListBabies(ctx context.Context, actorID int64, familyID string) ([]model.Baby, error) {
	if _, err := s.kernel.RequireMembership(ctx, actorID, familyID); err != nil {
		return nil, err
	}
	babies, err := s.babies.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if babies == nil {
		babies = []model.Baby{}
	}
	return babies, nil
}

// RemoveBaby deletes a baby and all of its events. Owner only.
func (s *Service) RemoveBaby(ctx context.Context, actorID int64, babyID string) error {
	b, _, err := s.kernel.RequireBabyAccess(ctx, actorID, babyID)
	if err != nil {
		return err
	}
	if _, err := s.kernel.RequireOwner(ctx, actorID, b.FamilyID); err != nil {
		return err
	}
	if err := s.babies.Delete(ctx, b.ID); err != nil {
		return apperr.Internal(err)
	}
	s.logger.Info("baby removed", "family_id", b.FamilyID, "baby_id", b.ID, "actor", actorID)
	return nil
}
