// Package authz resolves an identity's membership and role within a family.
// Every event, summary, and family operation asks the Kernel first; the
// membership table is read on every call and never cached.
package authz

import (
	"context"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/store"
)

type Kernel struct {
	families *store.FamilyStore
	babies   *store.BabyStore
}

func NewKernel(families *store.FamilyStore, babies *store.BabyStore) *Kernel {
	return &Kernel{families: families, babies: babies}
}

// RequireMembership returns userID's membership in familyID or
// PermissionDenied.
func (k *Kernel) RequireMembership(ctx context.Context, userID int64, familyID string) (*model.Membership, error) {
	if userID == 0 || familyID == "" {
		return nil, apperr.PermissionDenied("forbidden")
	}
	m, err := k.families.GetMember(ctx, familyID, userID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if m == nil || !m.Role.Valid() {
		return nil, apperr.PermissionDenied("forbidden")
	}
	return m, nil
}

// RequireWrite requires at least the caregiver role.
func (k *Kernel) RequireWrite(ctx context.Context, userID int64, familyID string) (*model.Membership, error) {
	return k.requireRole(ctx, userID, familyID, model.RoleCaregiver)
}

func (k *Kernel) RequireOwner(ctx context.Context, userID int64, familyID string) (*model.Membership, error) {
	return k.requireRole(ctx, userID, familyID, model.RoleOwner)
}

func (k *Kernel) requireRole(ctx context.Context, userID int64, familyID string, min model.Role) (*model.Membership, error) {
	m, err := k.RequireMembership(ctx, userID, familyID)
	if err != nil {
		return nil, err
	}
	if !m.Role.AtLeast(min) {
		return nil, apperr.PermissionDenied("forbidden")
	}
	return m, nil
}

// RequireBabyAccess resolves the baby and checks membership in its family.
// A missing baby and a baby in a family the caller does not belong to both
// yield the same NotFound.
func (k *Kernel) RequireBabyAccess(ctx context.Context, userID int64, babyID string) (*model.Baby, *model.Membership, error) {
	b, err := k.babies.GetByID(ctx, babyID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	if b == nil {
		return nil, nil, apperr.NotFound("baby not found")
	}
	m, err := k.RequireMembership(ctx, userID, b.FamilyID)
	if apperr.Is(err, apperr.CodePermissionDenied) {
		return nil, nil, apperr.NotFound("baby not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return b, m, nil
}

// ScopedEventQuery returns the filter every event read passes to the store.
// Reads through it see only families userID belongs to.
func (k *Kernel) ScopedEventQuery(userID int64) store.Scope {
	return store.MemberScope(userID)
}
