package authz

import (
	"context"
	"testing"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/database"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/store"
)

type testEnv struct {
	kernel    *Kernel
	family    *model.Family
	baby      *model.Baby
	owner     int64
	caregiver int64
	viewer    int64
	outsider  int64
}

func setupKernel(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := store.NewUserStore(db)
	families := store.NewFamilyStore(db)
	babies := store.NewBabyStore(db)

	mustUser := func(email string) int64 {
		u, err := users.Create(ctx, email, "")
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		return u.ID
	}
	env := &testEnv{
		kernel:    NewKernel(families, babies),
		owner:     mustUser("owner@example.com"),
		caregiver: mustUser("caregiver@example.com"),
		viewer:    mustUser("viewer@example.com"),
		outsider:  mustUser("outsider@example.com"),
	}
	env.family, err = families.Create(ctx, "Smith", env.owner)
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if _, err := families.AddMember(ctx, env.family.ID, env.caregiver, model.RoleCaregiver); err != nil {
		t.Fatalf("add caregiver: %v", err)
	}
	if _, err := families.AddMember(ctx, env.family.ID, env.viewer, model.RoleViewer); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	env.baby, err = babies.Create(ctx, env.family.ID, "Ada", "", "UTC", env.owner)
	if err != nil {
		t.Fatalf("create baby: %v", err)
	}
	return env
}

func TestRoleChecks(t *testing.T) {
	env := setupKernel(t)
	ctx := context.Background()
	fid := env.family.ID

	checks := []struct {
		name  string
		check func(context.Context, int64, string) (*model.Membership, error)
		user  int64
		allow bool
	}{
		{"member owner", env.kernel.RequireMembership, env.owner, true},
		{"member viewer", env.kernel.RequireMembership, env.viewer, true},
		{"member outsider", env.kernel.RequireMembership, env.outsider, false},
		{"write owner", env.kernel.RequireWrite, env.owner, true},
		{"write caregiver", env.kernel.RequireWrite, env.caregiver, true},
		{"write viewer", env.kernel.RequireWrite, env.viewer, false},
		{"write outsider", env.kernel.RequireWrite, env.outsider, false},
		{"owner owner", env.kernel.RequireOwner, env.owner, true},
		{"owner caregiver", env.kernel.RequireOwner, env.caregiver, false},
		{"anonymous", env.kernel.RequireMembership, 0, false},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			m, err := c.check(ctx, c.user, fid)
			if c.allow {
				if err != nil {
					t.Fatalf("err = %v, want nil", err)
				}
				if m.UserID != c.user {
					t.Errorf("membership user = %d, want %d", m.UserID, c.user)
				}
				return
			}
			if !apperr.Is(err, apperr.CodePermissionDenied) {
				t.Errorf("err = %v, want permission_denied", err)
			}
		})
	}
}

func TestRequireBabyAccess(t *testing.T) {
	env := setupKernel(t)
	ctx := context.Background()

	b, m, err := env.kernel.RequireBabyAccess(ctx, env.viewer, env.baby.ID)
	if err != nil {
		t.Fatalf("viewer access: %v", err)
	}
	if b.ID != env.baby.ID || m.Role != model.RoleViewer {
		t.Errorf("got baby %s role %s", b.ID, m.Role)
	}

	_, _, foreignErr := env.kernel.RequireBabyAccess(ctx, env.outsider, env.baby.ID)
	_, _, missingErr := env.kernel.RequireBabyAccess(ctx, env.outsider, "no-such-baby")
	if !apperr.Is(foreignErr, apperr.CodeNotFound) || !apperr.Is(missingErr, apperr.CodeNotFound) {
		t.Fatalf("foreign = %v, missing = %v, want not_found for both", foreignErr, missingErr)
	}
	if foreignErr.Error() != missingErr.Error() {
		t.Errorf("foreign and missing errors differ: %q vs %q", foreignErr, missingErr)
	}
}

func TestScopedEventQuery(t *testing.T) {
	env := setupKernel(t)
	if got := env.kernel.ScopedEventQuery(env.viewer).UserID(); got != env.viewer {
		t.Errorf("scope user = %d, want %d", got, env.viewer)
	}
}
