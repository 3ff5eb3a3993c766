package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/babylog/internal/database"
	"github.com/dukerupert/babylog/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	// modernc/sqlite may not honor the DSN pragma for :memory:
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// fixture is one family with an owner, a viewer, an outsider, and a baby.
type fixture struct {
	db       *sql.DB
	owner    *model.User
	viewer   *model.User
	outsider *model.User
	family   *model.Family
	baby     *model.Baby
}

func newFixture(t *testing.T, db *sql.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	users := NewUserStore(db)
	families := NewFamilyStore(db)
	babies := NewBabyStore(db)

	mustUser := func(email, name string) *model.User {
		u, err := users.Create(ctx, email, name)
		if err != nil {
			t.Fatalf("create user %s: %v", email, err)
		}
		return u
	}
	f := &fixture{db: db}
	f.owner = mustUser("owner@example.com", "Owner")
	f.viewer = mustUser("viewer@example.com", "Viewer")
	f.outsider = mustUser("outsider@example.com", "Outsider")

	var err error
	f.family, err = families.Create(ctx, "Smith", f.owner.ID)
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	if _, err := families.AddMember(ctx, f.family.ID, f.viewer.ID, model.RoleViewer); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	f.baby, err = babies.Create(ctx, f.family.ID, "Ada", "2026-01-02", "America/New_York", f.owner.ID)
	if err != nil {
		t.Fatalf("create baby: %v", err)
	}
	return f
}

func (f *fixture) newEvent(occurredAt time.Time, detail model.Detail) *model.Event {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.Event{
		ID:         uuid.NewString(),
		FamilyID:   f.family.ID,
		BabyID:     f.baby.ID,
		Type:       detail.EventType(),
		OccurredAt: occurredAt,
		Timezone:   "America/New_York",
		Detail:     detail,
		CreatedBy:  f.owner.ID,
		UpdatedBy:  f.owner.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (f *fixture) babyVersion(t *testing.T) int64 {
	t.Helper()
	var v int64
	if err := f.db.QueryRow(`SELECT events_version FROM babies WHERE id = ?`, f.baby.ID).Scan(&v); err != nil {
		t.Fatalf("read events_version: %v", err)
	}
	return v
}

func (f *fixture) eventCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := f.db.QueryRow(`SELECT COUNT(*) FROM events WHERE family_id = ?`, f.family.ID).Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func intPtr(v int) *int { return &v }
