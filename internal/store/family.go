package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/babylog/internal/model"
)

// FamilyStore owns families and their memberships. Membership rows are the
// single source of truth for authorization and are never cached.
type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func scanFamily(s scanner) (*model.Family, error) {
	var f model.Family
	err := s.Scan(&f.ID, &f.Name, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func scanMembership(s scanner) (*model.Membership, error) {
	var m model.Membership
	err := s.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const familyCols = `id, name, created_by, created_at, updated_at`
const membershipCols = `id, family_id, user_id, role, created_at, updated_at`

// Create inserts a family and makes its creator the owner in one transaction.
func (s *FamilyStore) Create(ctx context.Context, name string, creatorID int64) (*model.Family, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO families (id, name, created_by) VALUES (?, ?, ?)`,
		id, name, creatorID,
	); err != nil {
		return nil, fmt.Errorf("insert family: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO family_memberships (family_id, user_id, role) VALUES (?, ?, ?)`,
		id, creatorID, model.RoleOwner,
	); err != nil {
		return nil, fmt.Errorf("insert owner membership: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) GetByID(ctx context.Context, id string) (*model.Family, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+familyCols+` FROM families WHERE id = ?`, id)
	f, err := scanFamily(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return f, nil
}

func (s *FamilyStore) ListForUser(ctx context.Context, userID int64) ([]model.Family, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, f.created_by, f.created_at, f.updated_at
		 FROM families f
		 JOIN family_memberships fm ON f.id = fm.family_id
		 WHERE fm.user_id = ?
		 ORDER BY f.name ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list families for user: %w", err)
	}
	defer rows.Close()

	var families []model.Family
	for rows.Next() {
		f, err := scanFamily(rows)
		if err != nil {
			return nil, fmt.Errorf("scan family: %w", err)
		}
		families = append(families, *f)
	}
	return families, rows.Err()
}

func (s *FamilyStore) GetMember(ctx context.Context, familyID string, userID int64) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+membershipCols+` FROM family_memberships WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// AddMember returns ErrDuplicate if the user already belongs to the family.
func (s *FamilyStore) AddMember(ctx context.Context, familyID string, userID int64, role model.Role) (*model.Membership, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO family_memberships (family_id, user_id, role) VALUES (?, ?, ?)`,
		familyID, userID, role,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("add member: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("add member: %w", err)
	}
	return s.GetMember(ctx, familyID, userID)
}

func (s *FamilyStore) ListMembers(ctx context.Context, familyID string) ([]model.MemberWithUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fm.id, fm.family_id, fm.user_id, fm.role, fm.created_at, fm.updated_at, u.email, u.name
		 FROM family_memberships fm
		 JOIN users u ON u.id = fm.user_id
		 WHERE fm.family_id = ?
		 ORDER BY fm.created_at ASC, fm.id ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.MemberWithUser
	for rows.Next() {
		var m model.MemberWithUser
		if err := rows.Scan(&m.ID, &m.FamilyID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt, &m.Email, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// UpdateMemberRole changes a member's role. Demoting the only owner fails
// with ErrLastOwner. Returns (nil, nil) if the membership does not exist.
func (s *FamilyStore) UpdateMemberRole(ctx context.Context, familyID string, userID int64, role model.Role) (*model.Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := memberRole(ctx, tx, familyID, userID)
	if err != nil {
		return nil, err
	}
	if current == "" {
		return nil, nil
	}
	if current == model.RoleOwner && role != model.RoleOwner {
		if err := ensureAnotherOwner(ctx, tx, familyID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE family_memberships SET role = ?, updated_at = CURRENT_TIMESTAMP WHERE family_id = ? AND user_id = ?`,
		role, familyID, userID,
	); err != nil {
		return nil, fmt.Errorf("update member role: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+membershipCols+` FROM family_memberships WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	)
	m, err := scanMembership(row)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership. Removing the only owner fails with
// ErrLastOwner. Reports whether a row was removed.
func (s *FamilyStore) RemoveMember(ctx context.Context, familyID string, userID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	current, err := memberRole(ctx, tx, familyID, userID)
	if err != nil {
		return false, err
	}
	if current == "" {
		return false, nil
	}
	if current == model.RoleOwner {
		if err := ensureAnotherOwner(ctx, tx, familyID); err != nil {
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM family_memberships WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	); err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func memberRole(ctx context.Context, q queryer, familyID string, userID int64) (model.Role, error) {
	var role model.Role
	err := q.QueryRowContext(ctx,
		`SELECT role FROM family_memberships WHERE family_id = ? AND user_id = ?`,
		familyID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get member role: %w", err)
	}
	return role, nil
}

func ensureAnotherOwner(ctx context.Context, q queryer, familyID string) error {
	var owners int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM family_memberships WHERE family_id = ? AND role = ?`,
		familyID, model.RoleOwner,
	).Scan(&owners)
	if err != nil {
		return fmt.Errorf("count owners: %w", err)
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}
