package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/babylog/internal/model"
)

type BabyStore struct {
	db *sql.DB
}

func NewBabyStore(db *sql.DB) *BabyStore {
	return &BabyStore{db: db}
}

func scanBaby(s scanner) (*model.Baby, error) {
	var b model.Baby
	err := s.Scan(&b.ID, &b.FamilyID, &b.Name, &b.BirthDate, &b.Timezone, &b.EventsVersion, &b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

const babyCols = `id, family_id, name, birth_date, timezone, events_version, created_by, created_at, updated_at`

// Create returns ErrDuplicate if the family already has a baby with the same
// name and birth date.
func (s *BabyStore) Create(ctx context.Context, familyID, name, birthDate, timezone string, createdBy int64) (*model.Baby, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO babies (id, family_id, name, birth_date, timezone, created_by) VALUES (?, ?, ?, ?, ?, ?)`,
		id, familyID, name, birthDate, timezone, createdBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert baby: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert baby: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BabyStore) GetByID(ctx context.Context, id string) (*model.Baby, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+babyCols+` FROM babies WHERE id = ?`, id)
	b, err := scanBaby(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get baby: %w", err)
	}
	return b, nil
}

func (s *BabyStore) ListByFamily(ctx context.Context, familyID string) ([]model.Baby, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+babyCols+` FROM babies WHERE family_id = ? ORDER BY name ASC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list babies: %w", err)
	}
	defer rows.Close()

	var babies []model.Baby
	for rows.Next() {
		b, err := scanBaby(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baby: %w", err)
		}
		babies = append(babies, *b)
	}
	return babies, rows.Err()
}

// Delete removes a baby; its events and their details cascade.
func (s *BabyStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM babies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete baby: %w", err)
	}
	return nil
}
