package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/babylog/internal/model"
)

// IdempotencyStore reads and expires idempotency records. Records are
// written only by EventStore.Create, inside the event's transaction.
type IdempotencyStore struct {
	db *sql.DB
}

func NewIdempotencyStore(db *sql.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

// insertIdempotencyRecord claims (family, token). An expired record under the
// same key is replaced; a live one yields ErrIdempotencyKeyTaken.
func insertIdempotencyRecord(ctx context.Context, q queryer, rec *model.IdempotencyRecord) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE family_id = ? AND token = ? AND expires_at_ms <= ?`,
		rec.FamilyID, rec.Token, toMillis(rec.CreatedAt),
	); err != nil {
		return fmt.Errorf("clear expired idempotency record: %w", err)
	}

	res, err := q.ExecContext(ctx,
		`INSERT INTO idempotency_records (family_id, token, request_hash, event_id, response, created_at_ms, expires_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (family_id, token) DO NOTHING`,
		rec.FamilyID, rec.Token, rec.RequestHash, rec.EventID, string(rec.Response),
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrIdempotencyKeyTaken
	}
	return nil
}

// Get returns the live record for (familyID, token) at now, or (nil, nil).
func (s *IdempotencyStore) Get(ctx context.Context, familyID, token string, now time.Time) (*model.IdempotencyRecord, error) {
	var (
		rec                 model.IdempotencyRecord
		response            string
		createdMS, expireMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT family_id, token, request_hash, event_id, response, created_at_ms, expires_at_ms
		 FROM idempotency_records
		 WHERE family_id = ? AND token = ? AND expires_at_ms > ?`,
		familyID, token, toMillis(now),
	).Scan(&rec.FamilyID, &rec.Token, &rec.RequestHash, &rec.EventID, &response, &createdMS, &expireMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.Response = []byte(response)
	rec.CreatedAt = fromMillis(createdMS)
	rec.ExpiresAt = fromMillis(expireMS)
	return &rec, nil
}

// DeleteExpired removes records whose expiry is at or before now and reports
// how many were removed.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at_ms <= ?`,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
