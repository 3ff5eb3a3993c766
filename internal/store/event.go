package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/babylog/internal/model"
)

// Scope restricts event reads to the families one identity belongs to.
// The zero Scope matches nothing.
type Scope struct {
	userID int64
}

// MemberScope returns the read scope for userID.
func MemberScope(userID int64) Scope {
	return Scope{userID: userID}
}

func (s Scope) UserID() int64 { return s.userID }

// EventStore persists events together with their detail rows. Every write
// is one transaction covering the event, its detail, and the owning baby's
// events_version.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// EventFilter narrows List. Zero values mean "no constraint".
type EventFilter struct {
	BabyID string
	Type   model.EventType
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

const eventSelect = `SELECT e.id, e.family_id, e.baby_id, e.event_type, e.occurred_at_ms, e.timezone, e.notes,
	e.created_by, e.updated_by, e.created_at_ms, e.updated_at_ms,
	fd.method, fd.amount_ml, fd.side, fd.duration_min,
	dd.wet, dd.dirty, dd.color, dd.consistency,
	sd.start_ms, sd.end_ms, sd.quality,
	pd.side, pd.volume_ml, pd.duration_min
FROM events e
JOIN family_memberships fm ON fm.family_id = e.family_id AND fm.user_id = ?
LEFT JOIN feeding_details fd ON fd.event_id = e.id
LEFT JOIN diaper_details dd ON dd.event_id = e.id
LEFT JOIN sleep_details sd ON sd.event_id = e.id
LEFT JOIN pumping_details pd ON pd.event_id = e.id`

func scanEvent(s scanner) (*model.Event, error) {
	var (
		e                                model.Event
		occurredMS, createdMS, updatedMS int64
		fdMethod, fdSide                 sql.NullString
		fdAmount, fdDuration             sql.NullInt64
		ddWet, ddDirty                   sql.NullInt64
		ddColor, ddConsistency           sql.NullString
		sdStart, sdEnd                   sql.NullInt64
		sdQuality                        sql.NullString
		pdSide                           sql.NullString
		pdVolume, pdDuration             sql.NullInt64
	)
	err := s.Scan(
		&e.ID, &e.FamilyID, &e.BabyID, &e.Type, &occurredMS, &e.Timezone, &e.Notes,
		&e.CreatedBy, &e.UpdatedBy, &createdMS, &updatedMS,
		&fdMethod, &fdAmount, &fdSide, &fdDuration,
		&ddWet, &ddDirty, &ddColor, &ddConsistency,
		&sdStart, &sdEnd, &sdQuality,
		&pdSide, &pdVolume, &pdDuration,
	)
	if err != nil {
		return nil, err
	}
	e.OccurredAt = fromMillis(occurredMS)
	e.CreatedAt = fromMillis(createdMS)
	e.UpdatedAt = fromMillis(updatedMS)

	switch e.Type {
	case model.EventFeeding:
		if !fdMethod.Valid {
			return nil, fmt.Errorf("event %s: missing feeding detail", e.ID)
		}
		e.Detail = model.FeedingDetail{
			Method:      model.FeedingMethod(fdMethod.String),
			AmountML:    nullIntPtr(fdAmount),
			Side:        model.Side(fdSide.String),
			DurationMin: nullIntPtr(fdDuration),
		}
	case model.EventDiaper:
		if !ddWet.Valid {
			return nil, fmt.Errorf("event %s: missing diaper detail", e.ID)
		}
		e.Detail = model.DiaperDetail{
			Wet:         ddWet.Int64 != 0,
			Dirty:       ddDirty.Int64 != 0,
			Color:       ddColor.String,
			Consistency: ddConsistency.String,
		}
	case model.EventSleep:
		if !sdStart.Valid {
			return nil, fmt.Errorf("event %s: missing sleep detail", e.ID)
		}
		d := model.SleepDetail{
			Start:   fromMillis(sdStart.Int64),
			Ongoing: !sdEnd.Valid,
			Quality: model.SleepQuality(sdQuality.String),
		}
		if sdEnd.Valid {
			end := fromMillis(sdEnd.Int64)
			d.End = &end
		}
		e.Detail = d
	case model.EventPumping:
		if !pdSide.Valid {
			return nil, fmt.Errorf("event %s: missing pumping detail", e.ID)
		}
		e.Detail = model.PumpingDetail{
			Side:        model.Side(pdSide.String),
			VolumeML:    int(pdVolume.Int64),
			DurationMin: nullIntPtr(pdDuration),
		}
	default:
		return nil, fmt.Errorf("event %s: unknown type %q", e.ID, e.Type)
	}
	return &e, nil
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func intPtrArg(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// Create persists e and its detail. When claim is non-nil the idempotency
// record is inserted in the same transaction; if another request already
// holds the key the whole write is abandoned with ErrIdempotencyKeyTaken.
func (s *EventStore) Create(ctx context.Context, e *model.Event, claim *model.IdempotencyRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if claim != nil {
		if err := insertIdempotencyRecord(ctx, tx, claim); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, family_id, baby_id, event_type, occurred_at_ms, timezone, notes,
		                     created_by, updated_by, created_at_ms, updated_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FamilyID, e.BabyID, e.Type, toMillis(e.OccurredAt), e.Timezone, e.Notes,
		e.CreatedBy, e.UpdatedBy, toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := insertDetail(ctx, tx, e.ID, e.Detail); err != nil {
		return err
	}
	if err := bumpEventsVersion(ctx, tx, e.BabyID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertDetail(ctx context.Context, q queryer, eventID string, detail model.Detail) error {
	var err error
	switch d := detail.(type) {
	case model.FeedingDetail:
		_, err = q.ExecContext(ctx,
			`INSERT INTO feeding_details (event_id, method, amount_ml, side, duration_min) VALUES (?, ?, ?, ?, ?)`,
			eventID, d.Method, intPtrArg(d.AmountML), d.Side, intPtrArg(d.DurationMin),
		)
	case model.DiaperDetail:
		_, err = q.ExecContext(ctx,
			`INSERT INTO diaper_details (event_id, wet, dirty, color, consistency) VALUES (?, ?, ?, ?, ?)`,
			eventID, boolToInt(d.Wet), boolToInt(d.Dirty), d.Color, d.Consistency,
		)
	case model.SleepDetail:
		_, err = q.ExecContext(ctx,
			`INSERT INTO sleep_details (event_id, start_ms, end_ms, quality) VALUES (?, ?, ?, ?)`,
			eventID, toMillis(d.Start), endMillisArg(d), d.Quality,
		)
	case model.PumpingDetail:
		_, err = q.ExecContext(ctx,
			`INSERT INTO pumping_details (event_id, side, volume_ml, duration_min) VALUES (?, ?, ?, ?)`,
			eventID, d.Side, d.VolumeML, intPtrArg(d.DurationMin),
		)
	default:
		return fmt.Errorf("insert detail: unsupported detail %T", detail)
	}
	if err != nil {
		return fmt.Errorf("insert %s detail: %w", detail.EventType(), err)
	}
	return nil
}

func updateDetail(ctx context.Context, q queryer, eventID string, detail model.Detail) error {
	var (
		res sql.Result
		err error
	)
	switch d := detail.(type) {
	case model.FeedingDetail:
		res, err = q.ExecContext(ctx,
			`UPDATE feeding_details SET method = ?, amount_ml = ?, side = ?, duration_min = ? WHERE event_id = ?`,
			d.Method, intPtrArg(d.AmountML), d.Side, intPtrArg(d.DurationMin), eventID,
		)
	case model.DiaperDetail:
		res, err = q.ExecContext(ctx,
			`UPDATE diaper_details SET wet = ?, dirty = ?, color = ?, consistency = ? WHERE event_id = ?`,
			boolToInt(d.Wet), boolToInt(d.Dirty), d.Color, d.Consistency, eventID,
		)
	case model.SleepDetail:
		res, err = q.ExecContext(ctx,
			`UPDATE sleep_details SET start_ms = ?, end_ms = ?, quality = ? WHERE event_id = ?`,
			toMillis(d.Start), endMillisArg(d), d.Quality, eventID,
		)
	case model.PumpingDetail:
		res, err = q.ExecContext(ctx,
			`UPDATE pumping_details SET side = ?, volume_ml = ?, duration_min = ? WHERE event_id = ?`,
			d.Side, d.VolumeML, intPtrArg(d.DurationMin), eventID,
		)
	default:
		return fmt.Errorf("update detail: unsupported detail %T", detail)
	}
	if err != nil {
		return fmt.Errorf("update %s detail: %w", detail.EventType(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("update %s detail: event %s has no detail row", detail.EventType(), eventID)
	}
	return nil
}

func endMillisArg(d model.SleepDetail) sql.NullInt64 {
	if d.End == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*d.End), Valid: true}
}

func bumpEventsVersion(ctx context.Context, q queryer, babyID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE babies SET events_version = events_version + 1 WHERE id = ?`,
		babyID,
	)
	if err != nil {
		return fmt.Errorf("bump events version: %w", err)
	}
	return nil
}

func getEvent(ctx context.Context, q queryer, scope Scope, id string) (*model.Event, error) {
	row := q.QueryRowContext(ctx, eventSelect+` WHERE e.id = ?`, scope.userID, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// Get returns the event if it exists within scope, or (nil, nil).
func (s *EventStore) Get(ctx context.Context, scope Scope, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, scope, id)
}

// List returns one page of events matching f, newest first, and the total
// number of matches.
func (s *EventStore) List(ctx context.Context, scope Scope, f EventFilter) ([]model.Event, int, error) {
	var (
		where []string
		args  []any
	)
	if f.BabyID != "" {
		where = append(where, "e.baby_id = ?")
		args = append(args, f.BabyID)
	}
	if f.Type != "" {
		where = append(where, "e.event_type = ?")
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		where = append(where, "e.occurred_at_ms >= ?")
		args = append(args, toMillis(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "e.occurred_at_ms <= ?")
		args = append(args, toMillis(f.To))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countArgs := append([]any{scope.userID}, args...)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events e
		 JOIN family_memberships fm ON fm.family_id = e.family_id AND fm.user_id = ?`+clause,
		countArgs...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	listArgs := append(append([]any{scope.userID}, args...), limit, f.Offset)
	events, err := s.query(ctx,
		eventSelect+clause+` ORDER BY e.occurred_at_ms DESC, e.created_at_ms DESC, e.id ASC LIMIT ? OFFSET ?`,
		listArgs...,
	)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListOccurredBetween returns the baby's events with start <= occurred_at < end,
// oldest first.
func (s *EventStore) ListOccurredBetween(ctx context.Context, scope Scope, babyID string, start, end time.Time) ([]model.Event, error) {
	return s.query(ctx,
		eventSelect+` WHERE e.baby_id = ? AND e.occurred_at_ms >= ? AND e.occurred_at_ms < ?
		 ORDER BY e.occurred_at_ms ASC, e.id ASC`,
		scope.userID, babyID, toMillis(start), toMillis(end),
	)
}

// ListSleepOverlapping returns the baby's sleep sessions that overlap
// [start, end), including ongoing sessions that began before end.
func (s *EventStore) ListSleepOverlapping(ctx context.Context, scope Scope, babyID string, start, end time.Time) ([]model.Event, error) {
	return s.query(ctx,
		eventSelect+` WHERE e.baby_id = ? AND e.event_type = 'sleep'
		   AND sd.start_ms < ? AND (sd.end_ms IS NULL OR sd.end_ms > ?)
		 ORDER BY sd.start_ms ASC, e.id ASC`,
		scope.userID, babyID, toMillis(end), toMillis(start),
	)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Update re-reads the event inside a write transaction and hands it to
// mutate. If mutate reports a change, the whole record and its detail are
// written back. Returns (nil, nil) if the event is not visible in scope.
func (s *EventStore) Update(ctx context.Context, scope Scope, id string, mutate func(*model.Event) (bool, error)) (*model.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	e, err := getEvent(ctx, tx, scope, id)
	if err != nil || e == nil {
		return nil, err
	}
	prevType := e.Type

	changed, err := mutate(e)
	if err != nil {
		return nil, err
	}
	if !changed {
		return e, nil
	}
	if e.Type != prevType || e.Detail.EventType() != prevType {
		return nil, fmt.Errorf("update event %s: type is immutable", id)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE events SET occurred_at_ms = ?, timezone = ?, notes = ?, updated_by = ?, updated_at_ms = ?
		 WHERE id = ?`,
		toMillis(e.OccurredAt), e.Timezone, e.Notes, e.UpdatedBy, toMillis(e.UpdatedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	if err := updateDetail(ctx, tx, id, e.Detail); err != nil {
		return nil, err
	}
	if err := bumpEventsVersion(ctx, tx, e.BabyID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return e, nil
}

// Delete removes the event and its detail row together. Reports false if
// the event was not visible in scope.
func (s *EventStore) Delete(ctx context.Context, scope Scope, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	e, err := getEvent(ctx, tx, scope, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	detailTable := map[model.EventType]string{
		model.EventFeeding: "feeding_details",
		model.EventDiaper:  "diaper_details",
		model.EventSleep:   "sleep_details",
		model.EventPumping: "pumping_details",
	}[e.Type]
	if _, err := tx.ExecContext(ctx, `DELETE FROM `+detailTable+` WHERE event_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete %s detail: %w", e.Type, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete event: %w", err)
	}
	if err := bumpEventsVersion(ctx, tx, e.BabyID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}
