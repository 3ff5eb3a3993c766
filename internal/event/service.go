// Package event orchestrates event writes: authorization, validation,
// idempotent replay, and atomic persistence.
package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/authz"
	"github.com/dukerupert/babylog/internal/metrics"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/store"
)

const (
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultPageSize       = 25
	MaxPageSize           = 100
)

type Service struct {
	kernel         *authz.Kernel
	events         *store.EventStore
	idempotency    *store.IdempotencyStore
	metrics        *metrics.Metrics
	logger         *slog.Logger
	idempotencyTTL time.Duration
	now            func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithIdempotencyTTL sets how long a create's idempotency record is honored.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idempotencyTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(kernel *authz.Kernel, events *store.EventStore, idempotency *store.IdempotencyStore, opts ...Option) *Service {
	s := &Service{
		kernel:         kernel,
		events:         events,
		idempotency:    idempotency,
		logger:         slog.Default(),
		idempotencyTTL: DefaultIdempotencyTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "event")
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// Create logs a new event for babyID. With a non-empty token, a retry
// carrying the same request returns the originally created event and
// writes nothing; the same token with a different request is a Conflict.
func (s *Service) Create(ctx context.Context, actorID int64, babyID string, in CreateInput, token string) (*model.Event, error) {
	baby, _, err := s.kernel.RequireBabyAccess(ctx, actorID, babyID)
	if err != nil {
		return nil, err
	}
	if _, err := s.kernel.RequireWrite(ctx, actorID, baby.FamilyID); err != nil {
		return nil, err
	}
	if token != "" {
		if err := validateToken(token); err != nil {
			return nil, err
		}
	}

	e, err := s.buildEvent(baby, in)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	e.ID = uuid.NewString()
	e.CreatedBy, e.UpdatedBy = actorID, actorID
	e.CreatedAt, e.UpdatedAt = now, now

	if token == "" {
		if err := s.events.Create(ctx, e, nil); err != nil {
			return nil, apperr.Internal(err)
		}
		s.created(e)
		return e, nil
	}

	hash, err := requestHash(e)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if prior, err := s.replay(ctx, baby.FamilyID, token, hash, now); prior != nil || err != nil {
		return prior, err
	}

	response, err := json.Marshal(e)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("marshal event: %w", err))
	}
	claim := &model.IdempotencyRecord{
		FamilyID:    baby.FamilyID,
		Token:       token,
		RequestHash: hash,
		EventID:     e.ID,
		Response:    response,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.idempotencyTTL),
	}
	err = s.events.Create(ctx, e, claim)
	if errors.Is(err, store.ErrIdempotencyKeyTaken) {
		// Another request committed first under this key.
		prior, err := s.replay(ctx, baby.FamilyID, token, hash, now)
		if err != nil {
			return nil, err
		}
		if prior == nil {
			return nil, apperr.Conflict("idempotency key is in use")
		}
		return prior, nil
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s.metrics.IdempotencyOutcome(metrics.IdempotencyStored)
	s.created(e)
	return e, nil
}

// replay returns the stored result for a live (family, token) record whose
// hash matches, Conflict if the hash differs, or (nil, nil) if there is no
// live record.
func (s *Service) replay(ctx context.Context, familyID, token, hash string, now time.Time) (*model.Event, error) {
	rec, err := s.idempotency.Get(ctx, familyID, token, now)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if rec == nil {
		return nil, nil
	}
	if rec.RequestHash != hash {
		s.metrics.IdempotencyOutcome(metrics.IdempotencyConflict)
		return nil, apperr.Conflict("idempotency key was already used with a different request")
	}
	var prior model.Event
	if err := json.Unmarshal(rec.Response, &prior); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decode stored response for %s: %w", rec.EventID, err))
	}
	s.metrics.IdempotencyOutcome(metrics.IdempotencyReplayed)
	s.logger.Debug("idempotent replay", "family_id", familyID, "event_id", rec.EventID)
	return &prior, nil
}

func (s *Service) created(e *model.Event) {
	s.metrics.EventWritten("create", string(e.Type))
	s.logger.Info("event created", "event_id", e.ID, "baby_id", e.BabyID, "type", e.Type, "actor", e.CreatedBy)
}

// buildEvent validates a create request and produces the event it
// describes, without identity or timestamps.
func (s *Service) buildEvent(baby *model.Baby, in CreateInput) (*model.Event, error) {
	fields := apperr.Fields{}

	if !in.Type.Valid() {
		if in.Type == "" {
			fields.Add("type", "required")
		} else {
			fields.Add("type", "must be one of feeding, diaper, sleep, pumping")
		}
		return nil, apperr.Validation(fields)
	}

	zone := in.Timezone
	if zone == "" {
		zone = baby.Timezone
	}
	loc, err := model.LoadZone(zone)
	if err != nil {
		fields.Add("timezone", err.Error())
		return nil, apperr.Validation(fields)
	}

	var occurredAt time.Time
	haveOccurred := in.OccurredAt != ""
	if haveOccurred {
		occurredAt, err = parseInstant(in.OccurredAt, loc)
		if err != nil {
			fields.Add("occurred_at", err.Error())
		}
	}

	in.Detail.rejectForeignFields(in.Type, fields)
	if in.Type == model.EventSleep {
		occurredAt = resolveSleepStart(in.Detail, occurredAt, haveOccurred, loc, fields)
		haveOccurred = haveOccurred || in.Detail.Start != nil
	}
	if !haveOccurred {
		fields.Add("occurred_at", "required")
	}
	if in.Type == model.EventPumping && in.Detail.VolumeML == nil {
		fields.Add("detail.volume_ml", "required")
	}

	detail := applyDetail(emptyDetail(in.Type), in.Detail, loc, fields)
	if sd, ok := detail.(model.SleepDetail); ok {
		sd.Start = occurredAt
		detail = sd
	}
	validateNotes(in.Notes, fields)
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	validateDetail(detail, occurredAt, fields)
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}

	return &model.Event{
		FamilyID:   baby.FamilyID,
		BabyID:     baby.ID,
		Type:       in.Type,
		OccurredAt: occurredAt,
		Timezone:   zone,
		Notes:      in.Notes,
		Detail:     detail,
	}, nil
}

// Get returns one event visible to actorID.
func (s *Service) Get(ctx context.Context, actorID int64, eventID string) (*model.Event, error) {
	e, err := s.events.Get(ctx, s.kernel.ScopedEventQuery(actorID), eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if e == nil {
		return nil, apperr.NotFound("event not found")
	}
	return e, nil
}

// ListFilter narrows List. From and To bound occurred-at inclusively.
type ListFilter struct {
	Type   model.EventType
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

type Page struct {
	Events []model.Event
	Total  int
	Limit  int
	Offset int
}

func (p Page) HasMore() bool {
	return p.Offset+len(p.Events) < p.Total
}

// List returns one page of a baby's events, newest first.
func (s *Service) List(ctx context.Context, actorID int64, babyID string, f ListFilter) (*Page, error) {
	baby, _, err := s.kernel.RequireBabyAccess(ctx, actorID, babyID)
	if err != nil {
		return nil, err
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, apperr.ValidationField("type", "must be one of feeding, diaper, sleep, pumping")
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, apperr.ValidationField("from", "must not be after to")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultPageSize
	case f.Limit > MaxPageSize:
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	events, total, err := s.events.List(ctx, s.kernel.ScopedEventQuery(actorID), store.EventFilter{
		BabyID: baby.ID,
		Type:   f.Type,
		From:   f.From,
		To:     f.To,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return &Page{Events: events, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// Update merges p onto the current event inside one write transaction. The
// type cannot change. A patch that leaves the event as it is writes
// nothing and returns the event unchanged.
func (s *Service) Update(ctx context.Context, actorID int64, eventID string, p Patch) (*model.Event, error) {
	scope := s.kernel.ScopedEventQuery(actorID)
	current, err := s.events.Get(ctx, scope, eventID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if current == nil {
		return nil, apperr.NotFound("event not found")
	}
	if _, err := s.kernel.RequireWrite(ctx, actorID, current.FamilyID); err != nil {
		return nil, err
	}
	if p.Type != nil && *p.Type != current.Type {
		return nil, apperr.ValidationField("type", "cannot be changed; delete the event and create a new one")
	}

	var changed bool
	updated, err := s.events.Update(ctx, scope, eventID, func(e *model.Event) (bool, error) {
		next, err := mergePatch(e, p)
		if err != nil {
			return false, err
		}
		if sameContent(e, next) {
			return false, nil
		}
		next.UpdatedBy = actorID
		next.UpdatedAt = s.clock()
		*e = *next
		changed = true
		return true, nil
	})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if updated == nil {
		return nil, apperr.NotFound("event not found")
	}
	if changed {
		s.metrics.EventWritten("update", string(updated.Type))
		s.logger.Info("event updated", "event_id", updated.ID, "baby_id", updated.BabyID, "actor", actorID)
	}
	return updated, nil
}

// mergePatch applies p to a copy of cur and validates the result.
func mergePatch(cur *model.Event, p Patch) (*model.Event, error) {
	fields := apperr.Fields{}
	next := *cur

	if p.Timezone != nil {
		next.Timezone = *p.Timezone
	}
	loc, err := model.LoadZone(next.Timezone)
	if err != nil {
		fields.Add("timezone", err.Error())
		return nil, apperr.Validation(fields)
	}

	haveOccurred := p.OccurredAt != nil
	if haveOccurred {
		at, err := parseInstant(*p.OccurredAt, loc)
		if err != nil {
			fields.Add("occurred_at", err.Error())
		} else {
			next.OccurredAt = at
		}
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
		validateNotes(next.Notes, fields)
	}

	if p.Detail != nil {
		p.Detail.rejectForeignFields(cur.Type, fields)
		if cur.Type == model.EventSleep {
			next.OccurredAt = resolveSleepStart(*p.Detail, next.OccurredAt, haveOccurred, loc, fields)
		}
		next.Detail = applyDetail(cur.Detail, *p.Detail, loc, fields)
	}
	if sd, ok := next.Detail.(model.SleepDetail); ok {
		sd.Start = next.OccurredAt
		next.Detail = sd
	}
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	validateDetail(next.Detail, next.OccurredAt, fields)
	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	return &next, nil
}

func sameContent(a, b *model.Event) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) || a.Timezone != b.Timezone || a.Notes != b.Notes {
		return false
	}
	da, errA := json.Marshal(a.Detail)
	db, errB := json.Marshal(b.Detail)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}

// Delete removes the event and its detail together.
func (s *Service) Delete(ctx context.Context, actorID int64, eventID string) error {
	scope := s.kernel.ScopedEventQuery(actorID)
	e, err := s.events.Get(ctx, scope, eventID)
	if err != nil {
		return apperr.Internal(err)
	}
	if e == nil {
		return apperr.NotFound("event not found")
	}
	if _, err := s.kernel.RequireWrite(ctx, actorID, e.FamilyID); err != nil {
		return err
	}

	deleted, err := s.events.Delete(ctx, scope, eventID)
	if err != nil {
		return apperr.Internal(err)
	}
	if !deleted {
		return apperr.NotFound("event not found")
	}
	s.metrics.EventWritten("delete", string(e.Type))
	s.logger.Info("event deleted", "event_id", e.ID, "baby_id", e.BabyID, "actor", actorID)
	return nil
}

// SweepExpired deletes idempotency records past their expiry.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.idempotency.DeleteExpired(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	s.metrics.IdempotencySwept(n)
	return n, nil
}
