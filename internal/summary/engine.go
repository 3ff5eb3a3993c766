// Package summary computes per-day rollups of a baby's events in a chosen
// time zone.
package summary

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/authz"
	"github.com/dukerupert/babylog/internal/metrics"
	"github.com/dukerupert/babylog/internal/model"
	"github.com/dukerupert/babylog/internal/store"
)

const (
	dateLayout = "2006-01-02"

	// MaxRangeDays bounds a range request.
	MaxRangeDays = 92

	rangeWorkers = 4
)

type Engine struct {
	kernel  *authz.Kernel
	events  *store.EventStore
	cache   Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Engine)

// WithCache enables summary caching. Without it every request reads
// storage.
func WithCache(c Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(kernel *authz.Kernel, events *store.EventStore, opts ...Option) *Engine {
	e := &Engine{
		kernel: kernel,
		events: events,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "summary")
	return e
}

// Daily summarizes one local calendar day. zone overrides the baby's
// configured time zone when non-empty.
func (e *Engine) Daily(ctx context.Context, actorID int64, babyID, date, zone string) (*model.DailySummary, error) {
	baby, _, err := e.kernel.RequireBabyAccess(ctx, actorID, babyID)
	if err != nil {
		return nil, err
	}
	loc, err := resolveZone(baby, zone)
	if err != nil {
		return nil, err
	}
	day, err := parseDate("date", date)
	if err != nil {
		return nil, err
	}
	return e.daily(ctx, e.kernel.ScopedEventQuery(actorID), baby, DayWindow(day, loc))
}

// Range summarizes every day from from to to inclusive, in ascending order.
// Each element equals the Daily result for that date.
func (e *Engine) Range(ctx context.Context, actorID int64, babyID, from, to, zone string) ([]model.DailySummary, error) {
	baby, _, err := e.kernel.RequireBabyAccess(ctx, actorID, babyID)
	if err != nil {
		return nil, err
	}
	loc, err := resolveZone(baby, zone)
	if err != nil {
		return nil, err
	}
	first, err := parseDate("from", from)
	if err != nil {
		return nil, err
	}
	last, err := parseDate("to", to)
	if err != nil {
		return nil, err
	}
	if first.After(last) {
		return nil, apperr.ValidationField("from", "must not be after to")
	}
	days := int(last.Sub(first).Hours()/24) + 1
	if days > MaxRangeDays {
		return nil, apperr.ValidationField("to", "range must not exceed 92 days")
	}

	scope := e.kernel.ScopedEventQuery(actorID)
	out := make([]model.DailySummary, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rangeWorkers)
	for i := 0; i < days; i++ {
		w := DayWindow(first.AddDate(0, 0, i), loc)
		g.Go(func() error {
			s, err := e.daily(gctx, scope, baby, w)
			if err != nil {
				return err
			}
			out[i] = *s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) daily(ctx context.Context, scope store.Scope, baby *model.Baby, w Window) (*model.DailySummary, error) {
	key := cacheKey(baby.ID, baby.EventsVersion, w)
	if e.cache != nil {
		cached, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.Warn("summary cache get failed", "key", key, "error", err)
		}
		e.metrics.SummaryCacheLookup(ok)
		if ok {
			return cached, nil
		}
	}

	started := time.Now()
	occurred, err := e.events.ListOccurredBetween(ctx, scope, baby.ID, w.Start, w.End)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	sleeps, err := e.events.ListSleepOverlapping(ctx, scope, baby.ID, w.Start, w.End)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	s, volatile := Reduce(w, occurred, sleeps, e.now().UTC())
	e.metrics.SummaryComputed(time.Since(started))

	// A day with a session still running changes as time passes.
	if e.cache != nil && !volatile {
		if err := e.cache.Set(ctx, key, &s); err != nil {
			e.logger.Warn("summary cache set failed", "key", key, "error", err)
		}
	}
	return &s, nil
}

func resolveZone(baby *model.Baby, zone string) (*time.Location, error) {
	if zone == "" {
		zone = baby.Timezone
	}
	loc, err := model.LoadZone(zone)
	if err != nil {
		return nil, apperr.ValidationField("tz", err.Error())
	}
	return loc, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, apperr.ValidationField(field, "required")
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, apperr.ValidationField(field, "must be YYYY-MM-DD")
	}
	return d, nil
}
