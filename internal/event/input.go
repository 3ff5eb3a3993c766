package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/model"
)

// CreateInput is the body of a create request. OccurredAt and the sleep
// Start/End accept RFC3339 with an offset, or a local wall-clock time that
// is read in Timezone.
type CreateInput struct {
	Type       model.EventType `json:"type"`
	OccurredAt string          `json:"occurred_at"`
	Timezone   string          `json:"timezone"`
	Notes      string          `json:"notes"`
	Detail     DetailInput     `json:"detail"`
}

// Patch is a partial update. Nil fields keep their current value.
type Patch struct {
	Type       *model.EventType `json:"type"`
	OccurredAt *string          `json:"occurred_at"`
	Timezone   *string          `json:"timezone"`
	Notes      *string          `json:"notes"`
	Detail     *DetailInput     `json:"detail"`
}

// DetailInput carries the union of every detail field. Only the fields of
// the event's own type may be set.
type DetailInput struct {
	// feeding, pumping
	Side        *model.Side `json:"side"`
	DurationMin *int        `json:"duration_min"`

	// feeding
	Method   *model.FeedingMethod `json:"method"`
	AmountML *int                 `json:"amount_ml"`

	// diaper
	Wet         *bool   `json:"wet"`
	Dirty       *bool   `json:"dirty"`
	Color       *string `json:"color"`
	Consistency *string `json:"consistency"`

	// sleep
	Start   *string             `json:"start"`
	End     *string             `json:"end"`
	Ongoing *bool               `json:"ongoing"`
	Quality *model.SleepQuality `json:"quality"`

	// pumping
	VolumeML *int `json:"volume_ml"`
}

func (in DetailInput) setFields() map[string]bool {
	set := map[string]bool{
		"side":         in.Side != nil,
		"duration_min": in.DurationMin != nil,
		"method":       in.Method != nil,
		"amount_ml":    in.AmountML != nil,
		"wet":          in.Wet != nil,
		"dirty":        in.Dirty != nil,
		"color":        in.Color != nil,
		"consistency":  in.Consistency != nil,
		"start":        in.Start != nil,
		"end":          in.End != nil,
		"ongoing":      in.Ongoing != nil,
		"quality":      in.Quality != nil,
		"volume_ml":    in.VolumeML != nil,
	}
	for k, v := range set {
		if !v {
			delete(set, k)
		}
	}
	return set
}

var detailFields = map[model.EventType]map[string]bool{
	model.EventFeeding: {"method": true, "amount_ml": true, "side": true, "duration_min": true},
	model.EventDiaper:  {"wet": true, "dirty": true, "color": true, "consistency": true},
	model.EventSleep:   {"start": true, "end": true, "ongoing": true, "quality": true},
	model.EventPumping: {"side": true, "volume_ml": true, "duration_min": true},
}

// rejectForeignFields flags detail fields that do not belong to t.
func (in DetailInput) rejectForeignFields(t model.EventType, fields apperr.Fields) {
	allowed := detailFields[t]
	for name := range in.setFields() {
		if !allowed[name] {
			fields.Add("detail."+name, fmt.Sprintf("not allowed for %s events", t))
		}
	}
}

// emptyDetail is the starting point a create request's fields are applied to.
func emptyDetail(t model.EventType) model.Detail {
	switch t {
	case model.EventFeeding:
		return model.FeedingDetail{}
	case model.EventDiaper:
		return model.DiaperDetail{}
	case model.EventSleep:
		return model.SleepDetail{Quality: model.SleepUnknown}
	case model.EventPumping:
		return model.PumpingDetail{}
	}
	return nil
}

// applyDetail overlays the set fields of in onto base. Sleep start and
// end are parsed in loc. The sleep start is reconciled with the event's
// occurred-at by the caller.
func applyDetail(base model.Detail, in DetailInput, loc *time.Location, fields apperr.Fields) model.Detail {
	switch d := base.(type) {
	case model.FeedingDetail:
		if in.Method != nil {
			d.Method = *in.Method
		}
		if in.AmountML != nil {
			d.AmountML = in.AmountML
		}
		if in.Side != nil {
			d.Side = *in.Side
		}
		if in.DurationMin != nil {
			d.DurationMin = in.DurationMin
		}
		return d
	case model.DiaperDetail:
		if in.Wet != nil {
			d.Wet = *in.Wet
		}
		if in.Dirty != nil {
			d.Dirty = *in.Dirty
		}
		if in.Color != nil {
			d.Color = *in.Color
		}
		if in.Consistency != nil {
			d.Consistency = *in.Consistency
		}
		return d
	case model.SleepDetail:
		if in.End != nil && in.Ongoing != nil && *in.Ongoing {
			fields.Add("detail.end", "cannot be set on an ongoing session")
		}
		if in.End != nil {
			end, err := parseInstant(*in.End, loc)
			if err != nil {
				fields.Add("detail.end", err.Error())
			} else {
				d.End = &end
				d.Ongoing = false
			}
		} else if in.Ongoing != nil {
			d.Ongoing = *in.Ongoing
			if d.Ongoing {
				d.End = nil
			}
		}
		if in.Quality != nil {
			d.Quality = *in.Quality
		}
		return d
	case model.PumpingDetail:
		if in.Side != nil {
			d.Side = *in.Side
		}
		if in.VolumeML != nil {
			d.VolumeML = *in.VolumeML
		}
		if in.DurationMin != nil {
			d.DurationMin = in.DurationMin
		}
		return d
	}
	return base
}

// resolveSleepStart reconciles an explicit detail.start with the event's
// occurred-at. The two are one instant; giving both with different values
// is an error. It returns the occurred-at to use.
func resolveSleepStart(in DetailInput, occurredAt time.Time, haveOccurred bool, loc *time.Location, fields apperr.Fields) time.Time {
	if in.Start == nil {
		return occurredAt
	}
	start, err := parseInstant(*in.Start, loc)
	if err != nil {
		fields.Add("detail.start", err.Error())
		return occurredAt
	}
	if haveOccurred && !start.Equal(occurredAt) {
		fields.Add("detail.start", "must equal occurred_at")
		return occurredAt
	}
	return start
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var errBadInstant = errors.New("must be RFC3339 or local YYYY-MM-DDTHH:MM[:SS]")

// parseInstant reads s as an absolute instant. Strings without an offset
// are wall-clock times in loc. The result is UTC at millisecond precision,
// the precision instants are stored at.
func parseInstant(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC().Truncate(time.Millisecond), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC().Truncate(time.Millisecond), nil
		}
	}
	return time.Time{}, errBadInstant
}
