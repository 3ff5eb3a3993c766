package event

import (
	"time"
	"unicode/utf8"

	"github.com/dukerupert/babylog/internal/apperr"
	"github.com/dukerupert/babylog/internal/model"
)

const (
	maxNotesLen = 2000
	maxLabelLen = 64
	maxTokenLen = 128
)

func validateNotes(notes string, fields apperr.Fields) {
	if utf8.RuneCountInString(notes) > maxNotesLen {
		fields.Add("notes", "must be at most 2000 characters")
	}
}

func validateNonNegative(field string, v *int, fields apperr.Fields) {
	if v != nil && *v < 0 {
		fields.Add(field, "must not be negative")
	}
}

// validateDetail checks a fully merged detail against its type's schema.
// Sleep sessions start at occurredAt.
func validateDetail(d model.Detail, occurredAt time.Time, fields apperr.Fields) {
	switch d := d.(type) {
	case model.FeedingDetail:
		switch {
		case d.Method == "":
			fields.Add("detail.method", "required")
		case !d.Method.Valid():
			fields.Add("detail.method", "must be one of breast, bottle, formula, solids, other")
		}
		if d.Side != "" && !d.Side.Valid() {
			fields.Add("detail.side", "must be one of left, right, both")
		}
		validateNonNegative("detail.amount_ml", d.AmountML, fields)
		validateNonNegative("detail.duration_min", d.DurationMin, fields)
	case model.DiaperDetail:
		if utf8.RuneCountInString(d.Color) > maxLabelLen {
			fields.Add("detail.color", "must be at most 64 characters")
		}
		if utf8.RuneCountInString(d.Consistency) > maxLabelLen {
			fields.Add("detail.consistency", "must be at most 64 characters")
		}
	case model.SleepDetail:
		if !d.Start.Equal(occurredAt) {
			fields.Add("detail.start", "must equal occurred_at")
		}
		switch {
		case d.End == nil && !d.Ongoing:
			fields.Add("detail.end", "required unless the session is ongoing")
		case d.End != nil && d.Ongoing:
			fields.Add("detail.end", "cannot be set on an ongoing session")
		case d.End != nil && !d.End.After(d.Start):
			fields.Add("detail.end", "must be after start")
		}
		if !d.Quality.Valid() {
			fields.Add("detail.quality", "must be one of good, ok, rough, unknown")
		}
	case model.PumpingDetail:
		switch {
		case d.Side == "":
			fields.Add("detail.side", "required")
		case !d.Side.Valid():
			fields.Add("detail.side", "must be one of left, right, both")
		}
		if d.VolumeML < 0 {
			fields.Add("detail.volume_ml", "must not be negative")
		}
		validateNonNegative("detail.duration_min", d.DurationMin, fields)
	}
}

func validateToken(token string) error {
	if utf8.RuneCountInString(token) > maxTokenLen {
		return apperr.ValidationField("idempotency_key", "must be at most 128 characters")
	}
	for _, r := range token {
		if r < 0x21 || r > 0x7e {
			return apperr.ValidationField("idempotency_key", "must be printable ASCII without spaces")
		}
	}
	return nil
}
