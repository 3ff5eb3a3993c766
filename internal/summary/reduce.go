package summary

import (
	"time"

	"github.com/dukerupert/babylog/internal/model"
)

// Window is one local calendar day as a half-open UTC interval.
type Window struct {
	Date     string
	Timezone string
	Start    time.Time
	End      time.Time
}

// DayWindow converts a calendar date in loc to [local midnight, next local
// midnight). The day may be 23 or 25 hours long across a DST change.
func DayWindow(day time.Time, loc *time.Location) Window {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return Window{
		Date:     start.Format(dateLayout),
		Timezone: loc.String(),
		Start:    start.UTC(),
		End:      end.UTC(),
	}
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Reduce folds a day's events into its summary. occurred holds the events
// whose occurred-at lies in the window; sleeps holds every sleep session
// overlapping it, including ones that started the day before. Ongoing
// sessions are treated as ending at now. The second result reports whether
// the summary depends on now.
func Reduce(w Window, occurred, sleeps []model.Event, now time.Time) (model.DailySummary, bool) {
	s := model.DailySummary{
		Date:     w.Date,
		Timezone: w.Timezone,
		Start:    w.Start,
		End:      w.End,
		Feeding:  model.FeedingSummary{AmountMLByMethod: map[model.FeedingMethod]int{}},
		Pumping:  model.PumpingSummary{VolumeMLBySide: map[model.Side]int{}},
	}

	for _, e := range occurred {
		if !w.contains(e.OccurredAt) {
			continue
		}
		s.Total++
		switch d := e.Detail.(type) {
		case model.FeedingDetail:
			s.Feeding.Count++
			if d.AmountML != nil {
				s.Feeding.AmountMLByMethod[d.Method] += *d.AmountML
			}
			if d.DurationMin != nil {
				s.Feeding.TotalDurationMin += *d.DurationMin
			}
		case model.DiaperDetail:
			s.Diaper.Count++
			if d.Wet {
				s.Diaper.Wet++
			}
			if d.Dirty {
				s.Diaper.Dirty++
			}
		case model.PumpingDetail:
			s.Pumping.Count++
			s.Pumping.VolumeMLBySide[d.Side] += d.VolumeML
		}
	}

	volatile := false
	for _, e := range sleeps {
		d, ok := e.Detail.(model.SleepDetail)
		if !ok {
			continue
		}
		if w.contains(d.Start) {
			s.Sleep.Sessions++
		}
		end := w.End
		if d.End != nil {
			end = *d.End
		} else if now.Before(w.End) {
			end = now
			volatile = true
		}
		s.Sleep.TotalSeconds += int64(clip(d.Start, end, w).Seconds())
	}
	return s, volatile
}

// clip returns the length of [start, end) that lies inside w.
func clip(start, end time.Time, w Window) time.Duration {
	if start.Before(w.Start) {
		start = w.Start
	}
	if end.After(w.End) {
		end = w.End
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
