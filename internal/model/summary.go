package model

import "time"

// DailySummary aggregates one baby's events over one local calendar day.
type DailySummary struct {
	Date     string         `json:"date"`
	Timezone string         `json:"timezone"`
	Start    time.Time      `json:"start"`
	End      time.Time      `json:"end"`
	Total    int            `json:"total"`
	Feeding  FeedingSummary `json:"feeding"`
	Diaper   DiaperSummary  `json:"diaper"`
	Sleep    SleepSummary   `json:"sleep"`
	Pumping  PumpingSummary `json:"pumping"`
}

type FeedingSummary struct {
	Count            int                   `json:"count"`
	AmountMLByMethod map[FeedingMethod]int `json:"amount_ml_by_method"`
	TotalDurationMin int                   `json:"total_duration_min"`
}

// DiaperSummary counts wet and dirty independently; a mixed diaper adds to
// both.
type DiaperSummary struct {
	Count int `json:"count"`
	Wet   int `json:"wet"`
	Dirty int `json:"dirty"`
}

type SleepSummary struct {
	// Sessions counts sessions that start inside the day.
	Sessions int `json:"sessions"`
	// TotalSeconds sums every session's overlap with the day.
	TotalSeconds int64 `json:"total_seconds"`
}

type PumpingSummary struct {
	Count          int          `json:"count"`
	VolumeMLBySide map[Side]int `json:"volume_ml_by_side"`
}
