package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventFeeding EventType = "feeding"
	EventDiaper  EventType = "diaper"
	EventSleep   EventType = "sleep"
	EventPumping EventType = "pumping"
)

// EventTypes lists every event kind in display order.
var EventTypes = []EventType{EventFeeding, EventDiaper, EventSleep, EventPumping}

func (t EventType) Valid() bool {
	switch t {
	case EventFeeding, EventDiaper, EventSleep, EventPumping:
		return true
	}
	return false
}

// Event is one logged caregiving occurrence. Detail always holds the variant
// matching Type.
type Event struct {
	ID         string
	FamilyID   string
	BabyID     string
	Type       EventType
	OccurredAt time.Time
	// Timezone is where the event was logged. Display only.
	Timezone  string
	Notes     string
	Detail    Detail
	CreatedBy int64
	UpdatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Detail is the closed set of per-type event payloads.
type Detail interface {
	EventType() EventType
	isDetail()
}

type FeedingMethod string

const (
	FeedingBreast  FeedingMethod = "breast"
	FeedingBottle  FeedingMethod = "bottle"
	FeedingFormula FeedingMethod = "formula"
	FeedingSolids  FeedingMethod = "solids"
	FeedingOther   FeedingMethod = "other"
)

func (m FeedingMethod) Valid() bool {
	switch m {
	case FeedingBreast, FeedingBottle, FeedingFormula, FeedingSolids, FeedingOther:
		return true
	}
	return false
}

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideBoth  Side = "both"
)

func (s Side) Valid() bool {
	switch s {
	case SideLeft, SideRight, SideBoth:
		return true
	}
	return false
}

type SleepQuality string

const (
	SleepGood    SleepQuality = "good"
	SleepOK      SleepQuality = "ok"
	SleepRough   SleepQuality = "rough"
	SleepUnknown SleepQuality = "unknown"
)

func (q SleepQuality) Valid() bool {
	switch q {
	case SleepGood, SleepOK, SleepRough, SleepUnknown:
		return true
	}
	return false
}

type FeedingDetail struct {
	Method      FeedingMethod `json:"method"`
	AmountML    *int          `json:"amount_ml"`
	Side        Side          `json:"side,omitempty"`
	DurationMin *int          `json:"duration_min"`
}

type DiaperDetail struct {
	Wet         bool   `json:"wet"`
	Dirty       bool   `json:"dirty"`
	Color       string `json:"color,omitempty"`
	Consistency string `json:"consistency,omitempty"`
}

// SleepDetail is one sleep session. Start equals the event's OccurredAt.
// End is nil exactly when the session is ongoing.
type SleepDetail struct {
	Start   time.Time    `json:"start"`
	End     *time.Time   `json:"end"`
	Ongoing bool         `json:"ongoing"`
	Quality SleepQuality `json:"quality"`
}

type PumpingDetail struct {
	Side        Side `json:"side"`
	VolumeML    int  `json:"volume_ml"`
	DurationMin *int `json:"duration_min"`
}

func (FeedingDetail) EventType() EventType { return EventFeeding }
func (DiaperDetail) EventType() EventType  { return EventDiaper }
func (SleepDetail) EventType() EventType   { return EventSleep }
func (PumpingDetail) EventType() EventType { return EventPumping }

func (FeedingDetail) isDetail() {}
func (DiaperDetail) isDetail()  {}
func (SleepDetail) isDetail()   {}
func (PumpingDetail) isDetail() {}

type eventJSON struct {
	ID         string          `json:"id"`
	FamilyID   string          `json:"family_id"`
	BabyID     string          `json:"baby_id"`
	Type       EventType       `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Timezone   string          `json:"timezone"`
	Notes      string          `json:"notes"`
	Detail     json.RawMessage `json:"detail"`
	CreatedBy  int64           `json:"created_by"`
	UpdatedBy  int64           `json:"updated_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return nil, fmt.Errorf("marshal %s detail: %w", e.Type, err)
	}
	return json.Marshal(eventJSON{
		ID:         e.ID,
		FamilyID:   e.FamilyID,
		BabyID:     e.BabyID,
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
		Timezone:   e.Timezone,
		Notes:      e.Notes,
		Detail:     detail,
		CreatedBy:  e.CreatedBy,
		UpdatedBy:  e.UpdatedBy,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	})
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var detail Detail
	switch raw.Type {
	case EventFeeding:
		var d FeedingDetail
		if err := json.Unmarshal(raw.Detail, &d); err != nil {
			return fmt.Errorf("unmarshal feeding detail: %w", err)
		}
		detail = d
	case EventDiaper:
		var d DiaperDetail
		if err := json.Unmarshal(raw.Detail, &d); err != nil {
			return fmt.Errorf("unmarshal diaper detail: %w", err)
		}
		detail = d
	case EventSleep:
		var d SleepDetail
		if err := json.Unmarshal(raw.Detail, &d); err != nil {
			return fmt.Errorf("unmarshal sleep detail: %w", err)
		}
		detail = d
	case EventPumping:
		var d PumpingDetail
		if err := json.Unmarshal(raw.Detail, &d); err != nil {
			return fmt.Errorf("unmarshal pumping detail: %w", err)
		}
		detail = d
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}

	*e = Event{
		ID:         raw.ID,
		FamilyID:   raw.FamilyID,
		BabyID:     raw.BabyID,
		Type:       raw.Type,
		OccurredAt: raw.OccurredAt,
		Timezone:   raw.Timezone,
		Notes:      raw.Notes,
		Detail:     detail,
		CreatedBy:  raw.CreatedBy,
		UpdatedBy:  raw.UpdatedBy,
		CreatedAt:  raw.CreatedAt,
		UpdatedAt:  raw.UpdatedAt,
	}
	return nil
}
