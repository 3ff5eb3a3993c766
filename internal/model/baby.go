package model

import "time"

type Baby struct {
	ID        string `json:"id"`
	FamilyID  string `json:"family_id"`
	Name      string `json:"name"`
	BirthDate string `json:"birth_date,omitempty"`
	// Timezone is the default display zone for summaries.
	Timezone string `json:"timezone"`
	// EventsVersion increases with every committed write to this baby's
	// events. Summary caches key on it.
	EventsVersion int64     `json:"-"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
