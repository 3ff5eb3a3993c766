package model

import (
	"errors"
	"time"
	_ "time/tzdata"
)

var (
	ErrZoneRequired = errors.New("required")
	ErrUnknownZone  = errors.New("unknown time zone")
)

// LoadZone resolves an IANA zone name. The empty name and "Local" are
// rejected so results never depend on the host's zone.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, ErrZoneRequired
	}
	if name == "Local" {
		return nil, ErrUnknownZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, ErrUnknownZone
	}
	return loc, nil
}
