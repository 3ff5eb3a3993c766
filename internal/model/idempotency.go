package model

import "time"

// IdempotencyRecord remembers the outcome of the first successful create
// carrying a token. Records are never mutated; they expire.
type IdempotencyRecord struct {
	FamilyID    string
	Token       string
	RequestHash string
	EventID     string
	// Response is the serialized Event returned by the original request.
	Response  []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}
