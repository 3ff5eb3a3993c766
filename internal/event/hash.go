package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/dukerupert/babylog/internal/model"
)

// hashedRequest is the normalized form of a create request: instants are
// resolved to UTC milliseconds, the zone is resolved, and the detail is the
// validated variant. Two requests that would create the same event hash
// equal regardless of how their instants were spelled.
type hashedRequest struct {
	BabyID     string          `json:"baby_id"`
	Type       model.EventType `json:"type"`
	OccurredAt int64           `json:"occurred_at_ms"`
	Timezone   string          `json:"timezone"`
	Notes      string          `json:"notes"`
	Detail     model.Detail    `json:"detail"`
}

func requestHash(e *model.Event) (string, error) {
	b, err := json.Marshal(hashedRequest{
		BabyID:     e.BabyID,
		Type:       e.Type,
		OccurredAt: e.OccurredAt.UnixMilli(),
		Timezone:   e.Timezone,
		Notes:      e.Notes,
		Detail:     e.Detail,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
