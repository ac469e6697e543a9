package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/emperorhan/rwa-custody/internal/domain/model"
	"github.com/google/uuid"
)

// Envelope is the durable form of an Event. Sequence is assigned by the store
// at commit and is monotonic per store.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Sequence   int64           `json:"sequence"`
	Asset      model.Address   `json:"asset"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func NewEnvelope(asset model.Address, ev Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", ev.EventType(), err)
	}
	return Envelope{
		ID:         uuid.New(),
		Asset:      asset,
		Type:       ev.EventType(),
		Payload:    payload,
		OccurredAt: at.UTC(),
	}, nil
}

// String renders the envelope as JSON so it can be published as a stream payload.
func (e Envelope) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(b)
}
