package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event for delivery outside the process (sinks and the
// WebSocket stream).
type Envelope struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	EmittedAt time.Time       `json:"emittedAt"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope serialises event into an envelope with a fresh id.
func NewEnvelope(event Event) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.NewString(),
		Name:      event.Name(),
		EmittedAt: time.Now().UTC(),
		Payload:   payload,
	}, nil
}

// All lists every event name carried by the bus.
func All() []string {
	return []string{NameChainChanged, NameChainAdded, NameChainRemoved, NameNetworkError}
}

// Forward subscribes fn to every event name and returns the subscriptions.
func Forward(b *Bus, fn Handler) []*Subscription {
	subs := make([]*Subscription, 0, len(All()))
	for _, name := range All() {
		subs = append(subs, b.On(name, fn))
	}
	return subs
}
