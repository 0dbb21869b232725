package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actor kinds recorded on events.
const (
	ActorStaff    = "staff"
	ActorCustomer = "customer"
	ActorProvider = "provider"
	ActorSystem   = "system"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Kind    string     `json:"kind"`
	UserID  *uuid.UUID `json:"userId,omitempty"`
	StoreID *uuid.UUID `json:"storeId,omitempty"`
	Ref     string     `json:"ref,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
