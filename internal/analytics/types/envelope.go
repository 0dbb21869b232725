package types

import (
	"encoding/json"
	"time"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
)

// Envelope is an outbox event as received from Pub/Sub.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}
