package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the order_events table. Columns that do not apply to
// an event type stay NULL.
type OrderEventRow struct {
	EventID     string             `bigquery:"event_id"`
	EventType   string             `bigquery:"event_type"`
	OccurredAt  time.Time          `bigquery:"occurred_at"`
	StoreID     string             `bigquery:"store_id"`
	OrderID     *string            `bigquery:"order_id"`
	OrderNumber *int64             `bigquery:"order_number"`
	Channel     *string            `bigquery:"channel"`
	Epoch       *int64             `bigquery:"epoch"`
	FromStatus  *string            `bigquery:"from_status"`
	ToStatus    *string            `bigquery:"to_status"`
	Source      *string            `bigquery:"source"`
	AmountYen   *int64             `bigquery:"amount_yen"`
	ItemCount   *int64             `bigquery:"item_count"`
	Provider    *string            `bigquery:"provider"`
	EventName   *string            `bigquery:"event_name"`
	Payload     cbigquery.NullJSON `bigquery:"payload"`
}

// InsertID keys streaming inserts on the outbox event id.
func (r OrderEventRow) InsertID() string { return r.EventID }
