package router

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/types"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
)

var errStoreMissing = errors.New("store id missing")

func orderCreatedRow(row *types.OrderEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderCreatedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_created")
	}
	if event.StoreID == uuid.Nil {
		return fmt.Errorf("order_created: %w", errStoreMissing)
	}
	row.StoreID = event.StoreID.String()
	row.OrderID = uuidPtr(event.OrderID)
	row.OrderNumber = int64Ptr(event.OrderNumber)
	row.Channel = stringPtr(string(event.Channel))
	row.Epoch = int64Ptr(event.Epoch)
	row.ToStatus = stringPtr(string(event.Status))
	row.AmountYen = int64Ptr(event.TotalPrice)
	row.ItemCount = int64Ptr(event.ItemCount)
	row.EventName = event.EventName
	return nil
}

func statusChangedRow(row *types.OrderEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderStatusChangedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_status_changed")
	}
	if event.StoreID == uuid.Nil {
		return fmt.Errorf("order_status_changed: %w", errStoreMissing)
	}
	row.StoreID = event.StoreID.String()
	row.OrderID = uuidPtr(event.OrderID)
	row.OrderNumber = int64Ptr(event.OrderNumber)
	row.FromStatus = stringPtr(string(event.From))
	row.ToStatus = stringPtr(string(event.To))
	row.Source = stringPtr(event.Source)
	return nil
}

func orderPaidRow(row *types.OrderEventRow, payload any) error {
	event, ok := payload.(*payloads.OrderPaidEvent)
	if !ok {
		return fmt.Errorf("invalid payload for order_paid")
	}
	if event.StoreID == uuid.Nil {
		return fmt.Errorf("order_paid: %w", errStoreMissing)
	}
	row.StoreID = event.StoreID.String()
	row.OrderID = uuidPtr(event.OrderID)
	row.OrderNumber = int64Ptr(event.OrderNumber)
	row.AmountYen = int64Ptr(event.Amount)
	row.Provider = stringPtr(string(event.Provider))
	if !event.PaidAt.IsZero() {
		row.OccurredAt = event.PaidAt.UTC()
	}
	return nil
}

// periodResetRow stores the number of force-completed orders in item_count.
func periodResetRow(row *types.OrderEventRow, payload any) error {
	event, ok := payload.(*payloads.PeriodResetEvent)
	if !ok {
		return fmt.Errorf("invalid payload for period_reset")
	}
	if event.StoreID == uuid.Nil {
		return fmt.Errorf("period_reset: %w", errStoreMissing)
	}
	row.StoreID = event.StoreID.String()
	row.Epoch = int64Ptr(event.Epoch)
	row.ItemCount = int64Ptr(int64(len(event.CompletedOrders)))
	return nil
}

func uuidPtr(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	s := id.String()
	return &s
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64Ptr(v int64) *int64 {
	return &v
}
