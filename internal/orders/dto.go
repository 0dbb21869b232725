package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/pagination"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

// OrderView is the wire shape shared by the dashboard, the customer status
// page and the real-time feed.
type OrderView struct {
	ID            uuid.UUID            `json:"id"`
	StoreID       uuid.UUID            `json:"storeId"`
	OrderNumber   int64                `json:"orderNumber"`
	Channel       enums.OrderChannel   `json:"channel"`
	Items         types.OrderLineItems `json:"items"`
	TotalPrice    int64                `json:"totalPrice"`
	Status        enums.OrderStatus    `json:"status"`
	DisplayStatus enums.OrderStatus    `json:"displayStatus"`
	CustomerRef   *string              `json:"customerRef,omitempty"`
	EventName     *string              `json:"eventName,omitempty"`
	PaidAt        *time.Time           `json:"paidAt,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func NewOrderView(order models.Order) OrderView {
	return OrderView{
		ID:            order.ID,
		StoreID:       order.StoreID,
		OrderNumber:   order.OrderNumber,
		Channel:       order.Channel,
		Items:         order.Items,
		TotalPrice:    order.TotalPrice,
		Status:        order.Status,
		DisplayStatus: order.Status.Canonical(),
		CustomerRef:   order.CustomerRef,
		EventName:     order.EventName,
		PaidAt:        order.PaidAt,
		CreatedAt:     order.CreatedAt,
		UpdatedAt:     order.UpdatedAt,
	}
}

// ChangeStatusInput carries a staff status command.
type ChangeStatusInput struct {
	OrderID     uuid.UUID
	StoreID     uuid.UUID
	Status      enums.OrderStatus
	ActorUserID *uuid.UUID
}

// CaptureInput describes a confirmed external payment.
type CaptureInput struct {
	OrderID     uuid.UUID
	Provider    enums.PaymentProvider
	ProviderRef string
	EventID     string
	Amount      int64
	Currency    string
}

// MarkPaidResult reports what a reconciliation did. Capture is the capture on
// file for the order after the call.
type MarkPaidResult struct {
	Order           *models.Order
	Capture         *models.PaymentCapture
	Changed         bool
	CaptureRecorded bool
	// Terminal is set when a new payment reached an order that was already
	// cancelled or completed. The money needs a manual refund or review.
	Terminal bool
	// ConflictingCapture is set when the order already holds a capture with a
	// different provider reference.
	ConflictingCapture bool
}

// SalesSummary aggregates a store's orders, optionally for one event.
type SalesSummary struct {
	StoreID           uuid.UUID                   `json:"storeId"`
	EventName         *string                     `json:"eventName,omitempty"`
	TotalOrders       int64                       `json:"totalOrders"`
	SettledOrders     int64                       `json:"settledOrders"`
	Revenue           int64                       `json:"revenue"`
	AverageOrderValue decimal.Decimal             `json:"averageOrderValue"`
	ByStatus          map[enums.OrderStatus]int64 `json:"byStatus"`
}

// HistoryParams pages through every order of a store, optionally one event's.
type HistoryParams struct {
	pagination.Params
	EventName *string
}

// HistoryPage is one page of order history; Cursor is empty on the last page.
type HistoryPage struct {
	Items  []OrderView `json:"items"`
	Cursor string      `json:"cursor,omitempty"`
}
