package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
)

// OrderCreatedEvent is emitted when checkout commits a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID          `json:"orderId"`
	StoreID     uuid.UUID          `json:"storeId"`
	OrderNumber int64              `json:"orderNumber"`
	Channel     enums.OrderChannel `json:"channel"`
	Epoch       int64              `json:"epoch"`
	Status      enums.OrderStatus  `json:"status"`
	TotalPrice  int64              `json:"totalPrice"`
	ItemCount   int64              `json:"itemCount"`
	EventName   *string            `json:"eventName,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// OrderStatusChangedEvent records one applied transition.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID         `json:"orderId"`
	StoreID     uuid.UUID         `json:"storeId"`
	OrderNumber int64             `json:"orderNumber"`
	From        enums.OrderStatus `json:"from"`
	To          enums.OrderStatus `json:"to"`
	Source      string            `json:"source"`
	ChangedAt   time.Time         `json:"changedAt"`
}

// OrderPaidEvent is emitted once per order, when payment is first observed.
type OrderPaidEvent struct {
	OrderID     uuid.UUID             `json:"orderId"`
	StoreID     uuid.UUID             `json:"storeId"`
	OrderNumber int64                 `json:"orderNumber"`
	Provider    enums.PaymentProvider `json:"provider,omitempty"`
	ProviderRef string                `json:"providerRef,omitempty"`
	Amount      int64                 `json:"amount"`
	PaidAt      time.Time             `json:"paidAt"`
}

// PeriodResetEvent summarises an end-of-period reset.
type PeriodResetEvent struct {
	StoreID         uuid.UUID   `json:"storeId"`
	Epoch           int64       `json:"epoch"`
	CompletedOrders []uuid.UUID `json:"completedOrders"`
	ResetAt         time.Time   `json:"resetAt"`
}

// ReceiptRequestedEvent asks the notification pipeline to mail a receipt.
type ReceiptRequestedEvent struct {
	OrderID       uuid.UUID     `json:"orderId"`
	StoreID       uuid.UUID     `json:"storeId"`
	Email         string        `json:"email"`
	StoreName     string        `json:"storeName"`
	OrderNumber   int64         `json:"orderNumber"`
	OrderDate     string        `json:"orderDate"`
	TotalPrice    int64         `json:"totalPrice"`
	TaxIncluded   int64         `json:"taxIncluded"`
	InvoiceNumber *string       `json:"invoiceNumber,omitempty"`
	Lines         []ReceiptLine `json:"lines"`
}

// ReceiptLine is one printed receipt row.
type ReceiptLine struct {
	Name      string   `json:"name"`
	Quantity  int64    `json:"quantity"`
	UnitPrice int64    `json:"unitPrice"`
	Subtotal  int64    `json:"subtotal"`
	Options   []string `json:"options,omitempty"`
}
