package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

// Order is the durable record produced by checkout.
type Order struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID     uuid.UUID            `gorm:"column:store_id;type:uuid;not null"`
	OrderNumber int64                `gorm:"column:order_number;not null"`
	Channel     enums.OrderChannel   `gorm:"column:channel;type:order_channel;not null"`
	Epoch       int64                `gorm:"column:epoch;not null"`
	Items       types.OrderLineItems `gorm:"column:items;type:jsonb;not null"`
	TotalPrice  int64                `gorm:"column:total_price;not null"`
	Status      enums.OrderStatus    `gorm:"column:status;type:order_status;not null"`
	CustomerRef *string              `gorm:"column:customer_ref"`
	EventName   *string              `gorm:"column:event_name"`
	PaidAt      *time.Time           `gorm:"column:paid_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
