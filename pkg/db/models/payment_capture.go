package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
)

// PaymentCapture records a confirmed external payment. order_id is unique.
type PaymentCapture struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	StoreID     uuid.UUID             `gorm:"column:store_id;type:uuid;not null"`
	Provider    enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	ProviderRef string                `gorm:"column:provider_ref;not null"`
	EventID     *string               `gorm:"column:event_id"`
	Amount      int64                 `gorm:"column:amount;not null"`
	Currency    string                `gorm:"column:currency;not null"`
	CapturedAt  time.Time             `gorm:"column:captured_at;not null"`
}

func (PaymentCapture) TableName() string { return "payment_captures" }
