package models

import (
	"time"

	"github.com/google/uuid"
)

// Store is the tenant. Only the fields the order pipeline reads are mapped.
type Store struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name             string    `gorm:"column:name;not null"`
	CurrentEventName *string   `gorm:"column:current_event_name"`
	StripeAccountID  *string   `gorm:"column:stripe_account_id"`
	InvoiceNumber    *string   `gorm:"column:invoice_number"`
	AutoCloseEnabled bool      `gorm:"column:auto_close_enabled;not null;default:false"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Store) TableName() string { return "stores" }
