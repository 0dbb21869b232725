package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderCounter holds the next number per channel for one store. Epoch bumps on every reset.
type OrderCounter struct {
	StoreID                uuid.UUID `gorm:"column:store_id;type:uuid;primaryKey"`
	NextCounterOrderNumber int64     `gorm:"column:next_counter_order_number;not null"`
	NextWalkupOrderNumber  int64     `gorm:"column:next_walkup_order_number;not null"`
	Epoch                  int64     `gorm:"column:epoch;not null"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderCounter) TableName() string { return "order_counters" }
