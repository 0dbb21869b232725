package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrAmountOutOfRange is returned when a subtotal or total cannot be
// represented as a non-negative int64.
var ErrAmountOutOfRange = errors.New("amount out of range")

// SelectedOption is the denormalized snapshot of one chosen option.
type SelectedOption struct {
	GroupName     string `json:"groupName"`
	ChoiceName    string `json:"choiceName"`
	PriceModifier int64  `json:"priceModifier"`
}

// OrderLineItem is a frozen copy of a cart line. UnitPrice already includes
// every selected option modifier.
type OrderLineItem struct {
	Name            string           `json:"name"`
	Quantity        int64            `json:"quantity"`
	UnitPrice       int64            `json:"price"`
	SelectedOptions []SelectedOption `json:"selectedOptions,omitempty"`
}

// Subtotal returns UnitPrice * Quantity. Negative inputs and products past
// MaxInt64 yield ErrAmountOutOfRange.
func (i OrderLineItem) Subtotal() (int64, error) {
	if i.UnitPrice < 0 || i.Quantity < 0 {
		return 0, ErrAmountOutOfRange
	}
	if i.Quantity != 0 && i.UnitPrice > math.MaxInt64/i.Quantity {
		return 0, ErrAmountOutOfRange
	}
	return i.UnitPrice * i.Quantity, nil
}

// OrderLineItems is persisted as JSONB.
type OrderLineItems []OrderLineItem

// Total sums every line subtotal, failing with ErrAmountOutOfRange on overflow.
func (items OrderLineItems) Total() (int64, error) {
	var total int64
	for _, item := range items {
		sub, err := item.Subtotal()
		if err != nil {
			return 0, err
		}
		if total > math.MaxInt64-sub {
			return 0, ErrAmountOutOfRange
		}
		total += sub
	}
	return total, nil
}

// Quantity sums every line quantity.
func (items OrderLineItems) Quantity() int64 {
	var total int64
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

// Value serializes the line items to JSON.
func (items OrderLineItems) Value() (driver.Value, error) {
	if items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}

// Scan decodes JSONB into the slice.
func (items *OrderLineItems) Scan(value interface{}) error {
	if value == nil {
		*items = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("order line items: unsupported scan type %T", value)
	}
	var decoded OrderLineItems
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*items = decoded
	return nil
}
