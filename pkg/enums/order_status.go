package enums

import "fmt"

// OrderStatus maps to the order_status column.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusArchived is a legacy terminal value; logic treats it as completed.
	OrderStatusArchived OrderStatus = "archived"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusPaid,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusArchived,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known order status.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Canonical folds archived into completed. Stored values are never rewritten.
func (s OrderStatus) Canonical() OrderStatus {
	if s == OrderStatusArchived {
		return OrderStatusCompleted
	}
	return s
}

// Equivalent compares two statuses after folding legacy values.
func (s OrderStatus) Equivalent(other OrderStatus) bool {
	return s.Canonical() == other.Canonical()
}

// IsTerminal reports whether no further transition may leave this status.
func (s OrderStatus) IsTerminal() bool {
	switch s.Canonical() {
	case OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// InFlight reports whether the order is still open for the current period.
func (s OrderStatus) InFlight() bool {
	return s == OrderStatusNew || s == OrderStatusPaid
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
