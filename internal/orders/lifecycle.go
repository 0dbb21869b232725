package orders

import (
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
)

// Source names who asked for a transition.
type Source string

const (
	SourceStaff   Source = "staff"
	SourcePayment Source = "payment"
	SourceReset   Source = "reset"
	SourceCron    Source = "cron"
)

// Transition is the only place status rules live. It returns the status to
// write and whether a write is needed; changed=false with a nil error means
// the request is already satisfied and must be acknowledged as success.
//
//	new  -> paid | cancelled
//	paid -> completed | cancelled
//	new  -> completed only for period resets
//
// completed, cancelled and archived are terminal. archived compares equal to
// completed but is never written.
func Transition(current, requested enums.OrderStatus, source Source) (enums.OrderStatus, bool, error) {
	if !requested.IsValid() {
		return current, false, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	if requested == enums.OrderStatusArchived {
		return current, false, pkgerrors.New(pkgerrors.CodeValidation, "archived cannot be requested")
	}
	if !current.IsValid() {
		return current, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order has an unknown status")
	}
	if current.Equivalent(requested) {
		return current, false, nil
	}

	if current.IsTerminal() {
		if requested.IsTerminal() {
			return current, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already "+string(current.Canonical())).
				WithDetails(map[string]any{"current": current, "requested": requested})
		}
		// paid/new against a closed order: the order is already past it.
		return current, false, nil
	}

	switch current {
	case enums.OrderStatusNew:
		switch requested {
		case enums.OrderStatusPaid, enums.OrderStatusCancelled:
			return requested, true, nil
		case enums.OrderStatusCompleted:
			if source == SourceReset || source == SourceCron {
				return requested, true, nil
			}
			return current, false, pkgerrors.New(pkgerrors.CodeStateConflict, "order must be paid before it is completed").
				WithDetails(map[string]any{"current": current, "requested": requested})
		}
	case enums.OrderStatusPaid:
		switch requested {
		case enums.OrderStatusNew:
			return current, false, nil
		case enums.OrderStatusCompleted, enums.OrderStatusCancelled:
			return requested, true, nil
		}
	}
	return current, false, pkgerrors.New(pkgerrors.CodeStateConflict, "illegal status transition").
		WithDetails(map[string]any{"current": current, "requested": requested})
}
