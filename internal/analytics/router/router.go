// Package router turns decoded outbox events into order_events rows.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/types"
	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/writer"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
)

// ErrUnsupportedEventType marks events analytics does not record.
var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

type Writer interface {
	InsertOrderEvent(ctx context.Context, row types.OrderEventRow) error
}

// rowBuilder fills the payload-specific columns of a row.
type rowBuilder func(row *types.OrderEventRow, payload any) error

type route struct {
	factory func() any
	build   rowBuilder
}

type Router struct {
	writer Writer
	logg   *logger.Logger
	routes map[enums.OutboxEventType]route
}

func NewRouter(w Writer, logg *logger.Logger) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Router{
		writer: w,
		logg:   logg,
		routes: map[enums.OutboxEventType]route{
			enums.EventOrderCreated: {
				factory: func() any { return &payloads.OrderCreatedEvent{} },
				build:   orderCreatedRow,
			},
			enums.EventOrderStatusChanged: {
				factory: func() any { return &payloads.OrderStatusChangedEvent{} },
				build:   statusChangedRow,
			},
			enums.EventOrderPaid: {
				factory: func() any { return &payloads.OrderPaidEvent{} },
				build:   orderPaidRow,
			},
			enums.EventPeriodReset: {
				factory: func() any { return &payloads.PeriodResetEvent{} },
				build:   periodResetRow,
			},
		},
	}, nil
}

// Handle decodes the envelope payload and writes its row.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := rt.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	raw, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return err
	}
	row := types.OrderEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
		Payload:    raw,
	}
	if err := rt.build(&row, payload); err != nil {
		return err
	}
	if err := r.writer.InsertOrderEvent(ctx, row); err != nil {
		return err
	}
	r.logg.Debug(r.logg.WithStoreID(ctx, row.StoreID), "analytics.row_written")
	return nil
}
