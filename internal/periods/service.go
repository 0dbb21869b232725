// Package periods closes a store's business period: in-flight orders are
// completed and both order-number sequences restart under a new epoch.
package periods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type counterResetter interface {
	Lock(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (*models.OrderCounter, error)
	Reset(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (int64, error)
	Peek(ctx context.Context, conn *gorm.DB, storeID uuid.UUID) (models.OrderCounter, error)
}

// Recorder receives reset outcomes; metrics implement it.
type Recorder interface {
	ObserveReset(trigger string)
}

// Trigger names what started a reset.
type Trigger string

const (
	TriggerStaff Trigger = "staff"
	TriggerCron  Trigger = "cron"
	TriggerEvent Trigger = "event"
)

// ResetResult summarises a committed reset.
type ResetResult struct {
	StoreID   uuid.UUID
	Epoch     int64
	Completed []models.Order
}

// Counters is the numbering state of the open period.
type Counters struct {
	StoreID           uuid.UUID
	Epoch             int64
	NextCounterNumber int64
	NextWalkupNumber  int64
}

// Service exposes period boundaries.
type Service interface {
	Counters(ctx context.Context, storeID uuid.UUID) (*Counters, error)
	Reset(ctx context.Context, storeID uuid.UUID, trigger Trigger) (*ResetResult, error)
	StartEvent(ctx context.Context, storeID uuid.UUID, name string, confirmReuse bool) (*ResetResult, error)
	EndEvent(ctx context.Context, storeID uuid.UUID) (*ResetResult, error)
}

type Deps struct {
	Tx        txRunner
	Orders    orders.Repository
	Stores    *stores.Repository
	Allocator counterResetter
	Outbox    outboxPublisher
	Notifier  orders.Notifier
	Recorder  Recorder
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	orders    orders.Repository
	stores    *stores.Repository
	allocator counterResetter
	outbox    outboxPublisher
	notifier  orders.Notifier
	recorder  Recorder
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(deps Deps) (Service, error) {
	if deps.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Stores == nil {
		return nil, fmt.Errorf("stores repository required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Allocator == nil {
		deps.Allocator = sequence.NewAllocator()
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	return &service{
		tx:        deps.Tx,
		orders:    deps.Orders,
		stores:    deps.Stores,
		allocator: deps.Allocator,
		outbox:    deps.Outbox,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		logg:      deps.Logger,
		now:       time.Now,
	}, nil
}

// Counters reports the numbers the next checkouts will receive. It takes no
// lock, so a concurrent checkout may already have consumed them.
func (s *service) Counters(ctx context.Context, storeID uuid.UUID) (*Counters, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	var counter models.OrderCounter
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.stores.WithTx(tx).FindByID(ctx, storeID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
			}
			return err
		}
		var err error
		counter, err = s.allocator.Peek(ctx, tx, storeID)
		return err
	})
	if err != nil {
		return nil, wrapStorage(err, "read order counters")
	}
	return &Counters{
		StoreID:           storeID,
		Epoch:             counter.Epoch,
		NextCounterNumber: counter.NextCounterOrderNumber,
		NextWalkupNumber:  counter.NextWalkupOrderNumber,
	}, nil
}

// Reset completes every new or paid order of the store and rewinds the
// counters to 101 and 1 in one transaction.
//
// The counter row lock is taken first, so a reset and a checkout for the same
// store serialize: a checkout committed before the reset is swept into the
// closing period, and one that commits after it numbers from the new epoch.
func (s *service) Reset(ctx context.Context, storeID uuid.UUID, trigger Trigger) (*ResetResult, error) {
	var result *ResetResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.resetTx(ctx, tx, storeID, trigger)
		return err
	})
	if err != nil {
		return nil, wrapStorage(err, "reset period")
	}
	s.afterReset(ctx, result, trigger)
	return result, nil
}

// StartEvent closes the running period and opens one named name. A name
// already carried by earlier orders is only accepted with confirmReuse.
func (s *service) StartEvent(ctx context.Context, storeID uuid.UUID, name string, confirmReuse bool) (*ResetResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event name required")
	}

	var result *ResetResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		used, err := s.orders.WithTx(tx).CountByEventName(ctx, storeID, name)
		if err != nil {
			return err
		}
		if used > 0 && !confirmReuse {
			return pkgerrors.New(pkgerrors.CodeConflict, "event name already used").
				WithDetails(map[string]any{"eventName": name, "orders": used})
		}
		result, err = s.resetTx(ctx, tx, storeID, TriggerEvent)
		if err != nil {
			return err
		}
		return s.stores.WithTx(tx).SetCurrentEventName(ctx, storeID, &name)
	})
	if err != nil {
		return nil, wrapStorage(err, "start event")
	}
	s.afterReset(ctx, result, TriggerEvent)
	s.logg.Info(s.logg.WithField(ctx, "event_name", name), "event started")
	return result, nil
}

// EndEvent closes the running period and clears the store's event name.
func (s *service) EndEvent(ctx context.Context, storeID uuid.UUID) (*ResetResult, error) {
	var result *ResetResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.resetTx(ctx, tx, storeID, TriggerEvent)
		if err != nil {
			return err
		}
		return s.stores.WithTx(tx).SetCurrentEventName(ctx, storeID, nil)
	})
	if err != nil {
		return nil, wrapStorage(err, "end event")
	}
	s.afterReset(ctx, result, TriggerEvent)
	return result, nil
}

func (s *service) resetTx(ctx context.Context, tx *gorm.DB, storeID uuid.UUID, trigger Trigger) (*ResetResult, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if _, err := s.stores.WithTx(tx).FindByID(ctx, storeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, err
	}
	if _, err := s.allocator.Lock(ctx, tx, storeID); err != nil {
		return nil, err
	}

	repo := s.orders.WithTx(tx)
	inFlight, err := repo.FindInFlight(ctx, storeID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ids := make([]uuid.UUID, 0, len(inFlight))
	for _, order := range inFlight {
		ids = append(ids, order.ID)
	}
	if _, err := repo.CompleteInFlight(ctx, storeID, ids, now); err != nil {
		return nil, err
	}

	epoch, err := s.allocator.Reset(ctx, tx, storeID)
	if err != nil {
		return nil, err
	}

	actor := &outbox.ActorRef{Kind: outbox.ActorStaff, StoreID: &storeID, Ref: string(trigger)}
	if trigger == TriggerCron {
		actor = &outbox.ActorRef{Kind: outbox.ActorSystem, StoreID: &storeID, Ref: string(trigger)}
	}
	for idx := range inFlight {
		order := &inFlight[idx]
		from := order.Status
		order.Status = enums.OrderStatusCompleted
		order.UpdatedAt = now
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderStatusChangedEvent{
				OrderID:     order.ID,
				StoreID:     storeID,
				OrderNumber: order.OrderNumber,
				From:        from,
				To:          enums.OrderStatusCompleted,
				Source:      string(orders.SourceReset),
				ChangedAt:   now,
			},
		}); err != nil {
			return nil, err
		}
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPeriodReset,
		AggregateType: enums.AggregateStore,
		AggregateID:   storeID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.PeriodResetEvent{
			StoreID:         storeID,
			Epoch:           epoch,
			CompletedOrders: ids,
			ResetAt:         now,
		},
	}); err != nil {
		return nil, err
	}

	return &ResetResult{StoreID: storeID, Epoch: epoch, Completed: inFlight}, nil
}

func (s *service) afterReset(ctx context.Context, result *ResetResult, trigger Trigger) {
	if s.recorder != nil {
		s.recorder.ObserveReset(string(trigger))
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"store_id":  result.StoreID.String(),
		"epoch":     result.Epoch,
		"completed": len(result.Completed),
		"trigger":   trigger,
	})
	s.logg.Info(logCtx, "period reset")
	if s.notifier == nil {
		return
	}
	for _, order := range result.Completed {
		if err := s.notifier.PublishOrder(ctx, order); err != nil {
			s.logg.Warn(logCtx, "realtime publish failed: "+err.Error())
			return
		}
	}
}

func wrapStorage(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
