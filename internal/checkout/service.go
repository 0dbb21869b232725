package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/internal/cart"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type allocator interface {
	Next(ctx context.Context, tx *gorm.DB, storeID uuid.UUID, channel enums.OrderChannel) (sequence.Allocation, error)
}

// Recorder receives checkout outcomes; metrics implement it.
type Recorder interface {
	ObserveCheckout(channel, result string, attempts int)
}

// Service turns carts into sequenced orders.
type Service interface {
	CreateOrder(ctx context.Context, input Input) (*Result, error)
	CreateFromCart(ctx context.Context, storeID uuid.UUID, c *cart.Cart, customerRef *string) (*Result, error)
}

// Input is the order-creation command. Lines are already priced snapshots.
type Input struct {
	StoreID     uuid.UUID
	Channel     enums.OrderChannel
	Lines       types.OrderLineItems
	CustomerRef *string
	// Paid records a walk-up order whose payment was taken at the counter.
	Paid bool
	// ExpectedTotal, when set, must match the computed total.
	ExpectedTotal *int64
}

// Result identifies the committed order.
type Result struct {
	OrderID     uuid.UUID
	OrderNumber int64
	Channel     enums.OrderChannel
	CustomerRef string
	Order       models.Order
}

// Config bounds the retry loop around the numbering transaction.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
}

type service struct {
	tx        txRunner
	allocator allocator
	orders    orders.Repository
	stores    *stores.Repository
	outbox    outboxPublisher
	notifier  orders.Notifier
	recorder  Recorder
	logg      *logger.Logger
	policy    db.RetryPolicy
	now       func() time.Time
}

// Deps lists the collaborators of the checkout service.
type Deps struct {
	Tx        txRunner
	Allocator allocator
	Orders    orders.Repository
	Stores    *stores.Repository
	Outbox    outboxPublisher
	Notifier  orders.Notifier
	Recorder  Recorder
	Logger    *logger.Logger
}

// NewService builds the checkout service.
func NewService(deps Deps, cfg Config) (Service, error) {
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
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	return &service{
		tx:        deps.Tx,
		allocator: deps.Allocator,
		orders:    deps.Orders,
		stores:    deps.Stores,
		outbox:    deps.Outbox,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		logg:      deps.Logger,
		policy:    db.RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		now:       time.Now,
	}, nil
}

// CreateFromCart checks out a customer cart on the counter channel. The cart
// is never modified; the caller clears it once the order id comes back.
func (s *service) CreateFromCart(ctx context.Context, storeID uuid.UUID, c *cart.Cart, customerRef *string) (*Result, error) {
	if c == nil || c.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	total := c.TotalPrice()
	return s.CreateOrder(ctx, Input{
		StoreID:       storeID,
		Channel:       enums.OrderChannelCounter,
		Lines:         c.LineItems(),
		CustomerRef:   customerRef,
		ExpectedTotal: &total,
	})
}

func (s *service) CreateOrder(ctx context.Context, input Input) (*Result, error) {
	total, err := validate(&input)
	if err != nil {
		return nil, err
	}

	ref := strings.TrimSpace(valueOr(input.CustomerRef))
	if ref == "" {
		ref = uuid.NewString()
	}
	status := enums.OrderStatusNew
	if input.Paid {
		status = enums.OrderStatusPaid
	}

	var result *Result
	attempts, err := db.RunWithRetry(ctx, s.policy, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			store, err := s.stores.WithTx(tx).FindByID(ctx, input.StoreID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
				}
				return err
			}

			alloc, err := s.allocator.Next(ctx, tx, input.StoreID, input.Channel)
			if err != nil {
				return err
			}

			now := s.now().UTC()
			order := models.Order{
				ID:          uuid.New(),
				StoreID:     input.StoreID,
				OrderNumber: alloc.Number,
				Channel:     input.Channel,
				Epoch:       alloc.Epoch,
				Items:       input.Lines,
				TotalPrice:  total,
				Status:      status,
				CustomerRef: &ref,
				EventName:   store.CurrentEventName,
				UpdatedAt:   now,
			}
			if err := s.orders.WithTx(tx).Create(ctx, &order); err != nil {
				return err
			}
			if err := s.emitCreated(ctx, tx, order); err != nil {
				return err
			}
			result = &Result{
				OrderID:     order.ID,
				OrderNumber: order.OrderNumber,
				Channel:     order.Channel,
				CustomerRef: ref,
				Order:       order,
			}
			return nil
		})
	})

	channel := string(input.Channel)
	if err != nil {
		s.record(channel, "failure", attempts)
		return nil, classify(err, attempts)
	}
	s.record(channel, "success", attempts)

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     result.OrderID.String(),
		"store_id":     input.StoreID.String(),
		"order_number": result.OrderNumber,
		"channel":      channel,
		"attempts":     attempts,
	})
	s.logg.Info(logCtx, "order created")
	if s.notifier != nil {
		if err := s.notifier.PublishOrder(ctx, result.Order); err != nil {
			s.logg.Warn(logCtx, "realtime publish failed: "+err.Error())
		}
	}
	return result, nil
}

func (s *service) emitCreated(ctx context.Context, tx *gorm.DB, order models.Order) error {
	actor := &outbox.ActorRef{Kind: outbox.ActorCustomer, StoreID: &order.StoreID, Ref: valueOr(order.CustomerRef)}
	if order.Channel == enums.OrderChannelWalkup {
		actor = &outbox.ActorRef{Kind: outbox.ActorStaff, StoreID: &order.StoreID}
	}
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    order.CreatedAt,
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			Channel:     order.Channel,
			Epoch:       order.Epoch,
			Status:      order.Status,
			TotalPrice:  order.TotalPrice,
			ItemCount:   order.Items.Quantity(),
			EventName:   order.EventName,
			CreatedAt:   order.CreatedAt,
		},
	})
	if err != nil || order.PaidAt == nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    order.CreatedAt,
		Data: payloads.OrderPaidEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			Amount:      order.TotalPrice,
			PaidAt:      *order.PaidAt,
		},
	})
}

func (s *service) record(channel, result string, attempts int) {
	if s.recorder != nil {
		s.recorder.ObserveCheckout(channel, result, attempts)
	}
}

func validate(input *Input) (int64, error) {
	if input.StoreID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if input.Channel == "" {
		input.Channel = enums.OrderChannelCounter
	}
	if !input.Channel.IsValid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid order channel")
	}
	if len(input.Lines) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	for idx, line := range input.Lines {
		switch {
		case strings.TrimSpace(line.Name) == "":
			return 0, lineError(idx, "name required")
		case line.Quantity <= 0:
			return 0, lineError(idx, "quantity must be positive")
		case line.UnitPrice < 0:
			return 0, lineError(idx, "price must not be negative")
		}
		if _, err := line.Subtotal(); err != nil {
			return 0, lineError(idx, "subtotal is out of range")
		}
		if len(line.SelectedOptions) == 0 {
			input.Lines[idx].SelectedOptions = nil
		}
	}
	total, err := input.Lines.Total()
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cart total is out of range")
	}
	if input.Paid && input.Channel != enums.OrderChannelWalkup {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "only walk-up orders can be recorded as paid")
	}
	if input.ExpectedTotal != nil && *input.ExpectedTotal != total {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "cart total does not match its lines").
			WithDetails(map[string]any{"expected": *input.ExpectedTotal, "computed": total})
	}
	return total, nil
}

func lineError(idx int, msg string) error {
	return pkgerrors.Newf(pkgerrors.CodeValidation, "line %d: %s", idx+1, msg).
		WithDetails(map[string]any{"line": idx + 1})
}

// classify keeps business errors and folds storage failures into a
// retry-safe TRANSACTION_FAILURE.
func classify(err error, attempts int) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "checkout interrupted")
	}
	// Order ids are random, so a unique violation here is a number handed out twice.
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "order number already taken").
			WithDetails(map[string]any{"attempts": attempts, "reason": "number_collision"})
	}
	return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "could not allocate an order number").
		WithDetails(map[string]any{"attempts": attempts})
}

func valueOr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
