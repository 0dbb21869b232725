package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/pagination"
)

const (
	activeWindow       = 24 * time.Hour
	maxTransitionTries = 3
)

var errLostRace = errors.New("order status changed concurrently")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier fans committed order changes out to live viewers.
type Notifier interface {
	PublishOrder(ctx context.Context, order models.Order) error
}

// TransitionRecorder receives applied transitions; metrics implement it.
type TransitionRecorder interface {
	ObserveTransition(from, to, source string)
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListActive(ctx context.Context, storeID uuid.UUID) ([]models.Order, error)
	History(ctx context.Context, storeID uuid.UUID, params HistoryParams) (*HistoryPage, error)
	SalesSummary(ctx context.Context, storeID uuid.UUID, eventName *string) (*SalesSummary, error)
	ChangeStatus(ctx context.Context, input ChangeStatusInput) (*models.Order, error)
	MarkPaid(ctx context.Context, input CaptureInput) (*MarkPaidResult, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	notifier Notifier
	recorder TransitionRecorder
	logg     *logger.Logger
	now      func() time.Time
}

// Option customizes the service.
type Option func(*service)

func WithNotifier(n Notifier) Option {
	return func(s *service) { s.notifier = n }
}

func WithRecorder(r TransitionRecorder) Option {
	return func(s *service) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService builds the order service with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, logg *logger.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		repo:   repo,
		tx:     tx,
		outbox: outbox,
		logg:   logg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err)
	}
	return order, nil
}

// ListActive returns the dashboard view: the last day of orders that are
// still meaningful to staff, newest first.
func (s *service) ListActive(ctx context.Context, storeID uuid.UUID) ([]models.Order, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	since := s.now().UTC().Add(-activeWindow)
	orders, err := s.repo.ListSince(ctx, storeID, since, []enums.OrderStatus{enums.OrderStatusCancelled, enums.OrderStatusArchived})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return orders, nil
}

// History pages through all of a store's orders, archived ones included.
func (s *service) History(ctx context.Context, storeID uuid.UUID, params HistoryParams) (*HistoryPage, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListPage(ctx, PageQuery{
		StoreID:   storeID,
		EventName: params.EventName,
		Cursor:    cursor,
		Limit:     pagination.LimitWithBuffer(params.Limit),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order history")
	}

	rows, next := pagination.Trim(rows, params.Limit, func(order models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: order.CreatedAt, ID: order.ID}
	})
	page := &HistoryPage{Items: make([]OrderView, 0, len(rows)), Cursor: next}
	for _, order := range rows {
		page.Items = append(page.Items, NewOrderView(order))
	}
	return page, nil
}

func (s *service) SalesSummary(ctx context.Context, storeID uuid.UUID, eventName *string) (*SalesSummary, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id required")
	}
	if eventName != nil && strings.TrimSpace(*eventName) == "" {
		eventName = nil
	}
	rows, err := s.repo.TotalsByStatus(ctx, storeID, eventName)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "summarize orders")
	}

	summary := &SalesSummary{
		StoreID:           storeID,
		EventName:         eventName,
		AverageOrderValue: decimal.Zero,
		ByStatus:          map[enums.OrderStatus]int64{},
	}
	for _, row := range rows {
		status := row.Status.Canonical()
		summary.ByStatus[status] += row.Count
		summary.TotalOrders += row.Count
		if status == enums.OrderStatusPaid || status == enums.OrderStatusCompleted {
			summary.SettledOrders += row.Count
			summary.Revenue += row.Revenue
		}
	}
	if summary.SettledOrders > 0 {
		summary.AverageOrderValue = decimal.NewFromInt(summary.Revenue).
			Div(decimal.NewFromInt(summary.SettledOrders)).
			Round(2)
	}
	return summary, nil
}

func (s *service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "store context missing")
	}
	actor := &outbox.ActorRef{Kind: outbox.ActorStaff, UserID: input.ActorUserID, StoreID: &input.StoreID}

	var result *models.Order
	var changed bool
	var previous enums.OrderStatus
	err := s.retryTransition(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}
		if order.StoreID != input.StoreID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order belongs to another store")
		}

		next, apply, err := Transition(order.Status, input.Status, SourceStaff)
		if err != nil {
			return err
		}
		result, changed, previous = order, apply, order.Status
		if !apply {
			return nil
		}
		return s.applyTransition(ctx, tx, order, next, SourceStaff, actor, nil)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.afterTransition(ctx, *result, previous, SourceStaff)
	}
	return result, nil
}

// MarkPaid records a provider capture and moves the order to paid. Deliveries
// are at-least-once; a repeat finds the capture and the status already in
// place and succeeds without writing.
func (s *service) MarkPaid(ctx context.Context, input CaptureInput) (*MarkPaidResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider required")
	}

	result := &MarkPaidResult{}
	var previous enums.OrderStatus
	err := s.retryTransition(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err)
		}

		capturedAt := s.now().UTC()
		capture := &models.PaymentCapture{
			ID:          uuid.New(),
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			Provider:    input.Provider,
			ProviderRef: input.ProviderRef,
			Amount:      input.Amount,
			Currency:    strings.ToLower(input.Currency),
			CapturedAt:  capturedAt,
		}
		if input.EventID != "" {
			capture.EventID = &input.EventID
		}
		if capture.Amount == 0 {
			capture.Amount = order.TotalPrice
		}
		recorded, err := repo.InsertCapture(ctx, capture)
		if err != nil {
			return err
		}
		redelivery := false
		if !recorded {
			onFile, err := repo.FindCapture(ctx, order.ID)
			if err != nil {
				return err
			}
			redelivery = onFile.ProviderRef == input.ProviderRef
			capture = onFile
		}

		next, apply, err := Transition(order.Status, enums.OrderStatusPaid, SourcePayment)
		if err != nil {
			return err
		}
		result.Order, result.Capture = order, capture
		result.Changed, result.CaptureRecorded = apply, recorded
		result.ConflictingCapture = !recorded && !redelivery
		result.Terminal = !apply && !redelivery && order.Status.IsTerminal()
		previous = order.Status
		if !apply {
			return nil
		}

		actor := &outbox.ActorRef{Kind: outbox.ActorProvider, StoreID: &order.StoreID, Ref: string(input.Provider)}
		paid := &payloads.OrderPaidEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			Provider:    input.Provider,
			ProviderRef: input.ProviderRef,
			Amount:      capture.Amount,
			PaidAt:      capturedAt,
		}
		return s.applyTransition(ctx, tx, order, next, SourcePayment, actor, paid)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":         input.OrderID.String(),
		"provider":         input.Provider,
		"status":           result.Order.Status,
		"changed":          result.Changed,
		"capture_recorded": result.CaptureRecorded,
	})
	if result.ConflictingCapture {
		s.logg.Warn(s.logg.WithField(logCtx, "capture_on_file", result.Capture.ProviderRef), "order already holds a different capture")
	}
	switch {
	case result.Changed:
		s.afterTransition(ctx, *result.Order, previous, SourcePayment)
	case result.Terminal:
		s.logg.Warn(logCtx, "payment captured for a closed order")
	default:
		s.logg.Info(logCtx, "payment already reconciled")
	}
	return result, nil
}

// applyTransition writes next on tx, guarded by the status that was read,
// and queues the matching outbox events. order is updated in place.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, order *models.Order, next enums.OrderStatus, source Source, actor *outbox.ActorRef, paid *payloads.OrderPaidEvent) error {
	now := s.now().UTC()
	var paidAt *time.Time
	if next == enums.OrderStatusPaid {
		paidAt = &now
		if paid != nil {
			paidAt = &paid.PaidAt
		}
	}

	ok, err := s.repo.WithTx(tx).UpdateStatusIf(ctx, order.ID, order.Status, next, paidAt)
	if err != nil {
		return err
	}
	if !ok {
		return errLostRace
	}

	previous := order.Status
	order.Status = next
	order.UpdatedAt = now
	if paidAt != nil {
		order.PaidAt = paidAt
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			From:        previous,
			To:          next,
			Source:      string(source),
			ChangedAt:   now,
		},
	}); err != nil {
		return err
	}

	if next != enums.OrderStatusPaid {
		return nil
	}
	if paid == nil {
		paid = &payloads.OrderPaidEvent{
			OrderID:     order.ID,
			StoreID:     order.StoreID,
			OrderNumber: order.OrderNumber,
			Amount:      order.TotalPrice,
			PaidAt:      now,
		}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		OccurredAt:    now,
		Data:          paid,
	})
}

// retryTransition re-runs fn when the conditional update lost to a concurrent writer.
func (s *service) retryTransition(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTransitionTries; attempt++ {
		err = s.tx.WithTx(ctx, fn)
		if !errors.Is(err, errLostRace) {
			break
		}
	}
	if errors.Is(err, errLostRace) {
		return pkgerrors.Wrap(pkgerrors.CodeTransaction, err, "order was updated concurrently")
	}
	if err != nil && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
	}
	return err
}

func (s *service) afterTransition(ctx context.Context, order models.Order, from enums.OrderStatus, source Source) {
	if s.recorder != nil {
		s.recorder.ObserveTransition(string(from), string(order.Status), string(source))
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"store_id": order.StoreID.String(),
		"from":     from,
		"to":       order.Status,
		"source":   source,
	})
	s.logg.Info(logCtx, "order status changed")
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishOrder(ctx, order); err != nil {
		s.logg.Warn(logCtx, "realtime publish failed: "+err.Error())
	}
}

func mapLoadError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
