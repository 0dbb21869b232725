// Package payments starts card payments for customer orders.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	pkgstripe "github.com/hirohirohiro3/marche-app-sub000/pkg/stripe"
)

const defaultCurrency = "jpy"

// IntentCreator is implemented by pkg/stripe.Client.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, params pkgstripe.IntentParams) (*stripe.PaymentIntent, error)
}

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type storeReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type Config struct {
	Currency string
	FeeRate  decimal.Decimal
}

// IntentResult is what the customer's browser needs to confirm the payment.
type IntentResult struct {
	OrderID         uuid.UUID `json:"orderId"`
	PaymentIntentID string    `json:"paymentIntentId"`
	ClientSecret    string    `json:"clientSecret"`
	Amount          int64     `json:"amount"`
	ApplicationFee  int64     `json:"applicationFee"`
	Currency        string    `json:"currency"`
}

type Service interface {
	CreatePaymentIntent(ctx context.Context, orderID uuid.UUID) (*IntentResult, error)
}

type service struct {
	orders  orderReader
	stores  storeReader
	creator IntentCreator
	cfg     Config
	logg    *logger.Logger
}

func NewService(orders orderReader, stores storeReader, creator IntentCreator, cfg Config, logg *logger.Logger) (Service, error) {
	if orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repository required")
	}
	if stores == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "store repository required")
	}
	if creator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fee rate must be within [0,1)")
	}
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = defaultCurrency
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{orders: orders, stores: stores, creator: creator, cfg: cfg, logg: logg}, nil
}

// CreatePaymentIntent charges the order total to the store's connected
// account, keeping the platform fee.
func (s *service) CreatePaymentIntent(ctx context.Context, orderID uuid.UUID) (*IntentResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoad(err, "order")
	}
	if order.Status != enums.OrderStatusNew {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.TotalPrice <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	store, err := s.stores.FindByID(ctx, order.StoreID)
	if err != nil {
		return nil, mapLoad(err, "store")
	}
	if store.StripeAccountID == nil || strings.TrimSpace(*store.StripeAccountID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store has no connected payment account")
	}

	fee := ApplicationFee(order.TotalPrice, s.cfg.FeeRate)
	intent, err := s.creator.CreatePaymentIntent(ctx, pkgstripe.IntentParams{
		OrderID:        order.ID.String(),
		Amount:         order.TotalPrice,
		Currency:       s.cfg.Currency,
		ApplicationFee: fee,
		Destination:    strings.TrimSpace(*store.StripeAccountID),
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
		}
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"store_id": order.StoreID.String(),
		"amount":   order.TotalPrice,
		"fee":      fee,
	})
	s.logg.Info(logCtx, "payment intent ready")

	return &IntentResult{
		OrderID:         order.ID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          order.TotalPrice,
		ApplicationFee:  fee,
		Currency:        strings.ToLower(s.cfg.Currency),
	}, nil
}

// ApplicationFee is total·rate rounded half away from zero to whole yen.
func ApplicationFee(total int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(total).Mul(rate).Round(0).IntPart()
}

func mapLoad(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
