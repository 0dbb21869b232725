// Package receipts composes order receipts and queues them for mail delivery.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

const dateLayout = "2006/01/02"

var (
	// Receipts are dated in Japan time.
	receiptZone = time.FixedZone("JST", 9*60*60)
	// Prices are tax-inclusive at 10%.
	taxDivisor = decimal.RequireFromString("1.1")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type storeReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error)
}

type Service interface {
	SendReceipt(ctx context.Context, orderID uuid.UUID, email string) (*payloads.ReceiptRequestedEvent, error)
}

type service struct {
	orders   orderReader
	stores   storeReader
	tx       txRunner
	outbox   outbox.Emitter
	validate *validator.Validate
	logg     *logger.Logger
}

func NewService(orders orderReader, stores storeReader, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if orders == nil || stores == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "repositories required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		orders:   orders,
		stores:   stores,
		tx:       tx,
		outbox:   emitter,
		validate: validator.New(),
		logg:     logg,
	}, nil
}

// SendReceipt queues a receipt for orderID. Delivery happens downstream of
// the outbox; the caller only learns that the request was recorded.
func (s *service) SendReceipt(ctx context.Context, orderID uuid.UUID, email string) (*payloads.ReceiptRequestedEvent, error) {
	email = strings.TrimSpace(email)
	if orderID == uuid.Nil || email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId and email are required")
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is invalid")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	storeName := stores.DefaultDisplayName
	var invoice *string
	if store, err := s.stores.FindByID(ctx, order.StoreID); err == nil {
		storeName = stores.DisplayName(*store)
		if store.InvoiceNumber != nil && strings.TrimSpace(*store.InvoiceNumber) != "" {
			invoice = store.InvoiceNumber
		}
	} else {
		// The receipt still goes out under the default name.
		s.logg.Warn(s.logg.WithField(ctx, "store_id", order.StoreID.String()), "receipt store lookup failed: "+err.Error())
	}

	receipt, err := Compose(*order, storeName, invoice, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compose receipt")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReceiptRequested,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{Kind: outbox.ActorCustomer, StoreID: &order.StoreID},
			Data:          receipt,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue receipt")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"lines":    len(receipt.Lines),
	})
	s.logg.Info(logCtx, "receipt queued")
	return &receipt, nil
}

// Compose builds the receipt content for an order.
func Compose(order models.Order, storeName string, invoice *string, email string) (payloads.ReceiptRequestedEvent, error) {
	lines := make([]payloads.ReceiptLine, 0, len(order.Items))
	for _, item := range order.Items {
		subtotal, err := item.Subtotal()
		if err != nil {
			return payloads.ReceiptRequestedEvent{}, fmt.Errorf("line %q: %w", item.Name, err)
		}
		lines = append(lines, payloads.ReceiptLine{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  subtotal,
			Options:   optionLabels(item.SelectedOptions),
		})
	}
	return payloads.ReceiptRequestedEvent{
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		Email:         email,
		StoreName:     storeName,
		OrderNumber:   order.OrderNumber,
		OrderDate:     order.CreatedAt.In(receiptZone).Format(dateLayout),
		TotalPrice:    order.TotalPrice,
		TaxIncluded:   IncludedTax(order.TotalPrice),
		InvoiceNumber: invoice,
		Lines:         lines,
	}, nil
}

// IncludedTax is floor(total - total/1.1).
func IncludedTax(total int64) int64 {
	gross := decimal.NewFromInt(total)
	return gross.Sub(gross.Div(taxDivisor)).Floor().IntPart()
}

func optionLabels(options []types.SelectedOption) []string {
	if len(options) == 0 {
		return nil
	}
	out := make([]string, 0, len(options))
	for _, opt := range options {
		sign := "+"
		if opt.PriceModifier < 0 {
			sign = "-"
		}
		modifier := opt.PriceModifier
		if modifier < 0 {
			modifier = -modifier
		}
		out = append(out, fmt.Sprintf("%s: %s (%s¥%d)", opt.GroupName, opt.ChoiceName, sign, modifier))
	}
	return out
}
