package squarewebhook

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"

	"github.com/hirohirohiro3/marche-app-sub000/internal/webhooks"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	pkgsquare "github.com/hirohirohiro3/marche-app-sub000/pkg/square"
)

const paymentCompleted = "COMPLETED"

// PaymentFetcher loads a payment when a notification omits the object.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error)
}

type Service struct {
	reconciler *webhooks.Reconciler
	fetcher    PaymentFetcher
}

// NewService builds the handler; fetcher may be nil when no access token is configured.
func NewService(reconciler *webhooks.Reconciler, fetcher PaymentFetcher) (*Service, error) {
	if reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	return &Service{reconciler: reconciler, fetcher: fetcher}, nil
}

type SquareWebhookEvent struct {
	MerchantID string            `json:"merchant_id"`
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	CreatedAt  string            `json:"created_at"`
	Data       SquareWebhookData `json:"data"`
}

type SquareWebhookData struct {
	Type   string              `json:"type"`
	ID     string              `json:"id"`
	Object SquareWebhookObject `json:"object"`
}

type SquareWebhookObject struct {
	Payment *sq.Payment `json:"payment"`
}

// HandleEvent reconciles completed payments. reference_id carries the order id.
func (s *Service) HandleEvent(ctx context.Context, event *SquareWebhookEvent) (webhooks.Outcome, error) {
	if event == nil {
		return webhooks.OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "square event required")
	}

	switch strings.ToLower(event.Type) {
	case "payment.created", "payment.updated":
		payment := event.Data.Object.Payment
		if payment == nil {
			fetched, err := s.fetch(ctx, event.Data.ID)
			if err != nil {
				return webhooks.OutcomeFailed, err
			}
			payment = fetched
		}
		if !strings.EqualFold(pkgsquare.StringValue(payment.GetStatus()), paymentCompleted) {
			return s.reconciler.Ignore(ctx, event.Type), nil
		}
		amount, currency := money(payment.GetAmountMoney())
		return s.reconciler.Apply(ctx, webhooks.Capture{
			OrderRef:    pkgsquare.StringValue(payment.GetReferenceID()),
			ProviderRef: pkgsquare.StringValue(payment.GetID()),
			EventID:     event.EventID,
			Amount:      amount,
			Currency:    currency,
		})
	default:
		return s.reconciler.Ignore(ctx, event.Type), nil
	}
}

func (s *Service) fetch(ctx context.Context, paymentID string) (*sq.Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}
	if s.fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment payload missing")
	}
	payment, err := s.fetcher.GetPayment(ctx, paymentID)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch square payment")
		}
		return nil, err
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment")
	}
	return payment, nil
}

func money(m *sq.Money) (int64, string) {
	if m == nil {
		return 0, ""
	}
	var amount int64
	if m.Amount != nil {
		amount = *m.Amount
	}
	var currency string
	if m.Currency != nil {
		currency = string(*m.Currency)
	}
	return amount, currency
}
