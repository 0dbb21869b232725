package stripewebhook

import (
	"context"
	"encoding/json"

	"github.com/stripe/stripe-go/v84"

	"github.com/hirohirohiro3/marche-app-sub000/internal/webhooks"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	pkgstripe "github.com/hirohirohiro3/marche-app-sub000/pkg/stripe"
)

type Service struct {
	reconciler *webhooks.Reconciler
}

func NewService(reconciler *webhooks.Reconciler) (*Service, error) {
	if reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reconciler required")
	}
	return &Service{reconciler: reconciler}, nil
}

// HandleEvent reconciles payment_intent.succeeded; every other type is
// acknowledged untouched.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (webhooks.Outcome, error) {
	if event == nil || event.Data == nil {
		return webhooks.OutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return webhooks.OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		return s.reconciler.Apply(ctx, webhooks.Capture{
			OrderRef:    intent.Metadata[pkgstripe.MetadataOrderID],
			ProviderRef: intent.ID,
			EventID:     event.ID,
			Amount:      amount,
			Currency:    string(intent.Currency),
		})
	default:
		return s.reconciler.Ignore(ctx, string(event.Type)), nil
	}
}
