package webhooks

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
)

// Outcome labels what a delivery did; it is also the metrics label.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeTerminal  Outcome = "terminal"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeFailed    Outcome = "failed"
)

// PaymentMarker is the slice of orders.Service that webhooks drive.
type PaymentMarker interface {
	MarkPaid(ctx context.Context, input orders.CaptureInput) (*orders.MarkPaidResult, error)
}

// Recorder receives one observation per handled delivery.
type Recorder interface {
	ObserveWebhook(provider, outcome string)
}

// Capture is a provider payment that succeeded, before correlation.
type Capture struct {
	OrderRef    string
	ProviderRef string
	EventID     string
	Amount      int64
	Currency    string
}

// Reconciler applies captured payments to orders.
type Reconciler struct {
	provider enums.PaymentProvider
	orders   PaymentMarker
	recorder Recorder
	logg     *logger.Logger
}

func NewReconciler(provider enums.PaymentProvider, marker PaymentMarker, recorder Recorder, logg *logger.Logger) (*Reconciler, error) {
	if !provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if marker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order service required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{provider: provider, orders: marker, recorder: recorder, logg: logg}, nil
}

// Apply moves the referenced order to paid. A capture that points at no known
// order is acknowledged so the provider stops redelivering it; only storage
// failures are returned, which makes the provider retry.
func (r *Reconciler) Apply(ctx context.Context, capture Capture) (Outcome, error) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"provider":     r.provider,
		"event_id":     capture.EventID,
		"provider_ref": capture.ProviderRef,
	})

	ref := strings.TrimSpace(capture.OrderRef)
	if ref == "" {
		r.logg.Warn(logCtx, "payment without order reference")
		return r.done(OutcomeUnmatched), nil
	}
	orderID, err := uuid.Parse(ref)
	if err != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "order_ref", ref), "payment references malformed order id")
		return r.done(OutcomeUnmatched), nil
	}
	logCtx = r.logg.WithOrderID(logCtx, orderID.String())

	result, err := r.orders.MarkPaid(ctx, orders.CaptureInput{
		OrderID:     orderID,
		Provider:    r.provider,
		ProviderRef: capture.ProviderRef,
		EventID:     capture.EventID,
		Amount:      capture.Amount,
		Currency:    capture.Currency,
	})
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		r.logg.Warn(logCtx, "payment references unknown order")
		return r.done(OutcomeUnmatched), nil
	case err != nil:
		r.logg.Error(logCtx, "payment reconciliation failed", err)
		r.done(OutcomeFailed)
		return OutcomeFailed, err
	case result.Terminal:
		r.logg.Warn(logCtx, "payment arrived for a cancelled or completed order")
		return r.done(OutcomeTerminal), nil
	case !result.Changed:
		r.logg.Info(logCtx, "payment already applied")
		return r.done(OutcomeDuplicate), nil
	default:
		r.logg.Info(logCtx, "order marked paid")
		return r.done(OutcomeApplied), nil
	}
}

// Ignore records a delivery that carried nothing to reconcile.
func (r *Reconciler) Ignore(ctx context.Context, eventType string) Outcome {
	r.logg.Debug(r.logg.WithField(ctx, "event_type", eventType), "webhook event ignored")
	return r.done(OutcomeIgnored)
}

func (r *Reconciler) done(outcome Outcome) Outcome {
	if r.recorder != nil {
		r.recorder.ObserveWebhook(string(r.provider), string(outcome))
	}
	return outcome
}
