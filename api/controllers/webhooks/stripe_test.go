package webhooks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	reconcile "github.com/hirohirohiro3/marche-app-sub000/internal/webhooks"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	pkgstripe "github.com/hirohirohiro3/marche-app-sub000/pkg/stripe"
)

const stripeSecret = "whsec_test"

type secretVerifier struct {
	secret string
}

func (v secretVerifier) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return pkgstripe.VerifyEvent(payload, header, v.secret)
}

type fakeStripeService struct {
	calls   int
	outcome reconcile.Outcome
	err     error
}

func (f *fakeStripeService) HandleEvent(_ context.Context, event *stripe.Event) (reconcile.Outcome, error) {
	f.calls++
	return f.outcome, f.err
}

func signedStripeRequest(t *testing.T, eventID string) *http.Request {
	t.Helper()
	payload := []byte(`{"id":"` + eventID + `","object":"event","type":"payment_intent.succeeded","api_version":"2020-08-27",` +
		`"data":{"object":{"id":"pi_1","object":"payment_intent","amount":1900,"amount_received":1900,"currency":"jpy","metadata":{"orderId":"8d7f1f43-5d2b-4bd4-9a55-3f7d2f2b9c11"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    stripeSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func TestStripeWebhookAppliesOnceAndAcknowledgesReplays(t *testing.T) {
	svc := &fakeStripeService{outcome: reconcile.OutcomeApplied}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t, "stripe-webhook"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedStripeRequest(t, "evt_1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(reconcile.OutcomeApplied), outcomeOf(t, rec))

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, signedStripeRequest(t, "evt_1"))
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, string(reconcile.OutcomeDuplicate), outcomeOf(t, replay))
	assert.Equal(t, 1, svc.calls)
}

func TestStripeWebhookRejectsBadSignatures(t *testing.T) {
	svc := &fakeStripeService{outcome: reconcile.OutcomeApplied}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t, "stripe-webhook"), nil)

	tampered := signedStripeRequest(t, "evt_2")
	tampered.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, tampered)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeSignature), errorCodeOf(t, rec))

	missing := signedStripeRequest(t, "evt_3")
	missing.Header.Del("Stripe-Signature")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, missing)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, svc.calls)
}

func TestStripeWebhookWithoutSecretAnswersServerError(t *testing.T) {
	handler := StripeWebhook(&fakeStripeService{}, nil, nil, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedStripeRequest(t, "evt_4"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStripeWebhookReleasesGuardOnFailure(t *testing.T) {
	svc := &fakeStripeService{
		outcome: reconcile.OutcomeFailed,
		err:     pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "load order"),
	}
	handler := StripeWebhook(svc, secretVerifier{secret: stripeSecret}, newGuard(t, "stripe-webhook"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedStripeRequest(t, "evt_5"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = nil
	svc.outcome = reconcile.OutcomeApplied
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedStripeRequest(t, "evt_5"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls, "a failed delivery must be processed again on redelivery")
}
