package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reconcile "github.com/hirohirohiro3/marche-app-sub000/internal/webhooks"
	squarewebhook "github.com/hirohirohiro3/marche-app-sub000/internal/webhooks/square"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	pkgsquare "github.com/hirohirohiro3/marche-app-sub000/pkg/square"
)

const (
	squareKey = "sq-signature-key"
	squareURL = "https://api.example.com/api/v1/webhooks/square"
)

type keyVerifier struct{}

func (keyVerifier) VerifyWebhook(body []byte, signature string) bool {
	return pkgsquare.VerifySignature(squareKey, squareURL, body, signature)
}

type fakeSquareService struct {
	calls  int
	lastID string
	err    error
}

func (f *fakeSquareService) HandleEvent(_ context.Context, event *squarewebhook.SquareWebhookEvent) (reconcile.Outcome, error) {
	f.calls++
	f.lastID = event.EventID
	if f.err != nil {
		return reconcile.OutcomeFailed, f.err
	}
	return reconcile.OutcomeApplied, nil
}

func squareRequest(body string, sign bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(body))
	if sign {
		req.Header.Set(pkgsquare.SignatureHeader, pkgsquare.Sign(squareKey, squareURL, []byte(body)))
	}
	return req
}

const squarePaymentEvent = `{"merchant_id":"M1","event_id":"sq-evt-1","type":"payment.updated","data":{"type":"payment","id":"pay_1",` +
	`"object":{"payment":{"id":"pay_1","status":"COMPLETED","reference_id":"8d7f1f43-5d2b-4bd4-9a55-3f7d2f2b9c11","amount_money":{"amount":1900,"currency":"JPY"}}}}}`

func TestSquareWebhookAppliesOnce(t *testing.T) {
	svc := &fakeSquareService{}
	handler := SquareWebhook(svc, keyVerifier{}, newGuard(t, "square-webhook"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(squarePaymentEvent, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sq-evt-1", svc.lastID)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(squarePaymentEvent, true))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(reconcile.OutcomeDuplicate), outcomeOf(t, rec))
	assert.Equal(t, 1, svc.calls)
}

func TestSquareWebhookRejectsUnsignedOrTampered(t *testing.T) {
	svc := &fakeSquareService{}
	handler := SquareWebhook(svc, keyVerifier{}, newGuard(t, "square-webhook"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(squarePaymentEvent, false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	tampered := squareRequest(squarePaymentEvent, true)
	tampered.Header.Set(pkgsquare.SignatureHeader, pkgsquare.Sign("other-key", squareURL, []byte(squarePaymentEvent)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, tampered)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeSignature), errorCodeOf(t, rec))

	assert.Zero(t, svc.calls)
}

func TestSquareWebhookRequiresEventID(t *testing.T) {
	svc := &fakeSquareService{}
	handler := SquareWebhook(svc, keyVerifier{}, newGuard(t, "square-webhook"), nil)

	body := `{"type":"payment.updated","data":{}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(body, true))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCodeOf(t, rec))
	assert.Zero(t, svc.calls)
}

func TestSquareWebhookReleasesGuardOnFailure(t *testing.T) {
	svc := &fakeSquareService{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("timeout"), "fetch payment")}
	handler := SquareWebhook(svc, keyVerifier{}, newGuard(t, "square-webhook"), nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(squarePaymentEvent, true))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	svc.err = nil
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, squareRequest(squarePaymentEvent, true))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.calls)
}
