package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"orderId": "abc"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "abc", body.Data.(map[string]any)["orderId"])
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "lines"})
	WriteError(context.Background(), logger.Nop(), w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeValidation), body.Error.Code)
	assert.Equal(t, "bad input", body.Error.Message)
	assert.False(t, body.Error.Retryable)
	assert.NotNil(t, body.Error.Details)
}

func TestWriteErrorMarksCheckoutConflictRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeTransaction, errors.New("could not serialize access"), "could not allocate an order number")
	WriteError(context.Background(), logger.Nop(), w, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, true, body["error"]["retryable"])
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   pkgerrors.Code
	}{
		{errors.New("boom"), http.StatusInternalServerError, pkgerrors.CodeInternal},
		{pkgerrors.Wrap(pkgerrors.CodeTransaction, errors.New("deadlock"), "allocate order number"), http.StatusServiceUnavailable, pkgerrors.CodeTransaction},
		{pkgerrors.New(pkgerrors.CodeSignature, "bad hmac"), http.StatusBadRequest, pkgerrors.CodeSignature},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, tc.err)

		assert.Equal(t, tc.status, w.Code)
		var body types.ErrorEnvelope
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, string(tc.code), body.Error.Code)
		assert.Equal(t, pkgerrors.MetadataFor(tc.code).PublicMessage, body.Error.Message)
		assert.Nil(t, body.Error.Details)
	}
}

func TestWriteErrorSetsRetryAfterOnBackpressure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), logger.Nop(), w, pkgerrors.New(pkgerrors.CodeRateLimit, "slow down"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	WriteError(context.Background(), logger.Nop(), w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
	assert.Empty(t, w.Header().Get("Retry-After"))
}
