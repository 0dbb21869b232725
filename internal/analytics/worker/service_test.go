package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/router"
	"github.com/hirohirohiro3/marche-app-sub000/internal/analytics/types"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
)

func TestBuildEnvelope(t *testing.T) {
	eventID := uuid.NewString()
	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := buildMessage(outbox.PayloadEnvelope{
		EventID:    eventID,
		OccurredAt: occurred,
		Data:       json.RawMessage(`{"orderId":"ord-1"}`),
	}, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "order",
		"aggregate_id":   " ord-1 ",
	})

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, enums.EventOrderCreated, env.EventType)
	assert.Equal(t, enums.AggregateOrder, env.AggregateType)
	assert.Equal(t, "ord-1", env.AggregateID)
	assert.Equal(t, eventID, env.EventID)
	assert.Equal(t, occurred, env.OccurredAt)
	assert.JSONEq(t, `{"orderId":"ord-1"}`, string(env.Payload))
}

func TestBuildEnvelopeFallsBackToAttributes(t *testing.T) {
	eventID := uuid.NewString()
	created := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_id":       eventID,
		"event_type":     "period_reset",
		"aggregate_type": "store",
		"aggregate_id":   "store-1",
		"created_at":     created.Format(time.RFC3339Nano),
	})

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	assert.Equal(t, eventID, env.EventID)
	assert.Equal(t, created, env.OccurredAt)
}

func TestBuildEnvelopeRejectsMissingAttributes(t *testing.T) {
	payload := outbox.PayloadEnvelope{EventID: uuid.NewString()}
	cases := map[string]map[string]string{
		"unknown event":     {"event_type": "bogus", "aggregate_type": "order", "aggregate_id": "x"},
		"unknown aggregate": {"event_type": "order_paid", "aggregate_type": "bogus", "aggregate_id": "x"},
		"missing aggregate": {"event_type": "order_paid", "aggregate_type": "order"},
	}
	for name, attrs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildEnvelope(buildMessage(payload, attrs))
			assert.Error(t, err)
		})
	}
}

func TestProcessHandlesNewEvent(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), orderMessage())
	assert.False(t, res.nack)
	assert.True(t, handler.called)
	assert.Len(t, manager.checked, 1)
	assert.Empty(t, manager.deleted)
}

func TestProcessAlreadyProcessed(t *testing.T) {
	manager := &stubManager{checkResult: true}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), orderMessage())
	assert.False(t, res.nack)
	assert.False(t, handler.called)
	assert.Len(t, manager.checked, 1)
}

func TestProcessHandlerErrorReleasesMark(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), orderMessage())
	assert.True(t, res.nack)
	assert.Len(t, manager.deleted, 1)
}

func TestProcessIdempotencyFailureNacks(t *testing.T) {
	manager := &stubManager{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), orderMessage())
	assert.True(t, res.nack)
	assert.False(t, handler.called)
}

func TestProcessInvalidEnvelopeAcks(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")})
	assert.False(t, res.nack)
	assert.False(t, handler.called)
	assert.Empty(t, manager.checked)
}

func TestProcessUnsupportedEventAcks(t *testing.T) {
	manager := &stubManager{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestService(handler, manager)

	res := svc.process(context.Background(), orderMessage())
	assert.False(t, res.nack)
	assert.Empty(t, manager.deleted)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, &stubHandler{}, &stubManager{}, logger.Nop())
	assert.Error(t, err)
}

func orderMessage() *gcppubsub.Message {
	return buildMessage(outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"storeId":"x"}`),
	}, map[string]string{
		"event_type":     "order_created",
		"aggregate_type": "order",
		"aggregate_id":   uuid.NewString(),
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: attrs}
}

func newTestService(handler Handler, manager *stubManager) *Service {
	return &Service{handler: handler, manager: manager, logg: logger.Nop()}
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(_ context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubManager struct {
	checkResult bool
	checkErr    error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubManager) CheckAndMarkProcessed(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return s.checkResult, s.checkErr
}

func (s *stubManager) Delete(_ context.Context, _ string, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return nil
}
