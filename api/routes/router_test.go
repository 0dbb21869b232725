package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	checkoutsvc "github.com/hirohirohiro3/marche-app-sub000/internal/checkout"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/internal/receipts"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/auth"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/config"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/dbtest"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
)

type memoryRedis struct {
	mu     sync.Mutex
	data   map[string]string
	counts map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counts: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string {
	return "marche:idempotency:" + scope + ":" + id
}

func (m *memoryRedis) IncrWithTTL(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memoryRedis) Ping(context.Context) error { return nil }

type testAPI struct {
	handler http.Handler
	cfg     *config.Config
	store   models.Store
}

func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.Nop()
	orderRepo := orders.NewRepository(client.DB())
	storeRepo := stores.NewRepository(client.DB())
	emitter := outbox.NewService(outbox.NewRepository(client.DB()), logg)
	allocator := sequence.NewAllocator()

	checkout, err := checkoutsvc.NewService(checkoutsvc.Deps{
		Tx: client, Allocator: allocator, Orders: orderRepo, Stores: storeRepo, Outbox: emitter, Logger: logg,
	}, checkoutsvc.Config{MaxAttempts: 3})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orderRepo, client, emitter, logg)
	require.NoError(t, err)
	periodSvc, err := periods.NewService(periods.Deps{
		Tx: client, Orders: orderRepo, Stores: storeRepo, Allocator: allocator, Outbox: emitter, Logger: logg,
	})
	require.NoError(t, err)
	receiptSvc, err := receipts.NewService(orderRepo, storeRepo, client, emitter, logg)
	require.NoError(t, err)

	cfg := &config.Config{
		App: config.AppConfig{Env: "test", CORSOrigins: "*"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "marche-test", ExpirationMinutes: 30},
		RateLimit: config.RateLimitConfig{
			CheckoutWindow: time.Minute, CheckoutIPLimit: 100,
			ReceiptWindow: time.Minute, ReceiptIPLimit: 100, ReceiptEmailLimit: 1,
		},
	}
	handler := NewRouter(cfg, logg, Deps{
		DB:       client,
		Redis:    newMemoryRedis(),
		Checkout: checkout,
		Orders:   orderSvc,
		Periods:  periodSvc,
		Receipts: receiptSvc,
		Stores:   storeRepo,
	})
	return testAPI{handler: handler, cfg: cfg, store: dbtest.SeedStore(t, client, "Cafe")}
}

func (a testAPI) token(t *testing.T, storeID uuid.UUID, role enums.StaffRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(a.cfg.JWT, time.Now(), auth.AccessTokenPayload{
		UserID: uuid.New(), StoreID: storeID, Role: role, JTI: uuid.NewString(),
	})
	require.NoError(t, err)
	return token
}

func (a testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func data(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	return envelope.Data
}

var exampleCart = map[string]any{
	"cartLines": []map[string]any{
		{"menuItemId": "espresso", "name": "Espresso", "price": 500, "quantity": 1},
		{"menuItemId": "latte", "name": "Latte", "price": 600, "quantity": 2, "selectedOptions": []map[string]any{
			{"groupId": "size", "groupName": "Size", "choices": []map[string]any{{"name": "Large", "priceModifier": 100}}},
		}},
	},
	"expectedTotal": 1900,
}

func TestCheckoutToStatusChange(t *testing.T) {
	api := newTestAPI(t)
	storePath := "/api/v1/stores/" + api.store.ID.String()

	created := api.do(t, http.MethodPost, storePath+"/orders", exampleCart, map[string]string{"Idempotency-Key": "tab-1"})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	body := data(t, created)
	assert.EqualValues(t, 101, body["orderNumber"])
	orderID := body["orderId"].(string)
	order := body["order"].(map[string]any)
	assert.EqualValues(t, 1900, order["totalPrice"])
	assert.Equal(t, "new", order["status"])

	replay := api.do(t, http.MethodPost, storePath+"/orders", exampleCart, map[string]string{"Idempotency-Key": "tab-1"})
	require.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, orderID, data(t, replay)["orderId"], "a retried submission must not create a second order")

	second := api.do(t, http.MethodPost, storePath+"/orders", exampleCart, map[string]string{"Idempotency-Key": "tab-2"})
	require.Equal(t, http.StatusCreated, second.Code)
	assert.EqualValues(t, 102, data(t, second)["orderNumber"])

	detail := api.do(t, http.MethodGet, "/api/v1/orders/"+orderID, nil, nil)
	require.Equal(t, http.StatusOK, detail.Code)
	assert.Equal(t, "new", data(t, detail)["status"])

	statusPath := storePath + "/orders/" + orderID + "/status"
	paid := map[string]string{"status": "paid"}

	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPatch, statusPath, paid, nil).Code)

	foreign := api.token(t, uuid.New(), enums.StaffRoleStaff)
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPatch, statusPath, paid, map[string]string{"Authorization": "Bearer " + foreign}).Code)

	staff := map[string]string{"Authorization": "Bearer " + api.token(t, api.store.ID, enums.StaffRoleStaff)}
	changed := api.do(t, http.MethodPatch, statusPath, paid, staff)
	require.Equal(t, http.StatusOK, changed.Code, changed.Body.String())
	assert.Equal(t, "paid", data(t, changed)["status"])

	again := api.do(t, http.MethodPatch, statusPath, paid, staff)
	assert.Equal(t, http.StatusOK, again.Code, "repeating the current status is a no-op")

	behind := api.do(t, http.MethodPatch, statusPath, map[string]string{"status": "new"}, staff)
	require.Equal(t, http.StatusOK, behind.Code)
	assert.Equal(t, "paid", data(t, behind)["status"], "a stale status never moves the order backwards")

	unpaidPath := storePath + "/orders/" + data(t, second)["orderId"].(string) + "/status"
	skipped := api.do(t, http.MethodPatch, unpaidPath, map[string]string{"status": "completed"}, staff)
	assert.Equal(t, http.StatusUnprocessableEntity, skipped.Code)

	list := api.do(t, http.MethodGet, storePath+"/orders", nil, staff)
	require.Equal(t, http.StatusOK, list.Code)
	var listed struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &listed))
	assert.Len(t, listed.Data, 2)

	history := api.do(t, http.MethodGet, storePath+"/orders/history?limit=1", nil, staff)
	require.Equal(t, http.StatusOK, history.Code)
	page := data(t, history)
	assert.Len(t, page["items"], 1)
	assert.NotEmpty(t, page["cursor"])

	badLimit := api.do(t, http.MethodGet, storePath+"/orders/history?limit=0", nil, staff)
	assert.Equal(t, http.StatusBadRequest, badLimit.Code)
}

func TestCheckoutValidation(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/v1/stores/" + api.store.ID.String() + "/orders"

	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, path, exampleCart, nil).Code, "idempotency key required")

	empty := map[string]any{"cartLines": []map[string]any{}}
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, path, empty, map[string]string{"Idempotency-Key": "k1"}).Code)

	mismatch := map[string]any{
		"cartLines":     []map[string]any{{"menuItemId": "tea", "name": "Tea", "price": 400, "quantity": 1}},
		"expectedTotal": 999,
	}
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, path, mismatch, map[string]string{"Idempotency-Key": "k2"}).Code)

	unknown := "/api/v1/stores/" + uuid.NewString() + "/orders"
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodPost, unknown, exampleCart, map[string]string{"Idempotency-Key": "k3"}).Code)
}

func TestWalkupAndReset(t *testing.T) {
	api := newTestAPI(t)
	storePath := "/api/v1/stores/" + api.store.ID.String()
	staff := map[string]string{
		"Authorization":   "Bearer " + api.token(t, api.store.ID, enums.StaffRoleStaff),
		"Idempotency-Key": "walkup-1",
	}

	walkup := map[string]any{
		"cartLines": []map[string]any{{"menuItemId": "tea", "name": "Tea", "price": 400, "quantity": 1}},
		"paid":      true,
	}
	created := api.do(t, http.MethodPost, storePath+"/walkup-orders", walkup, staff)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	body := data(t, created)
	assert.EqualValues(t, 1, body["orderNumber"])
	assert.Equal(t, "paid", body["order"].(map[string]any)["status"])

	counters := api.do(t, http.MethodGet, storePath+"/counters", nil, staff)
	require.Equal(t, http.StatusOK, counters.Code, counters.Body.String())
	assert.EqualValues(t, 1, data(t, counters)["epoch"])
	assert.EqualValues(t, 101, data(t, counters)["nextCounterNumber"])
	assert.EqualValues(t, 2, data(t, counters)["nextWalkupNumber"])

	reset := api.do(t, http.MethodPost, storePath+"/reset", nil, staff)
	require.Equal(t, http.StatusOK, reset.Code, reset.Body.String())
	assert.EqualValues(t, 1, data(t, reset)["completedOrders"])

	counters = api.do(t, http.MethodGet, storePath+"/counters", nil, staff)
	require.Equal(t, http.StatusOK, counters.Code, counters.Body.String())
	assert.EqualValues(t, 2, data(t, counters)["epoch"])
	assert.EqualValues(t, 1, data(t, counters)["nextWalkupNumber"])

	staff["Idempotency-Key"] = "walkup-2"
	next := api.do(t, http.MethodPost, storePath+"/walkup-orders", walkup, staff)
	require.Equal(t, http.StatusCreated, next.Code)
	assert.EqualValues(t, 1, data(t, next)["orderNumber"], "numbering restarts after a reset")
}

func TestEventRoutesRequireOwner(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/v1/stores/" + api.store.ID.String() + "/events/start"
	event := map[string]any{"name": "Summer Fair"}

	staff := map[string]string{"Authorization": "Bearer " + api.token(t, api.store.ID, enums.StaffRoleStaff)}
	assert.Equal(t, http.StatusForbidden, api.do(t, http.MethodPost, path, event, staff).Code)

	owner := map[string]string{"Authorization": "Bearer " + api.token(t, api.store.ID, enums.StaffRoleOwner)}
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodPost, path, event, owner).Code)

	profile := api.do(t, http.MethodGet, "/api/v1/stores/"+api.store.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, profile.Code)
	assert.Equal(t, "Summer Fair", data(t, profile)["currentEventName"])
}

func TestReceiptIsQueuedAndRateLimitedPerEmail(t *testing.T) {
	api := newTestAPI(t)
	created := api.do(t, http.MethodPost, "/api/v1/stores/"+api.store.ID.String()+"/orders", exampleCart, map[string]string{"Idempotency-Key": "r1"})
	require.Equal(t, http.StatusCreated, created.Code)
	path := "/api/v1/orders/" + data(t, created)["orderId"].(string) + "/receipt"

	first := api.do(t, http.MethodPost, path, map[string]string{"email": "guest@example.com"}, map[string]string{"Idempotency-Key": "receipt-1"})
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	second := api.do(t, http.MethodPost, path, map[string]string{"email": "guest@example.com"}, map[string]string{"Idempotency-Key": "receipt-2"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestUnconfiguredProvidersAndHealth(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusInternalServerError, api.do(t, http.MethodPost, "/api/v1/webhooks/stripe", map[string]string{}, nil).Code)
	assert.Equal(t, http.StatusInternalServerError, api.do(t, http.MethodPost, "/api/v1/webhooks/square", map[string]string{}, nil).Code)

	intent := api.do(t, http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/payment-intent", nil, map[string]string{"Idempotency-Key": "pi"})
	assert.Equal(t, http.StatusServiceUnavailable, intent.Code)

	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/live", nil, nil).Code)
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/health/ready", nil, nil).Code)
}
