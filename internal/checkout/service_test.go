package checkout

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hirohirohiro3/marche-app-sub000/internal/cart"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/dbtest"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	attempts []int
}

func (r *countingRecorder) ObserveCheckout(channel, result string, attempts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[channel+":"+result]++
	r.attempts = append(r.attempts, attempts)
}

type flakyTx struct {
	inner    txRunner
	failures int
	calls    int
	err      error
}

func (f *flakyTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if f.failures > 0 {
		f.failures--
		if f.err != nil {
			return f.err
		}
		return errors.New("database is locked")
	}
	return f.inner.WithTx(ctx, fn)
}

type env struct {
	client   *db.Client
	store    models.Store
	svc      Service
	recorder *countingRecorder
}

func newEnv(t *testing.T, tx func(*db.Client) txRunner) env {
	t.Helper()
	client := dbtest.Open(t)
	var runner txRunner = client
	if tx != nil {
		runner = tx(client)
	}
	recorder := &countingRecorder{}
	svc, err := NewService(Deps{
		Tx:        runner,
		Allocator: sequence.NewAllocator(),
		Orders:    orders.NewRepository(client.DB()),
		Stores:    stores.NewRepository(client.DB()),
		Outbox:    outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		Recorder:  recorder,
		Logger:    logger.Nop(),
	}, Config{MaxAttempts: 3})
	require.NoError(t, err)
	return env{client: client, store: dbtest.SeedStore(t, client, "Cafe"), svc: svc, recorder: recorder}
}

func exampleCart() *cart.Cart {
	c := cart.New()
	c.AddItem(cart.MenuItem{ID: "espresso", Name: "Espresso", Price: 500})
	c.AddItemQuantity(cart.MenuItem{ID: "latte", Name: "Latte", Price: 600}, 2,
		cart.SelectedOptionGroup{GroupID: "size", GroupName: "Size", Choices: []cart.OptionChoice{{Name: "Large", PriceModifier: 100}}})
	return c
}

func TestCreateFromCartBuildsOrder(t *testing.T) {
	e := newEnv(t, nil)
	c := exampleCart()

	res, err := e.svc.CreateFromCart(context.Background(), e.store.ID, c, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(101), res.OrderNumber)
	assert.NotEmpty(t, res.CustomerRef)
	assert.False(t, c.IsEmpty(), "checkout leaves clearing the cart to the caller")

	var stored models.Order
	require.NoError(t, e.client.DB().Where("id = ?", res.OrderID).First(&stored).Error)
	assert.Equal(t, int64(1900), stored.TotalPrice)
	assert.Equal(t, enums.OrderStatusNew, stored.Status)
	assert.Equal(t, enums.OrderChannelCounter, stored.Channel)
	assert.Equal(t, int64(1), stored.Epoch)
	assert.Equal(t, types.OrderLineItems{
		{Name: "Espresso", Quantity: 1, UnitPrice: 500},
		{Name: "Latte", Quantity: 2, UnitPrice: 700, SelectedOptions: []types.SelectedOption{{GroupName: "Size", ChoiceName: "Large", PriceModifier: 100}}},
	}, stored.Items)
	require.NotNil(t, stored.CustomerRef)
	assert.Equal(t, res.CustomerRef, *stored.CustomerRef)
	assert.Nil(t, stored.PaidAt)

	var events []models.OutboxEvent
	require.NoError(t, e.client.DB().Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
}

func TestCreateOrderKeepsCustomerRefAndEventName(t *testing.T) {
	e := newEnv(t, nil)
	name := "Harvest Fair"
	require.NoError(t, stores.NewRepository(e.client.DB()).SetCurrentEventName(context.Background(), e.store.ID, &name))

	ref := "device-token"
	res, err := e.svc.CreateFromCart(context.Background(), e.store.ID, exampleCart(), &ref)
	require.NoError(t, err)
	assert.Equal(t, ref, res.CustomerRef)
	require.NotNil(t, res.Order.EventName)
	assert.Equal(t, name, *res.Order.EventName)
}

func TestChannelsNumberIndependently(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	lines := types.OrderLineItems{{Name: "Tea", Quantity: 1, UnitPrice: 400}}

	first, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Channel: enums.OrderChannelCounter, Lines: lines})
	require.NoError(t, err)
	walkup, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Channel: enums.OrderChannelWalkup, Lines: lines, Paid: true})
	require.NoError(t, err)
	second, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Lines: lines})
	require.NoError(t, err)

	assert.Equal(t, int64(101), first.OrderNumber)
	assert.Equal(t, int64(1), walkup.OrderNumber)
	assert.Equal(t, int64(102), second.OrderNumber)
	assert.Equal(t, enums.OrderStatusPaid, walkup.Order.Status)
	assert.NotNil(t, walkup.Order.PaidAt)

	var paidEvents int64
	require.NoError(t, e.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPaid).Count(&paidEvents).Error)
	assert.Equal(t, int64(1), paidEvents)
}

func TestConcurrentCheckoutsGetDistinctNumbers(t *testing.T) {
	e := newEnv(t, nil)
	const n = 8

	var wg sync.WaitGroup
	numbers := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.svc.CreateFromCart(context.Background(), e.store.ID, exampleCart(), nil)
			errs[i] = err
			if err == nil {
				numbers[i] = res.OrderNumber
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Slice(numbers, func(a, b int) bool { return numbers[a] < numbers[b] })
	for i, number := range numbers {
		assert.Equal(t, int64(101+i), number)
	}
}

func TestCheckoutValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	line := types.OrderLineItems{{Name: "Tea", Quantity: 1, UnitPrice: 400}}
	wrongTotal := int64(1)

	cases := map[string]Input{
		"missing store":      {Lines: line},
		"empty lines":        {StoreID: e.store.ID},
		"bad channel":        {StoreID: e.store.ID, Channel: "drive-thru", Lines: line},
		"zero quantity":      {StoreID: e.store.ID, Lines: types.OrderLineItems{{Name: "Tea", Quantity: 0, UnitPrice: 400}}},
		"blank name":         {StoreID: e.store.ID, Lines: types.OrderLineItems{{Name: " ", Quantity: 1, UnitPrice: 400}}},
		"negative price":     {StoreID: e.store.ID, Lines: types.OrderLineItems{{Name: "Tea", Quantity: 1, UnitPrice: -1}}},
		"paid counter order": {StoreID: e.store.ID, Lines: line, Paid: true},
		"total mismatch":     {StoreID: e.store.ID, Lines: line, ExpectedTotal: &wrongTotal},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.svc.CreateOrder(ctx, input)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}

	_, err := e.svc.CreateFromCart(ctx, e.store.ID, cart.New(), nil)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestCheckoutRejectsTotalsPastInt64(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	cases := map[string]types.OrderLineItems{
		"line wraps":  {{Name: "Gold", Quantity: 2, UnitPrice: math.MaxInt64/2 + 1}},
		"total wraps": {{Name: "A", Quantity: 1, UnitPrice: math.MaxInt64}, {Name: "B", Quantity: 1, UnitPrice: 1}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Lines: lines})
			assert.Nil(t, res)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}

	var count int64
	require.NoError(t, e.client.DB().Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, e.client.DB().Model(&models.OrderCounter{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCheckoutTimestampsComeFromDatabase(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	e.svc.(*service).now = func() time.Time { return time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC) }
	lines := types.OrderLineItems{{Name: "Tea", Quantity: 1, UnitPrice: 400}}

	before := time.Now().UTC().Add(-time.Minute)
	counter, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Lines: lines})
	require.NoError(t, err)
	walkup, err := e.svc.CreateOrder(ctx, Input{StoreID: e.store.ID, Channel: enums.OrderChannelWalkup, Lines: lines, Paid: true})
	require.NoError(t, err)

	assert.True(t, counter.Order.CreatedAt.After(before), "created_at %s should come from the database clock", counter.Order.CreatedAt)
	assert.False(t, walkup.Order.CreatedAt.Before(counter.Order.CreatedAt))

	var stored models.Order
	require.NoError(t, e.client.DB().Where("id = ?", walkup.OrderID).First(&stored).Error)
	assert.True(t, stored.CreatedAt.Equal(walkup.Order.CreatedAt))
	require.NotNil(t, stored.PaidAt)
	assert.True(t, stored.PaidAt.Equal(stored.CreatedAt))
	require.NotNil(t, walkup.Order.PaidAt)
	assert.True(t, walkup.Order.PaidAt.Equal(walkup.Order.CreatedAt))
}

func TestCheckoutUnknownStoreLeavesNoTrace(t *testing.T) {
	e := newEnv(t, nil)
	c := exampleCart()

	_, err := e.svc.CreateFromCart(context.Background(), uuid.New(), c, nil)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Equal(t, int64(3), c.TotalItems())

	var count int64
	require.NoError(t, e.client.DB().Model(&models.OrderCounter{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCheckoutRetriesTransientConflicts(t *testing.T) {
	flaky := &flakyTx{failures: 2}
	e := newEnv(t, func(c *db.Client) txRunner { flaky.inner = c; return flaky })

	res, err := e.svc.CreateFromCart(context.Background(), e.store.ID, exampleCart(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(101), res.OrderNumber)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, []int{3}, e.recorder.attempts)
}

func TestCheckoutSurfacesTransactionFailure(t *testing.T) {
	flaky := &flakyTx{failures: 10}
	e := newEnv(t, func(c *db.Client) txRunner { flaky.inner = c; return flaky })
	c := exampleCart()

	_, err := e.svc.CreateFromCart(context.Background(), e.store.ID, c, nil)
	assert.Equal(t, pkgerrors.CodeTransaction, pkgerrors.CodeOf(err))
	assert.Equal(t, 3, flaky.calls)
	assert.False(t, c.IsEmpty())
	assert.Equal(t, 1, e.recorder.outcomes["counter:failure"])
}

func TestCheckoutReportsNumberCollision(t *testing.T) {
	flaky := &flakyTx{failures: 10, err: errors.New("UNIQUE constraint failed: orders.store_id, orders.channel, orders.epoch, orders.order_number")}
	e := newEnv(t, func(c *db.Client) txRunner { flaky.inner = c; return flaky })

	_, err := e.svc.CreateFromCart(context.Background(), e.store.ID, exampleCart(), nil)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeTransaction, typed.Code())
	assert.Equal(t, map[string]any{"attempts": 3, "reason": "number_collision"}, typed.Details())
	assert.Equal(t, 3, flaky.calls)
}
