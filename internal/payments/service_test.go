package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/dbtest"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	pkgstripe "github.com/hirohirohiro3/marche-app-sub000/pkg/stripe"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

type fakeCreator struct {
	calls []pkgstripe.IntentParams
	err   error
}

func (f *fakeCreator) CreatePaymentIntent(_ context.Context, params pkgstripe.IntentParams) (*stripe.PaymentIntent, error) {
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{ID: "pi_" + params.OrderID, ClientSecret: "secret_" + params.OrderID}, nil
}

func setup(t *testing.T, creator *fakeCreator) (*db.Client, Service) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(
		orders.NewRepository(client.DB()),
		stores.NewRepository(client.DB()),
		creator,
		Config{FeeRate: decimal.NewFromFloat(0.05)},
		logger.Nop(),
	)
	require.NoError(t, err)
	return client, svc
}

func seedStore(t *testing.T, client *db.Client, account *string) models.Store {
	t.Helper()
	store := models.Store{ID: uuid.New(), Name: "Cafe", StripeAccountID: account}
	require.NoError(t, client.DB().Create(&store).Error)
	return store
}

func seedOrder(t *testing.T, client *db.Client, storeID uuid.UUID, status enums.OrderStatus, total int64) models.Order {
	t.Helper()
	order := models.Order{
		ID:          uuid.New(),
		StoreID:     storeID,
		OrderNumber: 101,
		Channel:     enums.OrderChannelCounter,
		Epoch:       1,
		Items:       types.OrderLineItems{{Name: "Latte", Quantity: 1, UnitPrice: total}},
		TotalPrice:  total,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, client.DB().Create(&order).Error)
	return order
}

func TestCreatePaymentIntent(t *testing.T) {
	creator := &fakeCreator{}
	client, svc := setup(t, creator)
	account := "acct_123"
	store := seedStore(t, client, &account)
	order := seedOrder(t, client, store.ID, enums.OrderStatusNew, 1900)

	result, err := svc.CreatePaymentIntent(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, "secret_"+order.ID.String(), result.ClientSecret)
	assert.Equal(t, int64(1900), result.Amount)
	assert.Equal(t, int64(95), result.ApplicationFee)
	assert.Equal(t, "jpy", result.Currency)

	require.Len(t, creator.calls, 1)
	assert.Equal(t, pkgstripe.IntentParams{
		OrderID:        order.ID.String(),
		Amount:         1900,
		Currency:       "jpy",
		ApplicationFee: 95,
		Destination:    "acct_123",
	}, creator.calls[0])
}

func TestCreatePaymentIntentRejections(t *testing.T) {
	creator := &fakeCreator{}
	client, svc := setup(t, creator)
	ctx := context.Background()
	account := "acct_123"
	withAccount := seedStore(t, client, &account)
	withoutAccount := seedStore(t, client, nil)

	_, err := svc.CreatePaymentIntent(ctx, uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.CreatePaymentIntent(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	paid := seedOrder(t, client, withAccount.ID, enums.OrderStatusPaid, 1000)
	_, err = svc.CreatePaymentIntent(ctx, paid.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	noAccount := seedOrder(t, client, withoutAccount.ID, enums.OrderStatusNew, 1000)
	_, err = svc.CreatePaymentIntent(ctx, noAccount.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	assert.Empty(t, creator.calls)
}

func TestCreatePaymentIntentWrapsProviderFailure(t *testing.T) {
	creator := &fakeCreator{err: errors.New("connection reset")}
	client, svc := setup(t, creator)
	account := "acct_123"
	store := seedStore(t, client, &account)
	order := seedOrder(t, client, store.ID, enums.OrderStatusNew, 500)

	_, err := svc.CreatePaymentIntent(context.Background(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestApplicationFeeRounding(t *testing.T) {
	rate := decimal.NewFromFloat(0.05)
	assert.Equal(t, int64(95), ApplicationFee(1900, rate))
	assert.Equal(t, int64(1), ApplicationFee(10, rate))
	assert.Equal(t, int64(0), ApplicationFee(9, rate))
	assert.Equal(t, int64(0), ApplicationFee(1000, decimal.Zero))
}
