package receipts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/dbtest"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox/payloads"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

func newService(t *testing.T) (*db.Client, Service) {
	t.Helper()
	client := dbtest.Open(t)
	svc, err := NewService(
		orders.NewRepository(client.DB()),
		stores.NewRepository(client.DB()),
		client,
		outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop()),
		logger.Nop(),
	)
	require.NoError(t, err)
	return client, svc
}

func seedOrder(t *testing.T, client *db.Client, storeID uuid.UUID, createdAt time.Time) models.Order {
	t.Helper()
	order := models.Order{
		ID:          uuid.New(),
		StoreID:     storeID,
		OrderNumber: 104,
		Channel:     enums.OrderChannelCounter,
		Epoch:       1,
		Items: types.OrderLineItems{
			{Name: "Espresso", Quantity: 1, UnitPrice: 500},
			{Name: "Latte", Quantity: 2, UnitPrice: 700, SelectedOptions: []types.SelectedOption{{GroupName: "Size", ChoiceName: "Large", PriceModifier: 100}}},
		},
		TotalPrice: 1900,
		Status:     enums.OrderStatusPaid,
		CreatedAt:  createdAt.UTC(),
	}
	require.NoError(t, client.DB().Create(&order).Error)
	return order
}

func TestSendReceiptQueuesOutboxEvent(t *testing.T) {
	client, svc := newService(t)
	invoice := "T1234567890123"
	store := models.Store{ID: uuid.New(), Name: "Harbor Coffee", InvoiceNumber: &invoice}
	require.NoError(t, client.DB().Create(&store).Error)
	// 16:30 UTC is already the next day in Japan.
	order := seedOrder(t, client, store.ID, time.Date(2026, 3, 31, 16, 30, 0, 0, time.UTC))

	receipt, err := svc.SendReceipt(context.Background(), order.ID, " guest@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", receipt.Email)
	assert.Equal(t, "Harbor Coffee", receipt.StoreName)
	assert.Equal(t, "2026/04/01", receipt.OrderDate)
	assert.Equal(t, &invoice, receipt.InvoiceNumber)
	assert.Equal(t, int64(172), receipt.TaxIncluded)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, int64(1400), receipt.Lines[1].Subtotal)
	assert.Equal(t, []string{"Size: Large (+¥100)"}, receipt.Lines[1].Options)

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Where("event_type = ?", enums.EventReceiptRequested).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, order.ID, rows[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	var queued payloads.ReceiptRequestedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &queued))
	assert.Equal(t, *receipt, queued)
}

func TestSendReceiptFallsBackToDefaultStoreName(t *testing.T) {
	client, svc := newService(t)
	order := seedOrder(t, client, uuid.New(), time.Now())

	receipt, err := svc.SendReceipt(context.Background(), order.ID, "guest@example.com")
	require.NoError(t, err)
	assert.Equal(t, stores.DefaultDisplayName, receipt.StoreName)
	assert.Nil(t, receipt.InvoiceNumber)
}

func TestSendReceiptValidation(t *testing.T) {
	_, svc := newService(t)
	ctx := context.Background()

	_, err := svc.SendReceipt(ctx, uuid.Nil, "guest@example.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.SendReceipt(ctx, uuid.New(), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.SendReceipt(ctx, uuid.New(), "not-an-email")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.SendReceipt(ctx, uuid.New(), "guest@example.com")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestIncludedTax(t *testing.T) {
	assert.Equal(t, int64(100), IncludedTax(1100))
	assert.Equal(t, int64(172), IncludedTax(1900))
	assert.Equal(t, int64(0), IncludedTax(0))
}
