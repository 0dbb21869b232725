//go:build integration

package periods_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirohirohiro3/marche-app-sub000/internal/checkout"
	"github.com/hirohirohiro3/marche-app-sub000/internal/orders"
	"github.com/hirohirohiro3/marche-app-sub000/internal/periods"
	"github.com/hirohirohiro3/marche-app-sub000/internal/sequence"
	"github.com/hirohirohiro3/marche-app-sub000/internal/stores"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/dbtest"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/logger"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/outbox"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/types"
)

// Run with: MARCHE_TEST_POSTGRES_DSN=postgres://... go test -tags integration ./internal/periods/
func TestCheckoutRacingResetOnPostgres(t *testing.T) {
	client := dbtest.OpenPostgres(t)
	ctx := context.Background()
	store := dbtest.SeedStore(t, client, "Race Cafe")
	t.Cleanup(func() {
		db := client.DB()
		db.Exec("DELETE FROM outbox_events WHERE aggregate_id = ? OR aggregate_id IN (SELECT id FROM orders WHERE store_id = ?)", store.ID, store.ID)
		db.Exec("DELETE FROM orders WHERE store_id = ?", store.ID)
		db.Exec("DELETE FROM order_counters WHERE store_id = ?", store.ID)
		db.Exec("DELETE FROM stores WHERE id = ?", store.ID)
	})

	allocator := sequence.NewAllocator()
	orderRepo := orders.NewRepository(client.DB())
	storeRepo := stores.NewRepository(client.DB())
	publisher := outbox.NewService(outbox.NewRepository(client.DB()), logger.Nop())

	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Tx:        client,
		Allocator: allocator,
		Orders:    orderRepo,
		Stores:    storeRepo,
		Outbox:    publisher,
		Logger:    logger.Nop(),
	}, checkout.Config{MaxAttempts: 5})
	require.NoError(t, err)
	periodSvc, err := periods.NewService(periods.Deps{
		Tx:        client,
		Orders:    orderRepo,
		Stores:    storeRepo,
		Allocator: allocator,
		Outbox:    publisher,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)

	_, err = periodSvc.Reset(ctx, store.ID, periods.TriggerStaff)
	require.NoError(t, err)

	const rounds = 25
	for round := 0; round < rounds; round++ {
		before, err := periodSvc.Counters(ctx, store.ID)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			start    = make(chan struct{})
			placed   *checkout.Result
			placeErr error
			reset    *periods.ResetResult
			resetErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			placed, placeErr = checkoutSvc.CreateOrder(ctx, checkout.Input{
				StoreID: store.ID,
				Channel: enums.OrderChannelCounter,
				Lines:   types.OrderLineItems{{Name: "Latte", Quantity: 1, UnitPrice: 500}},
			})
		}()
		go func() {
			defer wg.Done()
			<-start
			reset, resetErr = periodSvc.Reset(ctx, store.ID, periods.TriggerStaff)
		}()
		close(start)
		wg.Wait()

		require.NoError(t, placeErr, "round %d", round)
		require.NoError(t, resetErr, "round %d", round)
		require.Equal(t, before.Epoch+1, reset.Epoch, "round %d", round)

		var stored models.Order
		require.NoError(t, client.DB().Where("id = ?", placed.OrderID).First(&stored).Error)

		switch placed.Order.Epoch {
		case before.Epoch:
			// Committed first: the reset must have swept it.
			assert.Equal(t, before.NextCounterNumber, placed.OrderNumber, "round %d", round)
			assert.Contains(t, completedIDs(reset.Completed), placed.OrderID, "round %d", round)
			assert.Equal(t, enums.OrderStatusCompleted, stored.Status, "round %d", round)
		case reset.Epoch:
			// Committed after the reset: numbering restarts and the order stays open.
			assert.Equal(t, enums.OrderChannelCounter.StartingNumber(), placed.OrderNumber, "round %d", round)
			assert.NotContains(t, completedIDs(reset.Completed), placed.OrderID, "round %d", round)
			assert.Equal(t, enums.OrderStatusNew, stored.Status, "round %d", round)
		default:
			t.Fatalf("round %d: order epoch %d outside %d..%d", round, placed.Order.Epoch, before.Epoch, reset.Epoch)
		}
	}

	var duplicates int64
	require.NoError(t, client.DB().Raw(`
		SELECT COUNT(*) FROM (
			SELECT channel, epoch, order_number FROM orders
			WHERE store_id = ?
			GROUP BY channel, epoch, order_number
			HAVING COUNT(*) > 1
		) d`, store.ID).Scan(&duplicates).Error)
	assert.Zero(t, duplicates)
}

func completedIDs(list []models.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(list))
	for _, order := range list {
		ids = append(ids, order.ID)
	}
	return ids
}
