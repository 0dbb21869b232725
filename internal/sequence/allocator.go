package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	pkgerrors "github.com/hirohirohiro3/marche-app-sub000/pkg/errors"
)

const initialEpoch int64 = 1

// Allocation is one reserved order number. Epoch identifies the period it belongs to.
type Allocation struct {
	Channel enums.OrderChannel
	Number  int64
	Epoch   int64
}

// Allocator is the only writer of order_counters. Every method runs on the
// caller's transaction so numbering commits or rolls back with the order rows.
type Allocator struct {
	now func() time.Time
}

func NewAllocator() *Allocator {
	return &Allocator{now: time.Now}
}

// Lock creates the store's counter row when missing and takes a row lock on it.
// Concurrent checkouts and resets for the same store queue behind this lock.
func (a *Allocator) Lock(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (*models.OrderCounter, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "allocator requires a transaction")
	}
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}

	seed := defaultCounter(storeID, a.now())
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var counter models.OrderCounter
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ?", storeID).
		Take(&counter).Error
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

// Next hands out the current value for channel and advances the counter by one.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, storeID uuid.UUID, channel enums.OrderChannel) (Allocation, error) {
	if !channel.IsValid() {
		return Allocation{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid order channel")
	}

	counter, err := a.Lock(ctx, tx, storeID)
	if err != nil {
		return Allocation{}, err
	}

	column, number := columnFor(counter, channel)
	if number < 1 {
		number = channel.StartingNumber()
	}

	res := tx.WithContext(ctx).
		Model(&models.OrderCounter{}).
		Where("store_id = ?", storeID).
		Updates(map[string]any{column: number + 1, "updated_at": a.now().UTC()})
	if res.Error != nil {
		return Allocation{}, res.Error
	}
	if res.RowsAffected != 1 {
		return Allocation{}, errors.New("order counter row vanished during allocation")
	}

	return Allocation{Channel: channel, Number: number, Epoch: counter.Epoch}, nil
}

// Reset rewinds both channels to their starting numbers and opens a new epoch.
// It upserts so a store that never checked out is initialized too.
func (a *Allocator) Reset(ctx context.Context, tx *gorm.DB, storeID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "allocator requires a transaction")
	}
	if storeID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}

	now := a.now().UTC()
	seed := defaultCounter(storeID, now)
	err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"next_counter_order_number": enums.OrderChannelCounter.StartingNumber(),
				"next_walkup_order_number":  enums.OrderChannelWalkup.StartingNumber(),
				"epoch":                     gorm.Expr("order_counters.epoch + 1"),
				"updated_at":                now,
			}),
		}).
		Create(&seed).Error
	if err != nil {
		return 0, err
	}

	var counter models.OrderCounter
	if err := tx.WithContext(ctx).Where("store_id = ?", storeID).Take(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Epoch, nil
}

// Peek reads the counters without locking. Missing rows report the defaults.
func (a *Allocator) Peek(ctx context.Context, conn *gorm.DB, storeID uuid.UUID) (models.OrderCounter, error) {
	var counter models.OrderCounter
	err := conn.WithContext(ctx).Where("store_id = ?", storeID).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return defaultCounter(storeID, a.now()), nil
	}
	return counter, err
}

func defaultCounter(storeID uuid.UUID, now time.Time) models.OrderCounter {
	return models.OrderCounter{
		StoreID:                storeID,
		NextCounterOrderNumber: enums.OrderChannelCounter.StartingNumber(),
		NextWalkupOrderNumber:  enums.OrderChannelWalkup.StartingNumber(),
		Epoch:                  initialEpoch,
		UpdatedAt:              now.UTC(),
	}
}

func columnFor(counter *models.OrderCounter, channel enums.OrderChannel) (string, int64) {
	if channel == enums.OrderChannelWalkup {
		return "next_walkup_order_number", counter.NextWalkupOrderNumber
	}
	return "next_counter_order_number", counter.NextCounterOrderNumber
}
