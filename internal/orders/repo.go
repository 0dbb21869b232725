package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hirohirohiro3/marche-app-sub000/pkg/db/models"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/enums"
	"github.com/hirohirohiro3/marche-app-sub000/pkg/pagination"
)

// Repository defines persistence operations for the orders table and its captures.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListSince(ctx context.Context, storeID uuid.UUID, since time.Time, exclude []enums.OrderStatus) ([]models.Order, error)
	ListPage(ctx context.Context, query PageQuery) ([]models.Order, error)
	FindInFlight(ctx context.Context, storeID uuid.UUID) ([]models.Order, error)
	CompleteInFlight(ctx context.Context, storeID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, paidAt *time.Time) (bool, error)
	CountByEventName(ctx context.Context, storeID uuid.UUID, eventName string) (int64, error)
	TotalsByStatus(ctx context.Context, storeID uuid.UUID, eventName *string) ([]StatusTotal, error)
	InsertCapture(ctx context.Context, capture *models.PaymentCapture) (bool, error)
	FindCapture(ctx context.Context, orderID uuid.UUID) (*models.PaymentCapture, error)
}

// StatusTotal is one row of the per-status aggregate.
type StatusTotal struct {
	Status  enums.OrderStatus `gorm:"column:status"`
	Count   int64             `gorm:"column:order_count"`
	Revenue int64             `gorm:"column:revenue"`
}

// PageQuery selects one keyset page of a store's order history.
type PageQuery struct {
	StoreID   uuid.UUID
	EventName *string
	Cursor    *pagination.Cursor
	Limit     int
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

type orderStamps struct {
	CreatedAt time.Time
	PaidAt    *time.Time
}

// Create inserts order. A zero CreatedAt is left to the column default and
// read back, so numbering and timestamps share the database clock. Orders
// inserted already paid take paid_at from the same value.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	db := r.db.WithContext(ctx)
	if !order.CreatedAt.IsZero() {
		return db.Create(order).Error
	}
	if err := db.Omit("created_at").Create(order).Error; err != nil {
		return err
	}
	if order.Status == enums.OrderStatusPaid && order.PaidAt == nil {
		err := db.Model(&models.Order{}).
			Where("id = ?", order.ID).
			UpdateColumn("paid_at", gorm.Expr("created_at")).Error
		if err != nil {
			return err
		}
	}
	var stamps orderStamps
	err := db.Model(&models.Order{}).
		Select("created_at, paid_at").
		Where("id = ?", order.ID).
		Scan(&stamps).Error
	if err != nil {
		return err
	}
	order.CreatedAt = stamps.CreatedAt.UTC()
	if stamps.PaidAt != nil {
		paidAt := stamps.PaidAt.UTC()
		order.PaidAt = &paidAt
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListSince(ctx context.Context, storeID uuid.UUID, since time.Time, exclude []enums.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	query := r.db.WithContext(ctx).
		Where("store_id = ? AND created_at >= ?", storeID, since.UTC())
	if len(exclude) > 0 {
		query = query.Where("status NOT IN ?", exclude)
	}
	err := query.
		Order("created_at DESC").
		Order("order_number DESC").
		Find(&orders).Error
	return orders, err
}

func (r *repository) ListPage(ctx context.Context, q PageQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Where("store_id = ?", q.StoreID)
	if q.EventName != nil {
		query = query.Where("event_name = ?", *q.EventName)
	}
	if q.Cursor != nil {
		at := q.Cursor.CreatedAt.UTC()
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", at, at, q.Cursor.ID)
	}
	var orders []models.Order
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(q.Limit).
		Find(&orders).Error
	return orders, err
}

// FindInFlight locks and returns the store's new and paid orders, so a
// concurrent status change waits for the caller's transaction.
func (r *repository) FindInFlight(ctx context.Context, storeID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("store_id = ? AND status IN ?", storeID, []enums.OrderStatus{enums.OrderStatusNew, enums.OrderStatusPaid}).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

// CompleteInFlight completes the given orders that are still new or paid.
// Rows that moved on since they were read are left alone.
func (r *repository) CompleteInFlight(ctx context.Context, storeID uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("store_id = ? AND id IN ? AND status IN ?", storeID, ids, []enums.OrderStatus{enums.OrderStatusNew, enums.OrderStatusPaid}).
		Updates(map[string]any{"status": enums.OrderStatusCompleted, "updated_at": at.UTC()})
	return res.RowsAffected, res.Error
}

// UpdateStatusIf writes to only while the row still holds from.
func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus, paidAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if paidAt != nil {
		updates["paid_at"] = paidAt.UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountByEventName(ctx context.Context, storeID uuid.UUID, eventName string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("store_id = ? AND event_name = ?", storeID, eventName).
		Count(&count).Error
	return count, err
}

func (r *repository) TotalsByStatus(ctx context.Context, storeID uuid.UUID, eventName *string) ([]StatusTotal, error) {
	var rows []StatusTotal
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS order_count, COALESCE(SUM(total_price), 0) AS revenue").
		Where("store_id = ?", storeID)
	if eventName != nil {
		query = query.Where("event_name = ?", *eventName)
	}
	err := query.Group("status").Order("status").Scan(&rows).Error
	return rows, err
}

// InsertCapture records a capture unless the order already has one.
func (r *repository) InsertCapture(ctx context.Context, capture *models.PaymentCapture) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(capture)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindCapture(ctx context.Context, orderID uuid.UUID) (*models.PaymentCapture, error) {
	var capture models.PaymentCapture
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&capture).Error; err != nil {
		return nil, err
	}
	return &capture, nil
}
