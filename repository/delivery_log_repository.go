package repository

import (
	"context"

	"github.com/amirphl/Kagemusha/models"
	"gorm.io/gorm"
)

// DeliveryLogRepositoryImpl implements DeliveryLogRepository.
// The table is append-only: no update or delete methods exist.
type DeliveryLogRepositoryImpl struct {
	*BaseRepository[models.DeliveryLog, models.DeliveryLogFilter]
}

func NewDeliveryLogRepository(db *gorm.DB) DeliveryLogRepository {
	return &DeliveryLogRepositoryImpl{BaseRepository: NewBaseRepository[models.DeliveryLog, models.DeliveryLogFilter](db)}
}

// ListByDelivery returns the evaluation history of a delivery, oldest first
func (r *DeliveryLogRepositoryImpl) ListByDelivery(ctx context.Context, deliveryID uint, limit, offset int) ([]*models.DeliveryLog, error) {
	db := r.getDB(ctx).Where("managed_delivery_id = ?", deliveryID).Order("created_at ASC, id ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}
	var rows []*models.DeliveryLog
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRecentByDelivery returns the newest entries first
func (r *DeliveryLogRepositoryImpl) ListRecentByDelivery(ctx context.Context, deliveryID uint, limit int) ([]*models.DeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []*models.DeliveryLog
	if err := r.getDB(ctx).
		Where("managed_delivery_id = ?", deliveryID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ByFilter retrieves delivery logs matching the filter criteria
func (r *DeliveryLogRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryLogFilter, orderBy string, limit, offset int) ([]*models.DeliveryLog, error) {
	db := r.applyFilter(r.getDB(ctx), filter)
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}
	var rows []*models.DeliveryLog
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeliveryLogRepositoryImpl) Count(ctx context.Context, filter models.DeliveryLogFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.DeliveryLog{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DeliveryLogRepositoryImpl) Exists(ctx context.Context, filter models.DeliveryLogFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *DeliveryLogRepositoryImpl) applyFilter(db *gorm.DB, filter models.DeliveryLogFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.ManagedDeliveryID != nil {
		db = db.Where("managed_delivery_id = ?", *filter.ManagedDeliveryID)
	}
	if filter.Batch != nil {
		db = db.Where("batch = ?", *filter.Batch)
	}
	if filter.Decision != nil {
		db = db.Where("decision = ?", *filter.Decision)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
