package repository

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/utils"
	"gorm.io/gorm"
)

// ErrStaleDelivery is returned when an optimistic status transition loses the
// race against a concurrent controller.
var ErrStaleDelivery = errors.New("managed delivery was modified concurrently")

// ManagedDeliveryRepositoryImpl implements ManagedDeliveryRepository
type ManagedDeliveryRepositoryImpl struct {
	*BaseRepository[models.ManagedDelivery, models.ManagedDeliveryFilter]
}

func NewManagedDeliveryRepository(db *gorm.DB) ManagedDeliveryRepository {
	return &ManagedDeliveryRepositoryImpl{BaseRepository: NewBaseRepository[models.ManagedDelivery, models.ManagedDeliveryFilter](db)}
}

func (r *ManagedDeliveryRepositoryImpl) Update(ctx context.Context, delivery *models.ManagedDelivery) error {
	db := r.getDB(ctx)
	return db.Save(delivery).Error
}

// UpdateStatusFrom writes the delivery row only if it still holds fromStatus,
// so concurrent controllers cannot clobber each other's transitions.
func (r *ManagedDeliveryRepositoryImpl) UpdateStatusFrom(ctx context.Context, delivery *models.ManagedDelivery, fromStatus models.DeliveryStatus) error {
	db := r.getDB(ctx)
	now := utils.UTCNow()
	delivery.UpdatedAt = &now

	res := db.Model(&models.ManagedDelivery{}).
		Where("id = ? AND status = ?", delivery.ID, fromStatus).
		Updates(map[string]any{
			"status":            delivery.Status,
			"current_batch":     delivery.CurrentBatch,
			"batch_start_at":    delivery.BatchStartAt,
			"external_order_id": delivery.ExternalOrderID,
			"no_auto_restart":   delivery.NoAutoRestart,
			"check_stage":       delivery.CheckStage,
			"next_check_at":     delivery.NextCheckAt,
			"updated_at":        delivery.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleDelivery
	}
	return nil
}

// ListDueForCheck returns active deliveries whose next_check_at has passed
func (r *ManagedDeliveryRepositoryImpl) ListDueForCheck(ctx context.Context, now time.Time, limit int) ([]*models.ManagedDelivery, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []*models.ManagedDelivery
	if err := r.getDB(ctx).
		Where("status = ? AND next_check_at IS NOT NULL AND next_check_at <= ?", models.DeliveryStatusActive, now).
		Order("next_check_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ByFilter retrieves managed deliveries matching the filter criteria
func (r *ManagedDeliveryRepositoryImpl) ByFilter(ctx context.Context, filter models.ManagedDeliveryFilter, orderBy string, limit, offset int) ([]*models.ManagedDelivery, error) {
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
	var rows []*models.ManagedDelivery
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ManagedDeliveryRepositoryImpl) Count(ctx context.Context, filter models.ManagedDeliveryFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.ManagedDelivery{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ManagedDeliveryRepositoryImpl) Exists(ctx context.Context, filter models.ManagedDeliveryFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *ManagedDeliveryRepositoryImpl) applyFilter(db *gorm.DB, filter models.ManagedDeliveryFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.AccountID != nil {
		db = db.Where("account_id = ?", *filter.AccountID)
	}
	if filter.WorkID != nil {
		db = db.Where("work_id = ?", *filter.WorkID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.NextCheckDue != nil {
		db = db.Where("next_check_at IS NOT NULL AND next_check_at <= ?", *filter.NextCheckDue)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at <= ?", *filter.CreatedBefore)
	}
	return db
}
