package repository

import (
	"context"

	"github.com/amirphl/Kagemusha/models"
	"gorm.io/gorm"
)

// AccountRepositoryImpl implements AccountRepository
type AccountRepositoryImpl struct {
	*BaseRepository[models.Account, models.AccountFilter]
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &AccountRepositoryImpl{BaseRepository: NewBaseRepository[models.Account, models.AccountFilter](db)}
}

func (r *AccountRepositoryImpl) Update(ctx context.Context, account *models.Account) error {
	db := r.getDB(ctx)
	return db.Save(account).Error
}

func (r *AccountRepositoryImpl) ListActive(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	db := r.getDB(ctx).Where("is_active = ?", true).Order("id ASC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if offset > 0 {
		db = db.Offset(offset)
	}
	var rows []*models.Account
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ByFilter retrieves accounts matching the filter criteria
func (r *AccountRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountFilter, orderBy string, limit, offset int) ([]*models.Account, error) {
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
	var rows []*models.Account
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AccountRepositoryImpl) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Account{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *AccountRepositoryImpl) Exists(ctx context.Context, filter models.AccountFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *AccountRepositoryImpl) applyFilter(db *gorm.DB, filter models.AccountFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.PlatformUserID != nil {
		db = db.Where("platform_user_id = ?", *filter.PlatformUserID)
	}
	if filter.IsActive != nil {
		db = db.Where("is_active = ?", *filter.IsActive)
	}
	return db
}
