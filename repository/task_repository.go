package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTaskTerminal is returned when a completed/failed task is mutated
var ErrTaskTerminal = errors.New("task is in a terminal status")

// DefaultRetryBackoff is applied between retry attempts of a failed task.
// The task becomes due again one backoff interval after each failure rather
// than on the immediately following tick.
const DefaultRetryBackoff = time.Minute

// TaskRepositoryImpl implements TaskRepository
type TaskRepositoryImpl struct {
	*BaseRepository[models.Task, models.TaskFilter]
	retryBackoff time.Duration
}

func NewTaskRepository(db *gorm.DB) TaskRepository {
	return &TaskRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Task, models.TaskFilter](db),
		retryBackoff:   DefaultRetryBackoff,
	}
}

// NewTaskRepositoryWithBackoff creates a task repository with a custom retry backoff
func NewTaskRepositoryWithBackoff(db *gorm.DB, backoff time.Duration) TaskRepository {
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &TaskRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Task, models.TaskFilter](db),
		retryBackoff:   backoff,
	}
}

// ClaimDue selects due pending tasks with row locks (SKIP LOCKED) and flips
// them to running inside one transaction, so concurrent claimers never
// receive overlapping sets.
func (r *TaskRepositoryImpl) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	var claimed []*models.Task
	err := WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		var rows []*models.Task
		if err := db.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND scheduled_at <= ?", models.TaskStatusPending, now).
			Order("priority ASC, scheduled_at ASC, id ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(rows))
		for _, t := range rows {
			ids = append(ids, t.ID)
		}
		if err := db.Model(&models.Task{}).
			Where("id IN ? AND status = ?", ids, models.TaskStatusPending).
			Updates(map[string]any{
				"status":     models.TaskStatusRunning,
				"started_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		for _, t := range rows {
			t.Status = models.TaskStatusRunning
			startedAt := now
			t.StartedAt = &startedAt
			t.UpdatedAt = now
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due tasks: %w", err)
	}
	return claimed, nil
}

// Complete marks a running task completed and stores its result
func (r *TaskRepositoryImpl) Complete(ctx context.Context, taskID uint, result models.TaskParams) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		task, err := r.lockByID(db, taskID)
		if err != nil {
			return err
		}
		if !task.Status.CanTransitionTo(models.TaskStatusCompleted) {
			return fmt.Errorf("complete task %d from status %s: %w", taskID, task.Status, ErrTaskTerminal)
		}

		now := utils.UTCNow()
		task.Status = models.TaskStatusCompleted
		task.CompletedAt = &now
		task.Result = result
		task.Error = nil
		task.UpdatedAt = now
		return db.Save(task).Error
	})
}

// Fail records a task failure. While retries remain the task goes back to
// pending with scheduled_at pushed forward by the backoff; once the budget is
// spent the task reaches terminal failed status and is never claimed again.
func (r *TaskRepositoryImpl) Fail(ctx context.Context, taskID uint, taskErr string) error {
	return WithTransaction(ctx, r.DB, func(txCtx context.Context) error {
		db := r.getDB(txCtx)

		task, err := r.lockByID(db, taskID)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return fmt.Errorf("fail task %d from status %s: %w", taskID, task.Status, ErrTaskTerminal)
		}

		now := utils.UTCNow()
		task.Error = &taskErr
		task.UpdatedAt = now

		if task.RetriesExhausted() {
			task.Status = models.TaskStatusFailed
			task.CompletedAt = &now
			return db.Save(task).Error
		}

		task.RetryCount++
		task.Status = models.TaskStatusPending
		task.ScheduledAt = now.Add(r.retryBackoff)
		task.StartedAt = nil
		return db.Save(task).Error
	})
}

// HasOpenTask reports whether a pending or running task of the given type
// exists for the managed delivery.
func (r *TaskRepositoryImpl) HasOpenTask(ctx context.Context, deliveryID uint, taskType models.TaskType) (bool, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.Task{}).
		Where("managed_delivery_id = ? AND type = ? AND status IN ?",
			deliveryID, taskType, []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *TaskRepositoryImpl) lockByID(db *gorm.DB, taskID uint) (*models.Task, error) {
	var task models.Task
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %d not found", taskID)
		}
		return nil, err
	}
	return &task, nil
}

// ByFilter retrieves tasks matching the filter criteria
func (r *TaskRepositoryImpl) ByFilter(ctx context.Context, filter models.TaskFilter, orderBy string, limit, offset int) ([]*models.Task, error) {
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
	var rows []*models.Task
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TaskRepositoryImpl) Count(ctx context.Context, filter models.TaskFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Task{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *TaskRepositoryImpl) Exists(ctx context.Context, filter models.TaskFilter) (bool, error) {
	c, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (r *TaskRepositoryImpl) applyFilter(db *gorm.DB, filter models.TaskFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.Type != nil {
		db = db.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.AccountID != nil {
		db = db.Where("account_id = ?", *filter.AccountID)
	}
	if filter.ManagedDeliveryID != nil {
		db = db.Where("managed_delivery_id = ?", *filter.ManagedDeliveryID)
	}
	if filter.ScheduledAfter != nil {
		db = db.Where("scheduled_at >= ?", *filter.ScheduledAfter)
	}
	if filter.ScheduledBefore != nil {
		db = db.Where("scheduled_at <= ?", *filter.ScheduledBefore)
	}
	return db
}
