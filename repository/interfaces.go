// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/amirphl/Kagemusha/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// TaskRepository defines operations for the durable task queue
type TaskRepository interface {
	Repository[models.Task, models.TaskFilter]
	// ClaimDue atomically claims up to limit due pending tasks, ordered by
	// (priority ASC, scheduled_at ASC), flipping them to running before they
	// are returned. Concurrent claimers never receive the same task.
	ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.Task, error)
	// Complete marks a running task completed with the given result payload.
	Complete(ctx context.Context, taskID uint, result models.TaskParams) error
	// Fail records a task failure: reschedules with backoff while retries
	// remain, otherwise the task reaches terminal failed status.
	Fail(ctx context.Context, taskID uint, taskErr string) error
	// HasOpenTask reports whether a non-terminal task of the given type exists
	// for the managed delivery.
	HasOpenTask(ctx context.Context, deliveryID uint, taskType models.TaskType) (bool, error)
}

// DeliveryLogRepository defines operations for the append-only evaluation audit log
type DeliveryLogRepository interface {
	Repository[models.DeliveryLog, models.DeliveryLogFilter]
	ListByDelivery(ctx context.Context, deliveryID uint, limit, offset int) ([]*models.DeliveryLog, error)
	// ListRecentByDelivery returns the newest entries first, for
	// consecutive-failure derivation.
	ListRecentByDelivery(ctx context.Context, deliveryID uint, limit int) ([]*models.DeliveryLog, error)
}

// ManagedDeliveryRepository defines operations for managed delivery campaigns
type ManagedDeliveryRepository interface {
	Repository[models.ManagedDelivery, models.ManagedDeliveryFilter]
	Update(ctx context.Context, delivery *models.ManagedDelivery) error
	// UpdateStatusFrom performs an optimistic conditional status transition;
	// it fails with ErrStaleDelivery when the row no longer holds fromStatus.
	UpdateStatusFrom(ctx context.Context, delivery *models.ManagedDelivery, fromStatus models.DeliveryStatus) error
	// ListDueForCheck returns active deliveries whose next check is due.
	ListDueForCheck(ctx context.Context, now time.Time, limit int) ([]*models.ManagedDelivery, error)
}

// AccountRepository defines operations for platform accounts
type AccountRepository interface {
	Repository[models.Account, models.AccountFilter]
	Update(ctx context.Context, account *models.Account) error
	// ListActive returns active accounts ordered by id, for the periodic
	// account sync sweep.
	ListActive(ctx context.Context, limit, offset int) ([]*models.Account, error)
}
