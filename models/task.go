// Package models contains domain entities and business models for the delivery automation system
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/Kagemusha/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskType identifies the handler a task is routed to
type TaskType string

const (
	TaskTypeSyncAccount     TaskType = "sync-account"
	TaskTypeCheckCampaign   TaskType = "check-campaign"
	TaskTypeCreateCampaign  TaskType = "create-campaign"
	TaskTypePauseCampaign   TaskType = "pause-campaign"
	TaskTypeRestartCampaign TaskType = "restart-campaign"
	TaskTypeSwitchWork      TaskType = "switch-work"
)

// String returns the string representation of the type
func (t TaskType) String() string {
	return string(t)
}

// Valid checks if the task type is known
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeSyncAccount, TaskTypeCheckCampaign, TaskTypeCreateCampaign,
		TaskTypePauseCampaign, TaskTypeRestartCampaign, TaskTypeSwitchWork:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for TaskType
func (t *TaskType) Scan(value any) error {
	if value == nil {
		*t = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*t = TaskType(v)
	case []byte:
		*t = TaskType(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TaskType", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for TaskType
func (t TaskType) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid TaskType: %s", t)
	}
	return string(t), nil
}

// TaskStatus represents the lifecycle status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// String returns the string representation of the status
func (s TaskStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for TaskStatus
func (s *TaskStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = TaskStatus(v)
	case []byte:
		*s = TaskStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TaskStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for TaskStatus
func (s TaskStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid TaskStatus: %s", s)
	}
	return string(s), nil
}

// IsTerminal reports whether the status allows no further transitions.
// Completed and failed tasks are immutable; retries create a fresh pending
// cycle by bumping RetryCount before the task reaches a terminal status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo checks if the status can transition to the given status
func (s TaskStatus) CanTransitionTo(newStatus TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return newStatus == TaskStatusRunning
	case TaskStatusRunning:
		return newStatus == TaskStatusCompleted ||
			newStatus == TaskStatusFailed ||
			newStatus == TaskStatusPending // retry
	default:
		return false
	}
}

// Task represents a durable scheduled unit of work in the database
type Task struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UUID              uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_tasks_uuid" json:"uuid"`
	Type              TaskType   `gorm:"type:task_type;not null;index:idx_tasks_type" json:"type"`
	AccountID         *uint      `gorm:"index:idx_tasks_account_id" json:"account_id,omitempty"`
	WorkID            *uint      `gorm:"index:idx_tasks_work_id" json:"work_id,omitempty"`
	ManagedDeliveryID *uint      `gorm:"index:idx_tasks_managed_delivery_id" json:"managed_delivery_id,omitempty"`
	Params            TaskParams `gorm:"type:jsonb" json:"params,omitempty"`
	Status            TaskStatus `gorm:"type:task_status;not null;default:'pending';index:idx_tasks_status_scheduled,priority:1" json:"status"`
	Priority          int        `gorm:"not null;default:100" json:"priority"`
	ScheduledAt       time.Time  `gorm:"not null;index:idx_tasks_status_scheduled,priority:2" json:"scheduled_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Result            TaskParams `gorm:"type:jsonb" json:"result,omitempty"`
	Error             *string    `gorm:"type:text" json:"error,omitempty"`
	RetryCount        int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries        int        `gorm:"not null;default:3" json:"max_retries"`
	CreatedAt         time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"updated_at"`
}

// TableName returns the table name for the model
func (Task) TableName() string { return "tasks" }

// BeforeCreate is called before creating a new record
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Priority == 0 {
		t.Priority = 100
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = utils.UTCNow()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (t *Task) BeforeUpdate(tx *gorm.DB) error {
	t.UpdatedAt = utils.UTCNow()
	return nil
}

// RetriesExhausted reports whether another failure must be terminal
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// TaskParams is an opaque key/value payload interpreted by the handler for the task type
type TaskParams map[string]any

// Value implements the driver.Valuer interface for TaskParams
func (p TaskParams) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan implements the sql.Scanner interface for TaskParams
func (p *TaskParams) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into TaskParams", value)
	}

	return json.Unmarshal(bytes, p)
}

// String returns the string param for key, or "" when absent
func (p TaskParams) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Uint returns the numeric param for key, or 0 when absent.
// JSON numbers decode as float64, so both forms are accepted.
func (p TaskParams) Uint(key string) uint {
	switch v := p[key].(type) {
	case float64:
		if v > 0 {
			return uint(v)
		}
	case uint:
		return v
	case int:
		if v > 0 {
			return uint(v)
		}
	}
	return 0
}

// TaskFilter represents filter criteria for task queries
type TaskFilter struct {
	ID                *uint       `json:"id,omitempty"`
	UUID              *uuid.UUID  `json:"uuid,omitempty"`
	Type              *TaskType   `json:"type,omitempty"`
	Status            *TaskStatus `json:"status,omitempty"`
	AccountID         *uint       `json:"account_id,omitempty"`
	ManagedDeliveryID *uint       `json:"managed_delivery_id,omitempty"`
	ScheduledAfter    *time.Time  `json:"scheduled_after,omitempty"`
	ScheduledBefore   *time.Time  `json:"scheduled_before,omitempty"`
}
