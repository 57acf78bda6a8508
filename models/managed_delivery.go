package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/amirphl/Kagemusha/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryStatus represents the status of a managed delivery campaign
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusActive    DeliveryStatus = "active"
	DeliveryStatusPaused    DeliveryStatus = "paused"
	DeliveryStatusCompleted DeliveryStatus = "completed"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusActive, DeliveryStatusPaused,
		DeliveryStatusCompleted, DeliveryStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for DeliveryStatus
func (s *DeliveryStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = DeliveryStatus(v)
	case []byte:
		*s = DeliveryStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into DeliveryStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for DeliveryStatus
func (s DeliveryStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid DeliveryStatus: %s", s)
	}
	return string(s), nil
}

// IsTerminal reports whether the status is final. Completed and failed
// deliveries are never re-entered into active.
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusCompleted || s == DeliveryStatusFailed
}

// ManagedDelivery represents one advertising delivery effort for a piece of
// content, tracked through active spend periods (batches). Status and
// CurrentBatch transitions are owned exclusively by the delivery flow.
type ManagedDelivery struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	UUID            uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_managed_deliveries_uuid" json:"uuid"`
	AccountID       uint           `gorm:"not null;index:idx_managed_deliveries_account_id" json:"account_id"`
	WorkID          uint           `gorm:"not null;index:idx_managed_deliveries_work_id" json:"work_id"`
	Status          DeliveryStatus `gorm:"type:delivery_status;not null;default:'pending';index:idx_managed_deliveries_status" json:"status"`
	CurrentBatch    int            `gorm:"not null;default:0" json:"current_batch"`
	BatchStartAt    *time.Time     `json:"batch_start_at,omitempty"`
	Budget          float64        `gorm:"not null;default:0" json:"budget"`
	BidAmount       float64        `gorm:"not null;default:0" json:"bid_amount"`
	ExternalOrderID *string        `gorm:"size:128;index:idx_managed_deliveries_order_id" json:"external_order_id,omitempty"`
	NoAutoRestart   bool           `gorm:"not null;default:false" json:"no_auto_restart"`
	CheckStage      int            `gorm:"not null;default:1" json:"check_stage"`
	NextCheckAt     *time.Time     `gorm:"index:idx_managed_deliveries_next_check_at" json:"next_check_at,omitempty"`
	CreatedAt       time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt       *time.Time     `json:"updated_at,omitempty"`

	// Relations
	Account *Account `gorm:"foreignKey:AccountID;references:ID" json:"account,omitempty"`
}

// TableName returns the table name for the model
func (ManagedDelivery) TableName() string {
	return "managed_deliveries"
}

// BeforeCreate is called before creating a new record
func (d *ManagedDelivery) BeforeCreate(tx *gorm.DB) error {
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	if d.Status == "" {
		d.Status = DeliveryStatusPending
	}
	if d.CheckStage == 0 {
		d.CheckStage = 1
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (d *ManagedDelivery) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	d.UpdatedAt = &now
	return nil
}

// CanTransitionTo checks if the delivery can transition to the given status
func (d *ManagedDelivery) CanTransitionTo(newStatus DeliveryStatus) bool {
	// The external platform may report the order finished from any live state.
	if newStatus == DeliveryStatusCompleted {
		return !d.Status.IsTerminal()
	}

	switch d.Status {
	case DeliveryStatusPending:
		return newStatus == DeliveryStatusActive || newStatus == DeliveryStatusFailed
	case DeliveryStatusActive:
		return newStatus == DeliveryStatusActive || // restart keeps status, bumps batch
			newStatus == DeliveryStatusPaused ||
			newStatus == DeliveryStatusFailed
	case DeliveryStatusPaused:
		return newStatus == DeliveryStatusActive || newStatus == DeliveryStatusFailed
	default:
		return false
	}
}

// ManagedDeliveryFilter represents filter criteria for managed deliveries
type ManagedDeliveryFilter struct {
	ID            *uint           `json:"id,omitempty"`
	UUID          *uuid.UUID      `json:"uuid,omitempty"`
	AccountID     *uint           `json:"account_id,omitempty"`
	WorkID        *uint           `json:"work_id,omitempty"`
	Status        *DeliveryStatus `json:"status,omitempty"`
	NextCheckDue  *time.Time      `json:"next_check_due,omitempty"`
	CreatedAfter  *time.Time      `json:"created_after,omitempty"`
	CreatedBefore *time.Time      `json:"created_before,omitempty"`
}
