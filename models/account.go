package models

import (
	"time"

	"github.com/amirphl/Kagemusha/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AccountThresholds is the per-account configuration consumed by the rule
// engine when judging delivery effectiveness.
type AccountThresholds struct {
	// MinConsumption is the spend floor before effectiveness is judged at all
	MinConsumption float64 `json:"min_consumption"`
	// MaxCostPerLead is the ceiling for acceptable per-lead cost
	MaxCostPerLead float64 `json:"max_cost_per_lead"`
	// MaxFailRetries is the consecutive-failure budget before abandoning the current content
	MaxFailRetries int `json:"max_fail_retries"`
}

// Account represents a platform account whose deliveries are managed
type Account struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_accounts_uuid" json:"uuid"`
	DisplayName    string     `gorm:"size:255;not null" json:"display_name"`
	PlatformUserID string     `gorm:"size:128;not null;uniqueIndex:uk_accounts_platform_user_id" json:"platform_user_id"`
	IsActive       *bool      `gorm:"default:true" json:"is_active"`
	MinConsumption *float64   `json:"min_consumption,omitempty"`
	MaxCostPerLead *float64   `json:"max_cost_per_lead,omitempty"`
	MaxFailRetries *int       `json:"max_fail_retries,omitempty"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt      time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null" json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (Account) TableName() string {
	return "accounts"
}

// BeforeCreate is called before creating a new record
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.UUID == uuid.Nil {
		a.UUID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (a *Account) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	a.UpdatedAt = &now
	return nil
}

// Thresholds resolves the account's effective thresholds, falling back to the
// provided defaults for unset fields.
func (a *Account) Thresholds(defaults AccountThresholds) AccountThresholds {
	t := defaults
	if a.MinConsumption != nil {
		t.MinConsumption = *a.MinConsumption
	}
	if a.MaxCostPerLead != nil {
		t.MaxCostPerLead = *a.MaxCostPerLead
	}
	if a.MaxFailRetries != nil {
		t.MaxFailRetries = *a.MaxFailRetries
	}
	return t
}

// AccountFilter represents filter criteria for account queries
type AccountFilter struct {
	ID             *uint      `json:"id,omitempty"`
	UUID           *uuid.UUID `json:"uuid,omitempty"`
	PlatformUserID *string    `json:"platform_user_id,omitempty"`
	IsActive       *bool      `json:"is_active,omitempty"`
}
