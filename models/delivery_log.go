package models

import (
	"time"
)

// Delivery decision constants produced by the rule engine
const (
	DeliveryDecisionContinue   = "continue"
	DeliveryDecisionRestart    = "restart"
	DeliveryDecisionPause      = "pause"
	DeliveryDecisionSwitchWork = "switch_work"
)

// DeliveryLog is the append-only audit record of one evaluation cycle for a
// managed delivery. Rows are created once per evaluation and never mutated
// or deleted; the log tail is the source of truth for consecutive-failure
// accounting.
type DeliveryLog struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ManagedDeliveryID uint      `gorm:"not null;index:idx_delivery_logs_delivery_created,priority:1" json:"managed_delivery_id"`
	Batch             int       `gorm:"not null" json:"batch"`
	CheckStage        int       `gorm:"not null;default:1" json:"check_stage"`
	PeriodStart       time.Time `gorm:"not null" json:"period_start"`
	PeriodEnd         time.Time `gorm:"not null" json:"period_end"`
	Spent             float64   `gorm:"not null;default:0" json:"spent"`
	Impressions       int64     `gorm:"not null;default:0" json:"impressions"`
	Clicks            int64     `gorm:"not null;default:0" json:"clicks"`
	CTR               float64   `gorm:"not null;default:0" json:"ctr"`
	Leads             int64     `gorm:"not null;default:0" json:"leads"`
	CostPerLead       float64   `gorm:"not null;default:0" json:"cost_per_lead"`
	FollowerDelta     *int64    `json:"follower_delta,omitempty"`
	IsEffective       bool      `gorm:"not null;default:false" json:"is_effective"`
	Decision          string    `gorm:"size:32;not null;index:idx_delivery_logs_decision" json:"decision"`
	DecisionReason    string    `gorm:"type:text;not null" json:"decision_reason"`
	CreatedAt         time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');not null;index:idx_delivery_logs_delivery_created,priority:2" json:"created_at"`

	// Relations
	ManagedDelivery *ManagedDelivery `gorm:"foreignKey:ManagedDeliveryID;references:ID" json:"managed_delivery,omitempty"`
}

// TableName returns the table name for the model
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}

// DeliveryLogFilter represents filter criteria for delivery log queries
type DeliveryLogFilter struct {
	ID                *uint      `json:"id,omitempty"`
	ManagedDeliveryID *uint      `json:"managed_delivery_id,omitempty"`
	Batch             *int       `json:"batch,omitempty"`
	Decision          *string    `json:"decision,omitempty"`
	CreatedAfter      *time.Time `json:"created_after,omitempty"`
	CreatedBefore     *time.Time `json:"created_before,omitempty"`
}
