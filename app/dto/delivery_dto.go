package dto

import "time"

// EnqueueTaskRequest enqueues a task into the durable queue
type EnqueueTaskRequest struct {
	Type              string         `json:"type" validate:"required,oneof=sync-account check-campaign create-campaign pause-campaign restart-campaign switch-work"`
	AccountID         *uint          `json:"account_id,omitempty" validate:"omitempty,gt=0"`
	WorkID            *uint          `json:"work_id,omitempty" validate:"omitempty,gt=0"`
	ManagedDeliveryID *uint          `json:"managed_delivery_id,omitempty" validate:"omitempty,gt=0"`
	Params            map[string]any `json:"params,omitempty"`
	Priority          int            `json:"priority,omitempty" validate:"omitempty,gt=0,lte=1000"`
	ScheduledAt       *time.Time     `json:"scheduled_at,omitempty"`
	MaxRetries        int            `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// EnqueueTaskResponse confirms a created task
type EnqueueTaskResponse struct {
	TaskID      uint      `json:"task_id"`
	UUID        string    `json:"uuid"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// CronTriggerResponse summarizes what a cron-triggered cycle accomplished
type CronTriggerResponse struct {
	Ran                  bool          `json:"ran"`
	Processed            int           `json:"processed"`
	Succeeded            int           `json:"succeeded"`
	Failed               int           `json:"failed"`
	SweepScheduled       int           `json:"sweep_scheduled"`
	AccountSyncScheduled int           `json:"account_sync_scheduled"`
	Outcomes             []TaskOutcome `json:"outcomes,omitempty"`
}

// TaskOutcome mirrors one task result inside a cron trigger response
type TaskOutcome struct {
	TaskID   uint   `json:"task_id"`
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// DeliveryLogEntry is the API view of one evaluation audit record
type DeliveryLogEntry struct {
	ID                uint      `json:"id"`
	ManagedDeliveryID uint      `json:"managed_delivery_id"`
	Batch             int       `json:"batch"`
	CheckStage        int       `json:"check_stage"`
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	Spent             float64   `json:"spent"`
	Impressions       int64     `json:"impressions"`
	Clicks            int64     `json:"clicks"`
	CTR               float64   `json:"ctr"`
	Leads             int64     `json:"leads"`
	CostPerLead       float64   `json:"cost_per_lead"`
	FollowerDelta     *int64    `json:"follower_delta,omitempty"`
	Score             float64   `json:"score"`
	IsEffective       bool      `json:"is_effective"`
	Decision          string    `json:"decision"`
	DecisionReason    string    `json:"decision_reason"`
	CreatedAt         time.Time `json:"created_at"`
}

// ListDeliveryLogsResponse pages through a delivery's audit history
type ListDeliveryLogsResponse struct {
	DeliveryID uint               `json:"delivery_id"`
	Items      []DeliveryLogEntry `json:"items"`
	Total      int64              `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}
