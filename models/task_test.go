package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskTypeValid(t *testing.T) {
	for _, taskType := range []TaskType{
		TaskTypeSyncAccount,
		TaskTypeCheckCampaign,
		TaskTypeCreateCampaign,
		TaskTypePauseCampaign,
		TaskTypeRestartCampaign,
		TaskTypeSwitchWork,
	} {
		assert.True(t, taskType.Valid(), "expected %s to be valid", taskType)
	}

	assert.False(t, TaskType("").Valid())
	assert.False(t, TaskType("reap-campaign").Valid())
}

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusPending, TaskStatusFailed, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusPending, true}, // retry reschedule
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusRunning.IsTerminal())
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
}

func TestTaskRetriesExhausted(t *testing.T) {
	task := &Task{RetryCount: 2, MaxRetries: 3}
	assert.False(t, task.RetriesExhausted())

	task.RetryCount = 3
	assert.True(t, task.RetriesExhausted())
}

func TestTaskParamsAccessors(t *testing.T) {
	params := TaskParams{
		"reason":      "no leads",
		"delivery_id": float64(7), // as decoded from jsonb
		"count":       3,
	}

	assert.Equal(t, "no leads", params.String("reason"))
	assert.Equal(t, "", params.String("missing"))
	assert.Equal(t, uint(7), params.Uint("delivery_id"))
	assert.Equal(t, uint(3), params.Uint("count"))
	assert.Equal(t, uint(0), params.Uint("missing"))
	assert.Equal(t, "", TaskParams(nil).String("reason"))
}
