package businessflow

import (
	"testing"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/stretchr/testify/assert"
)

func defaultThresholds() models.AccountThresholds {
	return models.AccountThresholds{
		MinConsumption: 50,
		MaxCostPerLead: 30,
		MaxFailRetries: 3,
	}
}

func TestEvaluateDeliveryBelowSpendFloor(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:   defaultThresholds(),
		CurrentSpent: 30,
		CurrentLeads: 0,
	})

	assert.Equal(t, models.DeliveryDecisionContinue, result.Decision)
	assert.False(t, result.IsEffective)
	assert.Equal(t, RecheckIntervalMedium, result.NextCheckIn)
	assert.Contains(t, result.Reason, "below threshold")
}

func TestEvaluateDeliveryBelowFloorIgnoresFailureHistory(t *testing.T) {
	// The spend floor rule fires before any failure accounting, so even a
	// long failure streak cannot trigger a switch while spend is low.
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 10,
		CurrentSpent:        10,
		CurrentLeads:        0,
	})

	assert.Equal(t, models.DeliveryDecisionContinue, result.Decision)
}

func TestEvaluateDeliveryZeroLeadsRestarts(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 0,
		CurrentSpent:        80,
		CurrentLeads:        0,
	})

	assert.Equal(t, models.DeliveryDecisionRestart, result.Decision)
	assert.False(t, result.IsEffective)
}

func TestEvaluateDeliveryZeroLeadsSwitchesAtBudget(t *testing.T) {
	// With MaxFailRetries=3, the streak reaching 2 means this evaluation is
	// the third failure in a row.
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 2,
		CurrentSpent:        80,
		CurrentLeads:        0,
	})

	assert.Equal(t, models.DeliveryDecisionSwitchWork, result.Decision)
	assert.Contains(t, result.Reason, "switching content")
}

func TestEvaluateDeliveryZeroLeadsOneBeforeBudget(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 1,
		CurrentSpent:        80,
		CurrentLeads:        0,
	})

	assert.Equal(t, models.DeliveryDecisionRestart, result.Decision)
}

func TestEvaluateDeliveryCostlyLeadsRestart(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 0,
		CurrentSpent:        100,
		CurrentLeads:        2,
		CurrentCostPerLead:  50,
	})

	assert.Equal(t, models.DeliveryDecisionRestart, result.Decision)
	assert.Contains(t, result.Reason, "over ceiling")
}

func TestEvaluateDeliveryCostlyLeadsSwitchAtBudget(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 2,
		CurrentSpent:        100,
		CurrentLeads:        2,
		CurrentCostPerLead:  50,
	})

	assert.Equal(t, models.DeliveryDecisionSwitchWork, result.Decision)
}

func TestEvaluateDeliveryEffective(t *testing.T) {
	result := EvaluateDelivery(RuleContext{
		Thresholds:          defaultThresholds(),
		ConsecutiveFailures: 2, // an effective cycle ignores the streak
		CurrentSpent:        100,
		CurrentLeads:        5,
		CurrentCostPerLead:  20,
	})

	assert.Equal(t, models.DeliveryDecisionContinue, result.Decision)
	assert.True(t, result.IsEffective)
	assert.Equal(t, RecheckIntervalLong, result.NextCheckIn)
}

func TestEvaluateDeliveryCostPerLeadAtCeilingIsEffective(t *testing.T) {
	// The ceiling check is strictly greater-than; exactly at the ceiling
	// still counts as effective.
	result := EvaluateDelivery(RuleContext{
		Thresholds:         defaultThresholds(),
		CurrentSpent:       90,
		CurrentLeads:       3,
		CurrentCostPerLead: 30,
	})

	assert.Equal(t, models.DeliveryDecisionContinue, result.Decision)
	assert.True(t, result.IsEffective)
}

func TestCalculatePerformanceScore(t *testing.T) {
	tests := []struct {
		name        string
		costPerLead float64
		maxCost     float64
		leads       int64
		expected    float64
	}{
		{"no leads scores zero", 0, 30, 0, 0},
		{"typical delivery", 20, 30, 5, 100 - (20.0/30.0)*50 + 10},
		{"bonus capped at twenty", 10, 30, 50, 100 - (10.0/30.0)*50 + 20},
		{"score capped at hundred", 1, 30, 50, 100},
		{"base floored at zero", 90, 30, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculatePerformanceScore(tt.costPerLead, tt.maxCost, tt.leads)
			assert.InDelta(t, tt.expected, got, 0.0001)
		})
	}
}

func TestShouldSwitchWork(t *testing.T) {
	assert.False(t, ShouldSwitchWork(2, 3))
	assert.True(t, ShouldSwitchWork(3, 3))
	assert.True(t, ShouldSwitchWork(4, 3))
}

func TestNextCheckInterval(t *testing.T) {
	tests := []struct {
		name        string
		spent       float64
		min         float64
		isEffective bool
		expected    time.Duration
	}{
		{"far below floor", 10, 50, false, RecheckIntervalShort},
		{"approaching floor", 30, 50, false, RecheckIntervalMedium},
		{"past floor and effective", 60, 50, true, RecheckIntervalLong},
		{"past floor not effective", 60, 50, false, RecheckIntervalMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextCheckInterval(tt.spent, tt.min, tt.isEffective))
		})
	}
}

func TestConsecutiveFailures(t *testing.T) {
	entry := func(decision string, effective bool) *models.DeliveryLog {
		return &models.DeliveryLog{Decision: decision, IsEffective: effective}
	}

	t.Run("empty history", func(t *testing.T) {
		assert.Equal(t, 0, ConsecutiveFailures(nil))
	})

	t.Run("unbroken restart streak", func(t *testing.T) {
		recent := []*models.DeliveryLog{
			entry(models.DeliveryDecisionRestart, false),
			entry(models.DeliveryDecisionRestart, false),
		}
		assert.Equal(t, 2, ConsecutiveFailures(recent))
	})

	t.Run("effective cycle breaks the streak", func(t *testing.T) {
		recent := []*models.DeliveryLog{
			entry(models.DeliveryDecisionRestart, false),
			entry(models.DeliveryDecisionContinue, true),
			entry(models.DeliveryDecisionRestart, false),
			entry(models.DeliveryDecisionRestart, false),
		}
		assert.Equal(t, 1, ConsecutiveFailures(recent))
	})

	t.Run("below floor continue is neutral", func(t *testing.T) {
		recent := []*models.DeliveryLog{
			entry(models.DeliveryDecisionRestart, false),
			entry(models.DeliveryDecisionContinue, false),
			entry(models.DeliveryDecisionRestart, false),
		}
		assert.Equal(t, 2, ConsecutiveFailures(recent))
	})

	t.Run("switch counts as failure", func(t *testing.T) {
		recent := []*models.DeliveryLog{
			entry(models.DeliveryDecisionSwitchWork, false),
			entry(models.DeliveryDecisionRestart, false),
		}
		assert.Equal(t, 2, ConsecutiveFailures(recent))
	})
}
