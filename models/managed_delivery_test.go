package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatusTransitions(t *testing.T) {
	tests := []struct {
		from    DeliveryStatus
		to      DeliveryStatus
		allowed bool
	}{
		{DeliveryStatusPending, DeliveryStatusActive, true},
		{DeliveryStatusPending, DeliveryStatusFailed, true},
		{DeliveryStatusPending, DeliveryStatusPaused, false},
		{DeliveryStatusActive, DeliveryStatusActive, true}, // restart, same status
		{DeliveryStatusActive, DeliveryStatusPaused, true},
		{DeliveryStatusActive, DeliveryStatusFailed, true},
		{DeliveryStatusPaused, DeliveryStatusActive, true},
		{DeliveryStatusPaused, DeliveryStatusFailed, true},
		{DeliveryStatusCompleted, DeliveryStatusActive, false},
		{DeliveryStatusFailed, DeliveryStatusActive, false},
	}

	for _, tt := range tests {
		d := &ManagedDelivery{Status: tt.from}
		assert.Equal(t, tt.allowed, d.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestDeliveryStatusCompletedFromAnyLiveState(t *testing.T) {
	// The platform reporting an order finished completes the delivery no
	// matter which live state it was in.
	for _, from := range []DeliveryStatus{DeliveryStatusPending, DeliveryStatusActive, DeliveryStatusPaused} {
		d := &ManagedDelivery{Status: from}
		assert.True(t, d.CanTransitionTo(DeliveryStatusCompleted), "from %s", from)
	}
	for _, from := range []DeliveryStatus{DeliveryStatusCompleted, DeliveryStatusFailed} {
		d := &ManagedDelivery{Status: from}
		assert.False(t, d.CanTransitionTo(DeliveryStatusCompleted), "from %s", from)
	}
}

func TestDeliveryStatusIsTerminal(t *testing.T) {
	assert.True(t, DeliveryStatusCompleted.IsTerminal())
	assert.True(t, DeliveryStatusFailed.IsTerminal())
	assert.False(t, DeliveryStatusPending.IsTerminal())
	assert.False(t, DeliveryStatusActive.IsTerminal())
	assert.False(t, DeliveryStatusPaused.IsTerminal())
}
