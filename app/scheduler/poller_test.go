package scheduler

import (
	"context"
	"testing"
	"time"

	businessflow "github.com/amirphl/Kagemusha/business_flow"
	"github.com/amirphl/Kagemusha/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFlow satisfies the delivery flow interface; only the sweeps matter to
// the poller tests.
type stubFlow struct {
	sweepScheduled int
	sweepErr       error
	sweepCalls     int

	syncScheduled int
	syncErr       error
	syncCalls     int
}

func (s *stubFlow) LaunchDelivery(ctx context.Context, deliveryID uint) error { return nil }

func (s *stubFlow) CheckDelivery(ctx context.Context, deliveryID uint) (*businessflow.CheckOutcome, error) {
	return &businessflow.CheckOutcome{DeliveryID: deliveryID}, nil
}

func (s *stubFlow) PauseDelivery(ctx context.Context, deliveryID uint) error   { return nil }
func (s *stubFlow) RestartDelivery(ctx context.Context, deliveryID uint) error { return nil }
func (s *stubFlow) SwitchWork(ctx context.Context, deliveryID uint) error      { return nil }

func (s *stubFlow) StopDelivery(ctx context.Context, deliveryID uint, immediate bool) error {
	return nil
}

func (s *stubFlow) SyncAccount(ctx context.Context, accountID uint) error { return nil }

func (s *stubFlow) SweepDueDeliveries(ctx context.Context) (int, error) {
	s.sweepCalls++
	if s.sweepErr != nil {
		return 0, s.sweepErr
	}
	return s.sweepScheduled, nil
}

func (s *stubFlow) SyncStaleAccounts(ctx context.Context) (int, error) {
	s.syncCalls++
	if s.syncErr != nil {
		return 0, s.syncErr
	}
	return s.syncScheduled, nil
}

func TestRunCycleProcessesTasksAndSweeps(t *testing.T) {
	repo := newRecordingTaskRepo(task(1, models.TaskTypeCheckCampaign))
	registry := HandlerRegistry{
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			return nil, nil
		},
	}
	flow := &stubFlow{sweepScheduled: 3, syncScheduled: 2}
	poller := NewPoller(NewDispatcher(repo, registry, nil), flow, nil, time.Minute, 10)

	summary, ran := poller.RunCycle(context.Background())
	require.True(t, ran)
	require.NotNil(t, summary.Tasks)
	assert.Equal(t, 1, summary.Tasks.Processed)
	assert.Equal(t, 3, summary.SweepScheduled)
	assert.Equal(t, 2, summary.AccountSyncScheduled)
	assert.Equal(t, 1, flow.sweepCalls)
	assert.Equal(t, 1, flow.syncCalls)
}

func TestRunCycleSkipsWhenAlreadyInFlight(t *testing.T) {
	repo := newRecordingTaskRepo()
	flow := &stubFlow{}
	poller := NewPoller(NewDispatcher(repo, HandlerRegistry{}, nil), flow, nil, time.Minute, 10)

	poller.inFlight.Store(true)
	summary, ran := poller.RunCycle(context.Background())
	assert.False(t, ran)
	assert.Nil(t, summary)
	assert.Equal(t, 0, flow.sweepCalls)

	// Once the in-flight cycle clears, the next one runs normally.
	poller.inFlight.Store(false)
	_, ran = poller.RunCycle(context.Background())
	assert.True(t, ran)
}

func TestRunCycleSweepErrorDoesNotAbortCycle(t *testing.T) {
	repo := newRecordingTaskRepo(task(1, models.TaskTypeCheckCampaign))
	registry := HandlerRegistry{
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			return nil, nil
		},
	}
	flow := &stubFlow{sweepErr: assert.AnError}
	poller := NewPoller(NewDispatcher(repo, registry, nil), flow, nil, time.Minute, 10)

	summary, ran := poller.RunCycle(context.Background())
	require.True(t, ran)
	require.NotNil(t, summary.Tasks)
	assert.Equal(t, 1, summary.Tasks.Processed)
	assert.Equal(t, 0, summary.SweepScheduled)
}

func TestHandlerRegistryRoutesByDeliveryReference(t *testing.T) {
	registry := NewHandlerRegistry(&stubFlow{})

	id := uint(9)
	tk := &models.Task{ID: 1, Type: models.TaskTypeCheckCampaign, ManagedDeliveryID: &id}
	params, err := registry[models.TaskTypeCheckCampaign](context.Background(), tk)
	require.NoError(t, err)
	assert.Equal(t, id, params["delivery_id"])

	// A task without a delivery reference is rejected before the flow runs.
	orphan := &models.Task{ID: 2, Type: models.TaskTypeCheckCampaign}
	_, err = registry[models.TaskTypeCheckCampaign](context.Background(), orphan)
	assert.ErrorContains(t, err, "no managed delivery reference")
}

func TestHandlerRegistryCoversEveryTaskType(t *testing.T) {
	registry := NewHandlerRegistry(&stubFlow{})
	for _, taskType := range []models.TaskType{
		models.TaskTypeSyncAccount,
		models.TaskTypeCheckCampaign,
		models.TaskTypeCreateCampaign,
		models.TaskTypePauseCampaign,
		models.TaskTypeRestartCampaign,
		models.TaskTypeSwitchWork,
	} {
		assert.Contains(t, registry, taskType)
	}
}
