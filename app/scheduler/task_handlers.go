package scheduler

import (
	"context"
	"fmt"

	businessflow "github.com/amirphl/Kagemusha/business_flow"
	"github.com/amirphl/Kagemusha/models"
)

// NewHandlerRegistry wires every known task type to the delivery flow
func NewHandlerRegistry(flow businessflow.ManagedDeliveryFlow) HandlerRegistry {
	return HandlerRegistry{
		models.TaskTypeCreateCampaign:  handleCreateCampaign(flow),
		models.TaskTypeCheckCampaign:   handleCheckCampaign(flow),
		models.TaskTypePauseCampaign:   handlePauseCampaign(flow),
		models.TaskTypeRestartCampaign: handleRestartCampaign(flow),
		models.TaskTypeSwitchWork:      handleSwitchWork(flow),
		models.TaskTypeSyncAccount:     handleSyncAccount(flow),
	}
}

func deliveryID(task *models.Task) (uint, error) {
	if task.ManagedDeliveryID == nil || *task.ManagedDeliveryID == 0 {
		return 0, fmt.Errorf("task id=%d type=%s has no managed delivery reference", task.ID, task.Type)
	}
	return *task.ManagedDeliveryID, nil
}

func handleCreateCampaign(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		id, err := deliveryID(task)
		if err != nil {
			return nil, err
		}
		if err := flow.LaunchDelivery(ctx, id); err != nil {
			return nil, err
		}
		return models.TaskParams{"delivery_id": id, "launched": true}, nil
	}
}

func handleCheckCampaign(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		id, err := deliveryID(task)
		if err != nil {
			return nil, err
		}
		outcome, err := flow.CheckDelivery(ctx, id)
		if err != nil {
			return nil, err
		}
		return models.TaskParams{
			"delivery_id":  id,
			"decision":     outcome.Decision,
			"reason":       outcome.Reason,
			"is_effective": outcome.IsEffective,
		}, nil
	}
}

func handlePauseCampaign(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		id, err := deliveryID(task)
		if err != nil {
			return nil, err
		}
		if err := flow.PauseDelivery(ctx, id); err != nil {
			return nil, err
		}
		return models.TaskParams{"delivery_id": id, "paused": true}, nil
	}
}

func handleRestartCampaign(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		id, err := deliveryID(task)
		if err != nil {
			return nil, err
		}
		if err := flow.RestartDelivery(ctx, id); err != nil {
			return nil, err
		}
		return models.TaskParams{"delivery_id": id, "restarted": true}, nil
	}
}

// handleSwitchWork only finalizes the abandonment; picking the replacement
// content happens in a separate system that watches these tasks complete.
func handleSwitchWork(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		id, err := deliveryID(task)
		if err != nil {
			return nil, err
		}
		if err := flow.SwitchWork(ctx, id); err != nil {
			return nil, err
		}
		return models.TaskParams{"delivery_id": id, "abandoned": true, "reason": task.Params.String("reason")}, nil
	}
}

func handleSyncAccount(flow businessflow.ManagedDeliveryFlow) TaskHandler {
	return func(ctx context.Context, task *models.Task) (models.TaskParams, error) {
		if task.AccountID == nil || *task.AccountID == 0 {
			return nil, fmt.Errorf("task id=%d type=%s has no account reference", task.ID, task.Type)
		}
		if err := flow.SyncAccount(ctx, *task.AccountID); err != nil {
			return nil, err
		}
		return models.TaskParams{"account_id": *task.AccountID, "synced": true}, nil
	}
}
