package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTaskRepo serves a scripted claim batch and records completions
// and failures.

type recordingTaskRepo struct {
	claimable []*models.Task
	claimErr  error

	completed map[uint]models.TaskParams
	failed    map[uint]string
}

func newRecordingTaskRepo(tasks ...*models.Task) *recordingTaskRepo {
	return &recordingTaskRepo{
		claimable: tasks,
		completed: make(map[uint]models.TaskParams),
		failed:    make(map[uint]string),
	}
}

func (r *recordingTaskRepo) ByID(ctx context.Context, id uint) (*models.Task, error) {
	return nil, nil
}

func (r *recordingTaskRepo) ByFilter(ctx context.Context, filter models.TaskFilter, orderBy string, limit, offset int) ([]*models.Task, error) {
	return nil, nil
}

func (r *recordingTaskRepo) Save(ctx context.Context, t *models.Task) error { return nil }

func (r *recordingTaskRepo) SaveBatch(ctx context.Context, ts []*models.Task) error { return nil }

func (r *recordingTaskRepo) Count(ctx context.Context, filter models.TaskFilter) (int64, error) {
	return 0, nil
}

func (r *recordingTaskRepo) Exists(ctx context.Context, filter models.TaskFilter) (bool, error) {
	return false, nil
}

func (r *recordingTaskRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.Task, error) {
	if r.claimErr != nil {
		return nil, r.claimErr
	}
	if limit > len(r.claimable) {
		limit = len(r.claimable)
	}
	batch := r.claimable[:limit]
	r.claimable = r.claimable[limit:]
	return batch, nil
}

func (r *recordingTaskRepo) Complete(ctx context.Context, taskID uint, result models.TaskParams) error {
	r.completed[taskID] = result
	return nil
}

func (r *recordingTaskRepo) Fail(ctx context.Context, taskID uint, taskErr string) error {
	r.failed[taskID] = taskErr
	return nil
}

func (r *recordingTaskRepo) HasOpenTask(ctx context.Context, deliveryID uint, taskType models.TaskType) (bool, error) {
	return false, nil
}

func task(id uint, taskType models.TaskType) *models.Task {
	return &models.Task{ID: id, Type: taskType, Status: models.TaskStatusRunning}
}

func TestProcessPendingTasksCompletesSuccessfulTasks(t *testing.T) {
	repo := newRecordingTaskRepo(
		task(1, models.TaskTypeCheckCampaign),
		task(2, models.TaskTypeCheckCampaign),
	)
	registry := HandlerRegistry{
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			return models.TaskParams{"task": tk.ID}, nil
		},
	}

	result, err := NewDispatcher(repo, registry, nil).ProcessPendingTasks(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Failed)
	assert.Len(t, repo.completed, 2)
	assert.Equal(t, uint(1), repo.completed[1]["task"])
	assert.Empty(t, repo.failed)
}

func TestProcessPendingTasksRecordsHandlerFailure(t *testing.T) {
	repo := newRecordingTaskRepo(task(1, models.TaskTypeCheckCampaign))
	handlerErr := errors.New("platform unreachable")
	registry := HandlerRegistry{
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			return nil, handlerErr
		},
	}

	result, err := NewDispatcher(repo, registry, nil).ProcessPendingTasks(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "platform unreachable", repo.failed[1])
	require.Len(t, result.Outcomes, 1)
	assert.False(t, result.Outcomes[0].Success)
	assert.Equal(t, "platform unreachable", result.Outcomes[0].Error)
}

func TestProcessPendingTasksUnknownTypeFails(t *testing.T) {
	repo := newRecordingTaskRepo(task(1, models.TaskType("unknown-type")))

	result, err := NewDispatcher(repo, HandlerRegistry{}, nil).ProcessPendingTasks(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, repo.failed[1], "no handler registered")
}

func TestProcessPendingTasksIsolatesPanics(t *testing.T) {
	repo := newRecordingTaskRepo(
		task(1, models.TaskTypeSwitchWork),
		task(2, models.TaskTypeCheckCampaign),
	)
	registry := HandlerRegistry{
		models.TaskTypeSwitchWork: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			panic("handler bug")
		},
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			return nil, nil
		},
	}

	result, err := NewDispatcher(repo, registry, nil).ProcessPendingTasks(context.Background(), 10)
	require.NoError(t, err)

	// The panicking task fails, the next one in the batch still runs.
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, repo.failed[1], "panic in handler")
	assert.Contains(t, repo.completed, uint(2))
}

func TestProcessPendingTasksReleasesBatchOnShutdown(t *testing.T) {
	repo := newRecordingTaskRepo(
		task(1, models.TaskTypeCheckCampaign),
		task(2, models.TaskTypeCheckCampaign),
	)
	ctx, cancel := context.WithCancel(context.Background())
	registry := HandlerRegistry{
		models.TaskTypeCheckCampaign: func(ctx context.Context, tk *models.Task) (models.TaskParams, error) {
			cancel() // shutdown arrives while the first task is running
			return nil, nil
		},
	}

	result, err := NewDispatcher(repo, registry, nil).ProcessPendingTasks(ctx, 10)
	require.NoError(t, err)

	// The first task finished; the second was released for the next cycle.
	assert.Equal(t, 1, result.Processed)
	assert.Contains(t, repo.completed, uint(1))
	assert.Equal(t, "dispatcher shutting down", repo.failed[2])
}

func TestProcessPendingTasksClaimError(t *testing.T) {
	repo := newRecordingTaskRepo()
	repo.claimErr = errors.New("connection refused")

	_, err := NewDispatcher(repo, HandlerRegistry{}, nil).ProcessPendingTasks(context.Background(), 10)
	assert.ErrorContains(t, err, "claim due tasks")
}
