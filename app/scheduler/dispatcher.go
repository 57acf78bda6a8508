// Package scheduler runs the durable task queue: a fixed-interval poller
// claims due tasks from the database and a dispatcher routes each one to the
// handler registered for its type.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/amirphl/Kagemusha/utils"
)

// TaskHandler executes one task. The returned params are persisted as the
// task result on success; a returned error triggers retry bookkeeping.
type TaskHandler func(ctx context.Context, task *models.Task) (models.TaskParams, error)

// HandlerRegistry maps task types to their handlers
type HandlerRegistry map[models.TaskType]TaskHandler

// TaskOutcome describes what happened to one claimed task
type TaskOutcome struct {
	TaskID   uint            `json:"task_id"`
	Type     models.TaskType `json:"type"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// ProcessResult summarizes one dispatcher pass
type ProcessResult struct {
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Outcomes  []TaskOutcome `json:"outcomes"`
}

// Dispatcher claims due tasks and runs them through the handler registry.
// One task failing, or even panicking, never affects the others in the batch.
type Dispatcher struct {
	taskRepo repository.TaskRepository
	registry HandlerRegistry
	logger   *log.Logger
}

func NewDispatcher(taskRepo repository.TaskRepository, registry HandlerRegistry, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		taskRepo: taskRepo,
		registry: registry,
		logger:   logger,
	}
}

// ProcessPendingTasks claims up to limit due tasks and executes them
// sequentially. Claimed tasks are already flipped to running, so a concurrent
// dispatcher on another instance never sees them.
func (d *Dispatcher) ProcessPendingTasks(ctx context.Context, limit int) (*ProcessResult, error) {
	tasks, err := d.taskRepo.ClaimDue(ctx, limit, utils.UTCNow())
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}

	result := &ProcessResult{Outcomes: make([]TaskOutcome, 0, len(tasks))}
	for _, task := range tasks {
		if ctx.Err() != nil {
			// Shutdown mid-batch: unclaimed work is rescheduled so the next
			// cycle (or another instance) picks it up.
			if err := d.taskRepo.Fail(ctx, task.ID, "dispatcher shutting down"); err != nil {
				d.logger.Printf("dispatcher: release task id=%d failed: %v", task.ID, err)
			}
			continue
		}
		outcome := d.runTask(ctx, task)
		result.Processed++
		if outcome.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (d *Dispatcher) runTask(ctx context.Context, task *models.Task) TaskOutcome {
	start := time.Now()
	outcome := TaskOutcome{TaskID: task.ID, Type: task.Type}

	params, err := d.executeHandler(ctx, task)
	outcome.Duration = time.Since(start)
	taskDuration.WithLabelValues(task.Type.String()).Observe(outcome.Duration.Seconds())

	if err != nil {
		outcome.Error = err.Error()
		tasksProcessedTotal.WithLabelValues(task.Type.String(), "failed").Inc()
		d.logger.Printf("dispatcher: task id=%d type=%s failed after %s: %v", task.ID, task.Type, outcome.Duration, err)
		if failErr := d.taskRepo.Fail(ctx, task.ID, err.Error()); failErr != nil {
			d.logger.Printf("dispatcher: record failure for task id=%d failed: %v", task.ID, failErr)
		}
		return outcome
	}

	tasksProcessedTotal.WithLabelValues(task.Type.String(), "completed").Inc()
	if completeErr := d.taskRepo.Complete(ctx, task.ID, params); completeErr != nil {
		d.logger.Printf("dispatcher: record completion for task id=%d failed: %v", task.ID, completeErr)
		outcome.Error = completeErr.Error()
		return outcome
	}

	outcome.Success = true
	return outcome
}

// executeHandler isolates handler panics so a bad task cannot take the
// dispatcher down with it.
func (d *Dispatcher) executeHandler(ctx context.Context, task *models.Task) (params models.TaskParams, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler for task type %s: %v", task.Type, r)
		}
	}()

	handler, ok := d.registry[task.Type]
	if !ok {
		return nil, fmt.Errorf("no handler registered for task type %s", task.Type)
	}
	return handler(ctx, task)
}
