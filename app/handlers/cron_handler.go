package handlers

import (
	"context"
	"crypto/subtle"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Kagemusha/app/dto"
	"github.com/amirphl/Kagemusha/app/scheduler"
	"github.com/amirphl/Kagemusha/config"
	"github.com/gofiber/fiber/v3"
)

// CronHandlerInterface defines the contract for cron trigger handlers
type CronHandlerInterface interface {
	TriggerDeliveries(c fiber.Ctx) error
	ProcessTasks(c fiber.Ctx) error
}

// CronHandler exposes the poll cycle to an external cron. The endpoints are
// an operational backstop for when the in-process poller is disabled or a
// cycle needs to be forced.
type CronHandler struct {
	poller     *scheduler.Poller
	dispatcher *scheduler.Dispatcher
	cronCfg    config.CronConfig
	batchSize  int
}

func NewCronHandler(poller *scheduler.Poller, dispatcher *scheduler.Dispatcher, cronCfg config.CronConfig, batchSize int) *CronHandler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &CronHandler{
		poller:     poller,
		dispatcher: dispatcher,
		cronCfg:    cronCfg,
		batchSize:  batchSize,
	}
}

func (h *CronHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CronHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// authorize checks the bearer secret with a constant-time comparison
func (h *CronHandler) authorize(c fiber.Ctx) bool {
	header := c.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	if h.cronCfg.Secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronCfg.Secret)) == 1
}

// TriggerDeliveries runs one full poll cycle: due tasks plus the sweep for
// deliveries whose check got lost.
func (h *CronHandler) TriggerDeliveries(c fiber.Ctx) error {
	if !h.authorize(c) {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid cron secret", "INVALID_CRON_SECRET", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	summary, ran := h.poller.RunCycle(ctx)
	if !ran {
		return h.SuccessResponse(c, fiber.StatusOK, "A cycle is already running, skipped", dto.CronTriggerResponse{Ran: false})
	}

	resp := dto.CronTriggerResponse{Ran: true, SweepScheduled: summary.SweepScheduled, AccountSyncScheduled: summary.AccountSyncScheduled}
	if summary.Tasks != nil {
		resp.Processed = summary.Tasks.Processed
		resp.Succeeded = summary.Tasks.Succeeded
		resp.Failed = summary.Tasks.Failed
		resp.Outcomes = toTaskOutcomes(summary.Tasks.Outcomes)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Delivery cycle completed", resp)
}

// ProcessTasks runs the dispatcher only, without the due-delivery sweep.
// Meant for internal polling; it only drains tasks that are already queued
// and due, so it carries no secret.
func (h *CronHandler) ProcessTasks(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := h.dispatcher.ProcessPendingTasks(ctx, h.batchSize)
	if err != nil {
		log.Println("Task processing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Task processing failed", "TASK_PROCESSING_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Tasks processed", dto.CronTriggerResponse{
		Ran:       true,
		Processed: result.Processed,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		Outcomes:  toTaskOutcomes(result.Outcomes),
	})
}

func toTaskOutcomes(outcomes []scheduler.TaskOutcome) []dto.TaskOutcome {
	out := make([]dto.TaskOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, dto.TaskOutcome{
			TaskID:   o.TaskID,
			Type:     o.Type.String(),
			Success:  o.Success,
			Error:    o.Error,
			Duration: o.Duration.String(),
		})
	}
	return out
}
