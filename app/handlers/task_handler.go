package handlers

import (
	"context"
	"log"
	"time"

	"github.com/amirphl/Kagemusha/app/dto"
	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/amirphl/Kagemusha/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// TaskHandlerInterface defines the contract for task queue handlers
type TaskHandlerInterface interface {
	EnqueueTask(c fiber.Ctx) error
}

// TaskHandler handles task queue HTTP requests
type TaskHandler struct {
	taskRepo  repository.TaskRepository
	validator *validator.Validate
}

func NewTaskHandler(taskRepo repository.TaskRepository) *TaskHandler {
	return &TaskHandler{
		taskRepo:  taskRepo,
		validator: validator.New(),
	}
}

func (h *TaskHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *TaskHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// EnqueueTask creates a durable task for the poller to pick up
func (h *TaskHandler) EnqueueTask(c fiber.Ctx) error {
	var req dto.EnqueueTaskRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	// Validate request
	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	taskType := models.TaskType(req.Type)
	if !taskType.Valid() {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Unknown task type", "UNKNOWN_TASK_TYPE", req.Type)
	}

	scheduledAt := utils.UTCNow()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}
	priority := req.Priority
	if priority == 0 {
		priority = 100
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	task := &models.Task{
		Type:              taskType,
		AccountID:         req.AccountID,
		WorkID:            req.WorkID,
		ManagedDeliveryID: req.ManagedDeliveryID,
		Params:            models.TaskParams(req.Params),
		Priority:          priority,
		ScheduledAt:       scheduledAt,
		MaxRetries:        maxRetries,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.taskRepo.Save(ctx, task); err != nil {
		log.Println("Task enqueue failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enqueue task", "TASK_ENQUEUE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Task enqueued successfully", dto.EnqueueTaskResponse{
		TaskID:      task.ID,
		UUID:        task.UUID.String(),
		Type:        task.Type.String(),
		Status:      task.Status.String(),
		ScheduledAt: task.ScheduledAt,
	})
}
