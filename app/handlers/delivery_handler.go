package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/Kagemusha/app/dto"
	businessflow "github.com/amirphl/Kagemusha/business_flow"
	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/gofiber/fiber/v3"
)

// DeliveryHandlerInterface defines the contract for delivery audit handlers
type DeliveryHandlerInterface interface {
	ListDeliveryLogs(c fiber.Ctx) error
	ExportDeliveryLogsReport(c fiber.Ctx) error
}

// DeliveryHandler handles delivery audit HTTP requests
type DeliveryHandler struct {
	logRepo      repository.DeliveryLogRepository
	deliveryRepo repository.ManagedDeliveryRepository
	reportFlow   businessflow.DeliveryReportFlow
	defaults     models.AccountThresholds
}

func NewDeliveryHandler(
	logRepo repository.DeliveryLogRepository,
	deliveryRepo repository.ManagedDeliveryRepository,
	reportFlow businessflow.DeliveryReportFlow,
	defaults models.AccountThresholds,
) *DeliveryHandler {
	return &DeliveryHandler{
		logRepo:      logRepo,
		deliveryRepo: deliveryRepo,
		reportFlow:   reportFlow,
		defaults:     defaults,
	}
}

func (h *DeliveryHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *DeliveryHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ListDeliveryLogs pages through one delivery's evaluation history, oldest first
func (h *DeliveryHandler) ListDeliveryLogs(c fiber.Ctx) error {
	deliveryID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || deliveryID == 0 {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid delivery id", "INVALID_DELIVERY_ID", nil)
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	delivery, err := h.deliveryRepo.ByID(ctx, uint(deliveryID))
	if err != nil {
		log.Println("Delivery lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch delivery", "DELIVERY_LOOKUP_FAILED", nil)
	}
	if delivery == nil {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Delivery not found", "DELIVERY_NOT_FOUND", nil)
	}

	entries, err := h.logRepo.ListByDelivery(ctx, delivery.ID, limit, offset)
	if err != nil {
		log.Println("Delivery log listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch delivery logs", "DELIVERY_LOGS_FAILED", nil)
	}
	total, err := h.logRepo.Count(ctx, models.DeliveryLogFilter{ManagedDeliveryID: &delivery.ID})
	if err != nil {
		log.Println("Delivery log count failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch delivery logs", "DELIVERY_LOGS_FAILED", nil)
	}

	items := make([]dto.DeliveryLogEntry, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.DeliveryLogEntry{
			ID:                e.ID,
			ManagedDeliveryID: e.ManagedDeliveryID,
			Batch:             e.Batch,
			CheckStage:        e.CheckStage,
			PeriodStart:       e.PeriodStart,
			PeriodEnd:         e.PeriodEnd,
			Spent:             e.Spent,
			Impressions:       e.Impressions,
			Clicks:            e.Clicks,
			CTR:               e.CTR,
			Leads:             e.Leads,
			CostPerLead:       e.CostPerLead,
			FollowerDelta:     e.FollowerDelta,
			Score:             businessflow.CalculatePerformanceScore(e.CostPerLead, h.defaults.MaxCostPerLead, e.Leads),
			IsEffective:       e.IsEffective,
			Decision:          e.Decision,
			DecisionReason:    e.DecisionReason,
			CreatedAt:         e.CreatedAt,
		})
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Delivery logs retrieved successfully", dto.ListDeliveryLogsResponse{
		DeliveryID: delivery.ID,
		Items:      items,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// ExportDeliveryLogsReport streams the audit history as an Excel workbook.
// Optional query params: delivery_id, from, to (RFC3339).
func (h *DeliveryHandler) ExportDeliveryLogsReport(c fiber.Ctx) error {
	var deliveryID uint
	if raw := c.Query("delivery_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid delivery_id", "INVALID_DELIVERY_ID", nil)
		}
		deliveryID = uint(parsed)
	}

	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid from timestamp, expected RFC3339", "INVALID_FROM", nil)
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid to timestamp, expected RFC3339", "INVALID_TO", nil)
		}
		to = parsed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	filename, data, err := h.reportFlow.ExportDeliveryLogs(ctx, deliveryID, from, to)
	if err != nil {
		log.Println("Delivery log export failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export delivery logs", "DELIVERY_LOG_EXPORT_FAILED", nil)
	}

	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return c.Send(data)
}
