package businessflow

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/xuri/excelize/v2"
)

// DeliveryReportFlow exports delivery evaluation history for offline review
type DeliveryReportFlow interface {
	// ExportDeliveryLogs builds an Excel workbook covering the given window.
	// Zero deliveryID exports all deliveries, one sheet per delivery.
	ExportDeliveryLogs(ctx context.Context, deliveryID uint, from, to time.Time) (string, []byte, error)
}

// DeliveryReportFlowImpl implements DeliveryReportFlow
type DeliveryReportFlowImpl struct {
	logRepo      repository.DeliveryLogRepository
	deliveryRepo repository.ManagedDeliveryRepository
	defaults     models.AccountThresholds
}

func NewDeliveryReportFlow(logRepo repository.DeliveryLogRepository, deliveryRepo repository.ManagedDeliveryRepository, defaults models.AccountThresholds) DeliveryReportFlow {
	return &DeliveryReportFlowImpl{logRepo: logRepo, deliveryRepo: deliveryRepo, defaults: defaults}
}

func (f *DeliveryReportFlowImpl) ExportDeliveryLogs(ctx context.Context, deliveryID uint, from, to time.Time) (string, []byte, error) {
	filter := models.DeliveryLogFilter{}
	if deliveryID != 0 {
		filter.ManagedDeliveryID = &deliveryID
	}
	if !from.IsZero() {
		filter.CreatedAfter = &from
	}
	if !to.IsZero() {
		filter.CreatedBefore = &to
	}

	entries, err := f.logRepo.ByFilter(ctx, filter, "managed_delivery_id ASC, id ASC", 0, 0)
	if err != nil {
		return "", nil, fmt.Errorf("export delivery logs: %w", err)
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	byDelivery := make(map[uint][]*models.DeliveryLog)
	var order []uint
	for _, e := range entries {
		if _, ok := byDelivery[e.ManagedDeliveryID]; !ok {
			order = append(order, e.ManagedDeliveryID)
		}
		byDelivery[e.ManagedDeliveryID] = append(byDelivery[e.ManagedDeliveryID], e)
	}

	header := []string{
		"id", "delivery_id", "batch", "check_stage", "period_start", "period_end",
		"spent", "impressions", "clicks", "ctr", "leads", "cost_per_lead",
		"follower_delta", "score", "is_effective", "decision", "decision_reason", "created_at",
	}

	if len(order) == 0 {
		xl.SetSheetName(xl.GetSheetName(0), "empty")
		_ = xl.SetSheetRow("empty", "A1", &header)
	}

	for i, id := range order {
		name := fmt.Sprintf("delivery_%d", id)
		if i == 0 {
			xl.SetSheetName(xl.GetSheetName(0), name)
		} else {
			_, _ = xl.NewSheet(name)
		}
		_ = xl.SetSheetRow(name, "A1", &header)

		for ri, e := range byDelivery[id] {
			var followerDelta int64
			if e.FollowerDelta != nil {
				followerDelta = *e.FollowerDelta
			}
			score := CalculatePerformanceScore(e.CostPerLead, f.defaults.MaxCostPerLead, e.Leads)
			record := []any{
				e.ID,
				e.ManagedDeliveryID,
				e.Batch,
				e.CheckStage,
				e.PeriodStart.UTC().Format(time.RFC3339),
				e.PeriodEnd.UTC().Format(time.RFC3339),
				e.Spent,
				e.Impressions,
				e.Clicks,
				e.CTR,
				e.Leads,
				e.CostPerLead,
				followerDelta,
				score,
				e.IsEffective,
				e.Decision,
				e.DecisionReason,
				e.CreatedAt.UTC().Format(time.RFC3339),
			}
			cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
			_ = xl.SetSheetRow(name, cellRef, &record)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("export delivery logs: write workbook: %w", err)
	}

	filename := "delivery_logs.xlsx"
	if deliveryID != 0 {
		filename = fmt.Sprintf("delivery_%d_logs.xlsx", deliveryID)
	}
	return filename, buf.Bytes(), nil
}
