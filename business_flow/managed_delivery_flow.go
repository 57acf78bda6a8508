package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/Kagemusha/app/services"
	"github.com/amirphl/Kagemusha/config"
	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/repository"
	"github.com/amirphl/Kagemusha/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CheckOutcome summarizes one evaluation cycle of a managed delivery
type CheckOutcome struct {
	DeliveryID  uint       `json:"delivery_id"`
	Decision    string     `json:"decision"`
	Reason      string     `json:"reason"`
	IsEffective bool       `json:"is_effective"`
	NextCheckAt *time.Time `json:"next_check_at,omitempty"`
}

// ManagedDeliveryFlow owns the campaign lifecycle state machine. It consumes
// rule-engine decisions and issues the corresponding platform calls, writes
// exactly one DeliveryLog entry per evaluation, and schedules the next check.
type ManagedDeliveryFlow interface {
	LaunchDelivery(ctx context.Context, deliveryID uint) error
	CheckDelivery(ctx context.Context, deliveryID uint) (*CheckOutcome, error)
	PauseDelivery(ctx context.Context, deliveryID uint) error
	RestartDelivery(ctx context.Context, deliveryID uint) error
	SwitchWork(ctx context.Context, deliveryID uint) error
	// StopDelivery handles an external stop request: immediate pauses the
	// order now; otherwise the delivery finishes its current batch but a
	// no-restart flag suppresses future auto-restarts.
	StopDelivery(ctx context.Context, deliveryID uint, immediate bool) error
	SyncAccount(ctx context.Context, accountID uint) error
	// SweepDueDeliveries re-enqueues a check task for every active delivery
	// whose next check is due but has no open check task.
	SweepDueDeliveries(ctx context.Context) (int, error)
	// SyncStaleAccounts enqueues a sync task for every active account whose
	// platform counters have gone stale and has no sync task in flight.
	SyncStaleAccounts(ctx context.Context) (int, error)
}

// accountSyncInterval is how long account counters stay fresh before the
// sweep schedules another sync.
const accountSyncInterval = 24 * time.Hour

// ManagedDeliveryFlowImpl implements ManagedDeliveryFlow
type ManagedDeliveryFlowImpl struct {
	deliveryRepo repository.ManagedDeliveryRepository
	accountRepo  repository.AccountRepository
	logRepo      repository.DeliveryLogRepository
	taskRepo     repository.TaskRepository
	client       services.AdPlatformClient
	db           *gorm.DB
	rc           *redis.Client
	cacheCfg     *config.CacheConfig
	defaults     models.AccountThresholds
	logger       *log.Logger
}

func NewManagedDeliveryFlow(
	deliveryRepo repository.ManagedDeliveryRepository,
	accountRepo repository.AccountRepository,
	logRepo repository.DeliveryLogRepository,
	taskRepo repository.TaskRepository,
	client services.AdPlatformClient,
	db *gorm.DB,
	rc *redis.Client,
	cacheCfg *config.CacheConfig,
	defaults models.AccountThresholds,
	logger *log.Logger,
) ManagedDeliveryFlow {
	if logger == nil {
		logger = log.Default()
	}
	return &ManagedDeliveryFlowImpl{
		deliveryRepo: deliveryRepo,
		accountRepo:  accountRepo,
		logRepo:      logRepo,
		taskRepo:     taskRepo,
		client:       client,
		db:           db,
		rc:           rc,
		cacheCfg:     cacheCfg,
		defaults:     defaults,
		logger:       logger,
	}
}

// LaunchDelivery creates the first order for a pending delivery and
// activates it. The platform call happens before any status mutation; a
// failed call leaves the delivery pending for the task retry to pick up.
func (f *ManagedDeliveryFlowImpl) LaunchDelivery(ctx context.Context, deliveryID uint) error {
	delivery, account, err := f.loadDeliveryWithAccount(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != models.DeliveryStatusPending {
		return fmt.Errorf("launch delivery %d in status %s: %w", deliveryID, delivery.Status, ErrDeliveryNotPending)
	}

	orderID, err := f.client.CreateOrder(ctx, &services.CreateOrderRequest{
		PlatformUserID: account.PlatformUserID,
		WorkID:         delivery.WorkID,
		Budget:         delivery.Budget,
		BidAmount:      delivery.BidAmount,
	})
	if err != nil {
		return fmt.Errorf("launch delivery %d: %w", deliveryID, err)
	}

	thresholds := f.thresholds(ctx, account)
	now := utils.UTCNow()
	interval := NextCheckInterval(0, thresholds.MinConsumption, false)
	nextCheck := now.Add(interval)

	delivery.Status = models.DeliveryStatusActive
	delivery.CurrentBatch++
	delivery.BatchStartAt = &now
	delivery.ExternalOrderID = &orderID
	delivery.CheckStage = 1
	delivery.NextCheckAt = &nextCheck

	reason := fmt.Sprintf("order %s created with budget ¥%.2f, batch %d started", orderID, delivery.Budget, delivery.CurrentBatch)
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusPending); err != nil {
			return err
		}
		if err := f.appendLog(txCtx, delivery, nil, models.DeliveryDecisionContinue, reason, false, now); err != nil {
			return err
		}
		return f.scheduleCheck(txCtx, delivery, nextCheck)
	})
	if err != nil {
		return fmt.Errorf("launch delivery %d: %w", deliveryID, err)
	}

	f.logger.Printf("delivery: launched id=%d order=%s batch=%d next check in %s", deliveryID, orderID, delivery.CurrentBatch, interval)
	return nil
}

// CheckDelivery runs one evaluation cycle: pull counters, evaluate the rule
// policy, apply the decision.
func (f *ManagedDeliveryFlowImpl) CheckDelivery(ctx context.Context, deliveryID uint) (*CheckOutcome, error) {
	delivery, account, err := f.loadDeliveryWithAccount(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery.Status.IsTerminal() {
		return nil, fmt.Errorf("check delivery %d in status %s: %w", deliveryID, delivery.Status, ErrDeliveryTerminal)
	}
	if delivery.ExternalOrderID == nil {
		return nil, fmt.Errorf("check delivery %d: %w", deliveryID, ErrMissingOrder)
	}

	perf, err := f.client.QueryOrder(ctx, *delivery.ExternalOrderID)
	if err != nil {
		return nil, fmt.Errorf("check delivery %d: %w", deliveryID, err)
	}

	now := utils.UTCNow()

	// Order completion reported by the platform overrides the rule policy.
	if perf.Finished {
		return f.completeDelivery(ctx, delivery, perf, now)
	}

	recent, err := f.logRepo.ListRecentByDelivery(ctx, delivery.ID, 50)
	if err != nil {
		return nil, fmt.Errorf("check delivery %d: %w", deliveryID, err)
	}

	thresholds := f.thresholds(ctx, account)
	ruleCtx := RuleContext{
		Thresholds:          thresholds,
		ConsecutiveFailures: ConsecutiveFailures(recent),
		CurrentSpent:        perf.Spent,
		CurrentLeads:        perf.Leads,
		CurrentCostPerLead:  perf.CostPerLead(),
		History:             recent,
	}
	result := EvaluateDelivery(ruleCtx)

	// A stop request may have asked to finish the batch without relaunching.
	if delivery.NoAutoRestart && result.Decision == models.DeliveryDecisionRestart {
		result.Decision = models.DeliveryDecisionPause
		result.Reason += "; auto-restart disabled by stop request, pausing instead"
	}

	switch result.Decision {
	case models.DeliveryDecisionContinue:
		return f.applyContinue(ctx, delivery, perf, result, now)
	case models.DeliveryDecisionRestart:
		return f.applyRestart(ctx, delivery, perf, result, now)
	case models.DeliveryDecisionPause:
		return f.applyPause(ctx, delivery, perf, result, now)
	case models.DeliveryDecisionSwitchWork:
		return f.applySwitchWork(ctx, delivery, perf, result, now)
	default:
		return nil, fmt.Errorf("check delivery %d: unknown decision %q", deliveryID, result.Decision)
	}
}

func (f *ManagedDeliveryFlowImpl) completeDelivery(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, now time.Time) (*CheckOutcome, error) {
	fromStatus := delivery.Status
	reason := fmt.Sprintf("platform reports order %s finished after spending ¥%.2f, delivery completed", perf.OrderID, perf.Spent)

	delivery.Status = models.DeliveryStatusCompleted
	delivery.NextCheckAt = nil

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, fromStatus); err != nil {
			return err
		}
		return f.appendLog(txCtx, delivery, perf, models.DeliveryDecisionContinue, reason, perf.Leads > 0, now)
	})
	if err != nil {
		return nil, fmt.Errorf("complete delivery %d: %w", delivery.ID, err)
	}

	f.logger.Printf("delivery: completed id=%d order=%s", delivery.ID, perf.OrderID)
	return &CheckOutcome{DeliveryID: delivery.ID, Decision: models.DeliveryDecisionContinue, Reason: reason, IsEffective: perf.Leads > 0}, nil
}

func (f *ManagedDeliveryFlowImpl) applyContinue(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, result RuleResult, now time.Time) (*CheckOutcome, error) {
	nextCheck := now.Add(result.NextCheckIn)
	delivery.NextCheckAt = &nextCheck
	// An effective first-stage check advances to the follower-growth stage.
	if result.IsEffective && delivery.CheckStage == 1 {
		delivery.CheckStage = 2
	}

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		if err := f.appendLog(txCtx, delivery, perf, result.Decision, result.Reason, result.IsEffective, now); err != nil {
			return err
		}
		return f.scheduleCheck(txCtx, delivery, nextCheck)
	})
	if err != nil {
		return nil, fmt.Errorf("continue delivery %d: %w", delivery.ID, err)
	}

	return &CheckOutcome{DeliveryID: delivery.ID, Decision: result.Decision, Reason: result.Reason, IsEffective: result.IsEffective, NextCheckAt: &nextCheck}, nil
}

func (f *ManagedDeliveryFlowImpl) applyRestart(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, result RuleResult, now time.Time) (*CheckOutcome, error) {
	account, err := f.accountRepo.ByID(ctx, delivery.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("restart delivery %d: %w", delivery.ID, ErrAccountNotFound)
	}

	// Close out the current batch and relaunch the same content before any
	// state is written, so a platform failure leaves the row untouched.
	if err := f.client.StopOrder(ctx, *delivery.ExternalOrderID); err != nil {
		return nil, fmt.Errorf("restart delivery %d: %w", delivery.ID, err)
	}
	orderID, err := f.client.CreateOrder(ctx, &services.CreateOrderRequest{
		PlatformUserID: account.PlatformUserID,
		WorkID:         delivery.WorkID,
		Budget:         delivery.Budget,
		BidAmount:      delivery.BidAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("restart delivery %d: %w", delivery.ID, err)
	}

	thresholds := f.thresholds(ctx, account)
	interval := NextCheckInterval(0, thresholds.MinConsumption, false)
	nextCheck := now.Add(interval)

	oldBatch := delivery.CurrentBatch
	delivery.CurrentBatch++
	delivery.BatchStartAt = &now
	delivery.ExternalOrderID = &orderID
	delivery.NextCheckAt = &nextCheck

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		// The log entry belongs to the batch that was evaluated, not the new one.
		if err := f.appendLogForBatch(txCtx, delivery, oldBatch, perf, result.Decision, result.Reason, false, now); err != nil {
			return err
		}
		return f.scheduleCheck(txCtx, delivery, nextCheck)
	})
	if err != nil {
		return nil, fmt.Errorf("restart delivery %d: %w", delivery.ID, err)
	}

	f.logger.Printf("delivery: restarted id=%d batch=%d order=%s", delivery.ID, delivery.CurrentBatch, orderID)
	return &CheckOutcome{DeliveryID: delivery.ID, Decision: result.Decision, Reason: result.Reason, NextCheckAt: &nextCheck}, nil
}

func (f *ManagedDeliveryFlowImpl) applyPause(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, result RuleResult, now time.Time) (*CheckOutcome, error) {
	if err := f.client.PauseOrder(ctx, *delivery.ExternalOrderID); err != nil {
		return nil, fmt.Errorf("pause delivery %d: %w", delivery.ID, err)
	}

	delivery.Status = models.DeliveryStatusPaused
	delivery.NextCheckAt = nil

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		return f.appendLog(txCtx, delivery, perf, result.Decision, result.Reason, result.IsEffective, now)
	})
	if err != nil {
		return nil, fmt.Errorf("pause delivery %d: %w", delivery.ID, err)
	}

	f.logger.Printf("delivery: paused id=%d order=%s", delivery.ID, *delivery.ExternalOrderID)
	return &CheckOutcome{DeliveryID: delivery.ID, Decision: result.Decision, Reason: result.Reason}, nil
}

func (f *ManagedDeliveryFlowImpl) applySwitchWork(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, result RuleResult, now time.Time) (*CheckOutcome, error) {
	if err := f.client.StopOrder(ctx, *delivery.ExternalOrderID); err != nil {
		return nil, fmt.Errorf("switch work for delivery %d: %w", delivery.ID, err)
	}

	delivery.Status = models.DeliveryStatusFailed
	delivery.NextCheckAt = nil

	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		if err := f.appendLog(txCtx, delivery, perf, result.Decision, result.Reason, false, now); err != nil {
			return err
		}
		// Content selection is left to an external collaborator; the task is
		// the handoff signal.
		return f.taskRepo.Save(txCtx, &models.Task{
			Type:              models.TaskTypeSwitchWork,
			AccountID:         &delivery.AccountID,
			WorkID:            &delivery.WorkID,
			ManagedDeliveryID: &delivery.ID,
			Priority:          50,
			ScheduledAt:       now,
			MaxRetries:        3,
			Params: models.TaskParams{
				"reason": result.Reason,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("switch work for delivery %d: %w", delivery.ID, err)
	}

	f.logger.Printf("delivery: abandoned id=%d work=%d, content selection handed off", delivery.ID, delivery.WorkID)
	return &CheckOutcome{DeliveryID: delivery.ID, Decision: result.Decision, Reason: result.Reason}, nil
}

// PauseDelivery pauses an active delivery on an explicit request
func (f *ManagedDeliveryFlowImpl) PauseDelivery(ctx context.Context, deliveryID uint) error {
	delivery, err := f.loadDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != models.DeliveryStatusActive {
		return fmt.Errorf("pause delivery %d in status %s: %w", deliveryID, delivery.Status, ErrInvalidTransition)
	}
	if delivery.ExternalOrderID == nil {
		return fmt.Errorf("pause delivery %d: %w", deliveryID, ErrMissingOrder)
	}

	if err := f.client.PauseOrder(ctx, *delivery.ExternalOrderID); err != nil {
		return fmt.Errorf("pause delivery %d: %w", deliveryID, err)
	}

	now := utils.UTCNow()
	reason := fmt.Sprintf("explicit pause requested, order %s paused", *delivery.ExternalOrderID)
	delivery.Status = models.DeliveryStatusPaused
	delivery.NextCheckAt = nil

	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		return f.appendLog(txCtx, delivery, nil, models.DeliveryDecisionPause, reason, false, now)
	})
}

// RestartDelivery relaunches the current content with a fresh batch
func (f *ManagedDeliveryFlowImpl) RestartDelivery(ctx context.Context, deliveryID uint) error {
	delivery, err := f.loadDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != models.DeliveryStatusActive {
		return fmt.Errorf("restart delivery %d in status %s: %w", deliveryID, delivery.Status, ErrInvalidTransition)
	}
	if delivery.ExternalOrderID == nil {
		return fmt.Errorf("restart delivery %d: %w", deliveryID, ErrMissingOrder)
	}

	result := RuleResult{
		Decision: models.DeliveryDecisionRestart,
		Reason:   "explicit restart requested, relaunching current content with a fresh batch",
	}
	_, err = f.applyRestart(ctx, delivery, nil, result, utils.UTCNow())
	return err
}

// SwitchWork abandons the current content. Safe to call on an already-failed
// delivery; the handoff itself is idempotent.
func (f *ManagedDeliveryFlowImpl) SwitchWork(ctx context.Context, deliveryID uint) error {
	delivery, err := f.loadDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status == models.DeliveryStatusFailed {
		return nil
	}
	if delivery.Status != models.DeliveryStatusActive {
		return fmt.Errorf("switch work for delivery %d in status %s: %w", deliveryID, delivery.Status, ErrInvalidTransition)
	}
	if delivery.ExternalOrderID == nil {
		return fmt.Errorf("switch work for delivery %d: %w", deliveryID, ErrMissingOrder)
	}

	result := RuleResult{
		Decision: models.DeliveryDecisionSwitchWork,
		Reason:   "explicit switch requested, abandoning current content",
	}
	_, err = f.applySwitchWork(ctx, delivery, nil, result, utils.UTCNow())
	return err
}

// StopDelivery handles the two flavors of an external stop request
func (f *ManagedDeliveryFlowImpl) StopDelivery(ctx context.Context, deliveryID uint, immediate bool) error {
	if immediate {
		return f.PauseDelivery(ctx, deliveryID)
	}

	delivery, err := f.loadDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if delivery.Status != models.DeliveryStatusActive {
		return fmt.Errorf("stop delivery %d in status %s: %w", deliveryID, delivery.Status, ErrInvalidTransition)
	}

	now := utils.UTCNow()
	delivery.NoAutoRestart = true
	reason := "stop requested, finishing current batch without auto-restart"

	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.deliveryRepo.UpdateStatusFrom(txCtx, delivery, models.DeliveryStatusActive); err != nil {
			return err
		}
		return f.appendLog(txCtx, delivery, nil, models.DeliveryDecisionContinue, reason, false, now)
	})
}

// SyncAccount refreshes account-level counters from the platform
func (f *ManagedDeliveryFlowImpl) SyncAccount(ctx context.Context, accountID uint) error {
	account, err := f.accountRepo.ByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("sync account %d: %w", accountID, ErrAccountNotFound)
	}

	if _, err := f.client.QueryAccount(ctx, account.PlatformUserID); err != nil {
		return fmt.Errorf("sync account %d: %w", accountID, err)
	}

	account.LastSyncedAt = utils.UTCNowPtr()
	if err := f.accountRepo.Update(ctx, account); err != nil {
		return fmt.Errorf("sync account %d: %w", accountID, err)
	}
	f.invalidateThresholds(ctx, account.ID)
	return nil
}

// SweepDueDeliveries backfills check tasks for active deliveries whose next
// check is due. A delivery with an open check task is left alone, so the
// sweep never double-schedules.
func (f *ManagedDeliveryFlowImpl) SweepDueDeliveries(ctx context.Context) (int, error) {
	now := utils.UTCNow()
	due, err := f.deliveryRepo.ListDueForCheck(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, d := range due {
		open, err := f.taskRepo.HasOpenTask(ctx, d.ID, models.TaskTypeCheckCampaign)
		if err != nil {
			f.logger.Printf("delivery: sweep check for id=%d failed: %v", d.ID, err)
			continue
		}
		if open {
			continue
		}
		if err := f.scheduleCheck(ctx, d, now); err != nil {
			f.logger.Printf("delivery: sweep enqueue for id=%d failed: %v", d.ID, err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

// SyncStaleAccounts schedules account syncs for active accounts never synced
// or last synced more than accountSyncInterval ago. Accounts with a pending
// or running sync task are left alone, so the sweep never double-schedules.
func (f *ManagedDeliveryFlowImpl) SyncStaleAccounts(ctx context.Context) (int, error) {
	accounts, err := f.accountRepo.ListActive(ctx, 200, 0)
	if err != nil {
		return 0, err
	}

	now := utils.UTCNow()
	cutoff := now.Add(-accountSyncInterval)
	scheduled := 0
	for _, account := range accounts {
		if account.LastSyncedAt != nil && account.LastSyncedAt.After(cutoff) {
			continue
		}
		open, err := f.hasOpenAccountSync(ctx, account.ID)
		if err != nil {
			f.logger.Printf("delivery: sync check for account=%d failed: %v", account.ID, err)
			continue
		}
		if open {
			continue
		}
		task := &models.Task{
			Type:        models.TaskTypeSyncAccount,
			AccountID:   &account.ID,
			Priority:    200,
			ScheduledAt: now,
			MaxRetries:  3,
		}
		if err := f.taskRepo.Save(ctx, task); err != nil {
			f.logger.Printf("delivery: sync enqueue for account=%d failed: %v", account.ID, err)
			continue
		}
		scheduled++
	}
	return scheduled, nil
}

func (f *ManagedDeliveryFlowImpl) hasOpenAccountSync(ctx context.Context, accountID uint) (bool, error) {
	taskType := models.TaskTypeSyncAccount
	for _, status := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning} {
		s := status
		exists, err := f.taskRepo.Exists(ctx, models.TaskFilter{
			Type:      &taskType,
			AccountID: &accountID,
			Status:    &s,
		})
		if err != nil {
			return false, err
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (f *ManagedDeliveryFlowImpl) loadDelivery(ctx context.Context, deliveryID uint) (*models.ManagedDelivery, error) {
	delivery, err := f.deliveryRepo.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery %d: %w", deliveryID, ErrDeliveryNotFound)
	}
	return delivery, nil
}

func (f *ManagedDeliveryFlowImpl) loadDeliveryWithAccount(ctx context.Context, deliveryID uint) (*models.ManagedDelivery, *models.Account, error) {
	delivery, err := f.loadDelivery(ctx, deliveryID)
	if err != nil {
		return nil, nil, err
	}
	account, err := f.accountRepo.ByID(ctx, delivery.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if account == nil {
		return nil, nil, fmt.Errorf("delivery %d account %d: %w", deliveryID, delivery.AccountID, ErrAccountNotFound)
	}
	return delivery, account, nil
}

// thresholds resolves account thresholds through the cache when available
func (f *ManagedDeliveryFlowImpl) thresholds(ctx context.Context, account *models.Account) models.AccountThresholds {
	if f.rc == nil {
		return account.Thresholds(f.defaults)
	}

	key := f.thresholdsKey(account.ID)
	if raw, err := f.rc.Get(ctx, key).Result(); err == nil {
		var cached models.AccountThresholds
		if json.Unmarshal([]byte(raw), &cached) == nil {
			return cached
		}
	}

	resolved := account.Thresholds(f.defaults)
	if data, err := json.Marshal(resolved); err == nil {
		ttl := time.Hour
		if f.cacheCfg != nil && f.cacheCfg.DefaultTTL > 0 {
			ttl = f.cacheCfg.DefaultTTL
		}
		if err := f.rc.Set(ctx, key, data, ttl).Err(); err != nil {
			f.logger.Printf("delivery: cache thresholds for account=%d failed: %v", account.ID, err)
		}
	}
	return resolved
}

func (f *ManagedDeliveryFlowImpl) invalidateThresholds(ctx context.Context, accountID uint) {
	if f.rc == nil {
		return
	}
	if err := f.rc.Del(ctx, f.thresholdsKey(accountID)).Err(); err != nil {
		f.logger.Printf("delivery: invalidate thresholds for account=%d failed: %v", accountID, err)
	}
}

func (f *ManagedDeliveryFlowImpl) thresholdsKey(accountID uint) string {
	prefix := "kagemusha:"
	if f.cacheCfg != nil && f.cacheCfg.RedisPrefix != "" {
		prefix = f.cacheCfg.RedisPrefix
	}
	return fmt.Sprintf("%sthresholds:%d", prefix, accountID)
}

func (f *ManagedDeliveryFlowImpl) appendLog(ctx context.Context, delivery *models.ManagedDelivery, perf *services.OrderPerformance, decision, reason string, isEffective bool, now time.Time) error {
	return f.appendLogForBatch(ctx, delivery, delivery.CurrentBatch, perf, decision, reason, isEffective, now)
}

func (f *ManagedDeliveryFlowImpl) appendLogForBatch(ctx context.Context, delivery *models.ManagedDelivery, batch int, perf *services.OrderPerformance, decision, reason string, isEffective bool, now time.Time) error {
	entry := &models.DeliveryLog{
		ManagedDeliveryID: delivery.ID,
		Batch:             batch,
		CheckStage:        delivery.CheckStage,
		PeriodStart:       now,
		PeriodEnd:         now,
		IsEffective:       isEffective,
		Decision:          decision,
		DecisionReason:    reason,
		CreatedAt:         now,
	}
	if delivery.BatchStartAt != nil {
		entry.PeriodStart = *delivery.BatchStartAt
	}
	if perf != nil {
		entry.Spent = perf.Spent
		entry.Impressions = perf.Impressions
		entry.Clicks = perf.Clicks
		entry.CTR = perf.CTR()
		entry.Leads = perf.Leads
		entry.CostPerLead = perf.CostPerLead()
		if perf.Followers > 0 {
			entry.FollowerDelta = &perf.Followers
		}
		entry.PeriodStart = perf.PeriodStart
		entry.PeriodEnd = perf.PeriodEnd
	}
	return f.logRepo.Save(ctx, entry)
}

func (f *ManagedDeliveryFlowImpl) scheduleCheck(ctx context.Context, delivery *models.ManagedDelivery, at time.Time) error {
	return f.taskRepo.Save(ctx, &models.Task{
		Type:              models.TaskTypeCheckCampaign,
		AccountID:         &delivery.AccountID,
		WorkID:            &delivery.WorkID,
		ManagedDeliveryID: &delivery.ID,
		Priority:          100,
		ScheduledAt:       at,
		MaxRetries:        3,
	})
}
