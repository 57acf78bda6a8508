package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/Kagemusha/app/services"
	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// In-memory repositories for exercising the flow without a database.

type fakeDeliveryRepo struct {
	deliveries map[uint]*models.ManagedDelivery
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{deliveries: make(map[uint]*models.ManagedDelivery)}
}

func (r *fakeDeliveryRepo) ByID(ctx context.Context, id uint) (*models.ManagedDelivery, error) {
	d, ok := r.deliveries[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDeliveryRepo) ByFilter(ctx context.Context, filter models.ManagedDeliveryFilter, orderBy string, limit, offset int) ([]*models.ManagedDelivery, error) {
	return nil, nil
}

func (r *fakeDeliveryRepo) Save(ctx context.Context, d *models.ManagedDelivery) error {
	if d.ID == 0 {
		d.ID = uint(len(r.deliveries) + 1)
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *fakeDeliveryRepo) SaveBatch(ctx context.Context, ds []*models.ManagedDelivery) error {
	for _, d := range ds {
		if err := r.Save(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeDeliveryRepo) Count(ctx context.Context, filter models.ManagedDeliveryFilter) (int64, error) {
	return int64(len(r.deliveries)), nil
}

func (r *fakeDeliveryRepo) Exists(ctx context.Context, filter models.ManagedDeliveryFilter) (bool, error) {
	return len(r.deliveries) > 0, nil
}

func (r *fakeDeliveryRepo) Update(ctx context.Context, d *models.ManagedDelivery) error {
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *fakeDeliveryRepo) UpdateStatusFrom(ctx context.Context, d *models.ManagedDelivery, from models.DeliveryStatus) error {
	current, ok := r.deliveries[d.ID]
	if !ok || current.Status != from {
		return assert.AnError
	}
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *fakeDeliveryRepo) ListDueForCheck(ctx context.Context, now time.Time, limit int) ([]*models.ManagedDelivery, error) {
	var due []*models.ManagedDelivery
	for _, d := range r.deliveries {
		if d.Status == models.DeliveryStatusActive && d.NextCheckAt != nil && !d.NextCheckAt.After(now) {
			cp := *d
			due = append(due, &cp)
		}
	}
	return due, nil
}

type fakeAccountRepo struct {
	accounts map[uint]*models.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[uint]*models.Account)}
}

func (r *fakeAccountRepo) ByID(ctx context.Context, id uint) (*models.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAccountRepo) ByFilter(ctx context.Context, filter models.AccountFilter, orderBy string, limit, offset int) ([]*models.Account, error) {
	return nil, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, a *models.Account) error {
	if a.ID == 0 {
		a.ID = uint(len(r.accounts) + 1)
	}
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccountRepo) SaveBatch(ctx context.Context, as []*models.Account) error {
	for _, a := range as {
		if err := r.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeAccountRepo) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	return int64(len(r.accounts)), nil
}

func (r *fakeAccountRepo) Exists(ctx context.Context, filter models.AccountFilter) (bool, error) {
	return len(r.accounts) > 0, nil
}

func (r *fakeAccountRepo) Update(ctx context.Context, a *models.Account) error {
	cp := *a
	r.accounts[a.ID] = &cp
	return nil
}

func (r *fakeAccountRepo) ListActive(ctx context.Context, limit, offset int) ([]*models.Account, error) {
	var active []*models.Account
	for _, a := range r.accounts {
		if utils.IsTrue(a.IsActive) {
			cp := *a
			active = append(active, &cp)
		}
	}
	return active, nil
}

type fakeLogRepo struct {
	entries []*models.DeliveryLog
}

func (r *fakeLogRepo) ByID(ctx context.Context, id uint) (*models.DeliveryLog, error) {
	for _, e := range r.entries {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeLogRepo) ByFilter(ctx context.Context, filter models.DeliveryLogFilter, orderBy string, limit, offset int) ([]*models.DeliveryLog, error) {
	return r.entries, nil
}

func (r *fakeLogRepo) Save(ctx context.Context, e *models.DeliveryLog) error {
	cp := *e
	cp.ID = uint(len(r.entries) + 1)
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeLogRepo) SaveBatch(ctx context.Context, es []*models.DeliveryLog) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeLogRepo) Count(ctx context.Context, filter models.DeliveryLogFilter) (int64, error) {
	return int64(len(r.entries)), nil
}

func (r *fakeLogRepo) Exists(ctx context.Context, filter models.DeliveryLogFilter) (bool, error) {
	return len(r.entries) > 0, nil
}

func (r *fakeLogRepo) ListByDelivery(ctx context.Context, deliveryID uint, limit, offset int) ([]*models.DeliveryLog, error) {
	var out []*models.DeliveryLog
	for _, e := range r.entries {
		if e.ManagedDeliveryID == deliveryID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) ListRecentByDelivery(ctx context.Context, deliveryID uint, limit int) ([]*models.DeliveryLog, error) {
	forward, err := r.ListByDelivery(ctx, deliveryID, limit, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*models.DeliveryLog, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		out = append(out, forward[i])
	}
	return out, nil
}

type fakeTaskRepo struct {
	tasks []*models.Task
}

func (r *fakeTaskRepo) ByID(ctx context.Context, id uint) (*models.Task, error) {
	for _, t := range r.tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeTaskRepo) ByFilter(ctx context.Context, filter models.TaskFilter, orderBy string, limit, offset int) ([]*models.Task, error) {
	return r.tasks, nil
}

func (r *fakeTaskRepo) Save(ctx context.Context, t *models.Task) error {
	cp := *t
	cp.ID = uint(len(r.tasks) + 1)
	if cp.Status == "" {
		cp.Status = models.TaskStatusPending
	}
	r.tasks = append(r.tasks, &cp)
	return nil
}

func (r *fakeTaskRepo) SaveBatch(ctx context.Context, ts []*models.Task) error {
	for _, t := range ts {
		if err := r.Save(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeTaskRepo) Count(ctx context.Context, filter models.TaskFilter) (int64, error) {
	return int64(len(r.tasks)), nil
}

func (r *fakeTaskRepo) Exists(ctx context.Context, filter models.TaskFilter) (bool, error) {
	for _, t := range r.tasks {
		if filter.Type != nil && t.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.AccountID != nil && (t.AccountID == nil || *t.AccountID != *filter.AccountID) {
			continue
		}
		if filter.ManagedDeliveryID != nil && (t.ManagedDeliveryID == nil || *t.ManagedDeliveryID != *filter.ManagedDeliveryID) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeTaskRepo) ClaimDue(ctx context.Context, limit int, now time.Time) ([]*models.Task, error) {
	return nil, nil
}

func (r *fakeTaskRepo) Complete(ctx context.Context, taskID uint, result models.TaskParams) error {
	return nil
}

func (r *fakeTaskRepo) Fail(ctx context.Context, taskID uint, taskErr string) error {
	return nil
}

func (r *fakeTaskRepo) HasOpenTask(ctx context.Context, deliveryID uint, taskType models.TaskType) (bool, error) {
	for _, t := range r.tasks {
		if t.ManagedDeliveryID != nil && *t.ManagedDeliveryID == deliveryID &&
			t.Type == taskType && !t.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

type flowHarness struct {
	flow         ManagedDeliveryFlow
	deliveryRepo *fakeDeliveryRepo
	accountRepo  *fakeAccountRepo
	logRepo      *fakeLogRepo
	taskRepo     *fakeTaskRepo
	client       *services.MockAdPlatformClient
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()

	h := &flowHarness{
		deliveryRepo: newFakeDeliveryRepo(),
		accountRepo:  newFakeAccountRepo(),
		logRepo:      &fakeLogRepo{},
		taskRepo:     &fakeTaskRepo{},
		client:       services.NewMockAdPlatformClient(),
	}
	h.flow = NewManagedDeliveryFlow(
		h.deliveryRepo,
		h.accountRepo,
		h.logRepo,
		h.taskRepo,
		h.client,
		nil, // no database, fakes ignore transactions
		nil, // no redis, thresholds resolve directly
		nil,
		models.AccountThresholds{MinConsumption: 50, MaxCostPerLead: 30, MaxFailRetries: 3},
		nil,
	)
	return h
}

func (h *flowHarness) seedActiveDelivery(t *testing.T) *models.ManagedDelivery {
	t.Helper()

	account := &models.Account{DisplayName: "acct", PlatformUserID: "pu-1", IsActive: utils.ToPtr(true)}
	require.NoError(t, h.accountRepo.Save(context.Background(), account))

	now := utils.UTCNow()
	delivery := &models.ManagedDelivery{
		AccountID:       account.ID,
		WorkID:          42,
		Status:          models.DeliveryStatusActive,
		CurrentBatch:    1,
		BatchStartAt:    &now,
		Budget:          500,
		BidAmount:       2,
		ExternalOrderID: utils.ToPtr("order-1"),
		CheckStage:      1,
	}
	require.NoError(t, h.deliveryRepo.Save(context.Background(), delivery))
	return delivery
}

func TestLaunchDeliveryActivatesAndSchedulesCheck(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	account := &models.Account{DisplayName: "acct", PlatformUserID: "pu-1", IsActive: utils.ToPtr(true)}
	require.NoError(t, h.accountRepo.Save(ctx, account))
	delivery := &models.ManagedDelivery{AccountID: account.ID, WorkID: 7, Status: models.DeliveryStatusPending, Budget: 300, BidAmount: 1.5}
	require.NoError(t, h.deliveryRepo.Save(ctx, delivery))

	require.NoError(t, h.flow.LaunchDelivery(ctx, delivery.ID))

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusActive, stored.Status)
	assert.Equal(t, 1, stored.CurrentBatch)
	require.NotNil(t, stored.ExternalOrderID)
	require.NotNil(t, stored.NextCheckAt)

	// Fresh batch has zero spend, so the first check comes quickly.
	assert.WithinDuration(t, utils.UTCNow().Add(RecheckIntervalShort), *stored.NextCheckAt, 5*time.Second)

	// One audit entry and one scheduled check task.
	assert.Len(t, h.logRepo.entries, 1)
	require.Len(t, h.taskRepo.tasks, 1)
	assert.Equal(t, models.TaskTypeCheckCampaign, h.taskRepo.tasks[0].Type)
}

func TestLaunchDeliveryRejectsNonPending(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)

	err := h.flow.LaunchDelivery(context.Background(), delivery.ID)
	assert.True(t, IsDeliveryNotPending(err))
}

func TestLaunchDeliveryPlatformFailureLeavesStateUntouched(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	account := &models.Account{DisplayName: "acct", PlatformUserID: "pu-1", IsActive: utils.ToPtr(true)}
	require.NoError(t, h.accountRepo.Save(ctx, account))
	delivery := &models.ManagedDelivery{AccountID: account.ID, WorkID: 7, Status: models.DeliveryStatusPending}
	require.NoError(t, h.deliveryRepo.Save(ctx, delivery))

	h.client.CreateErr = assert.AnError
	err := h.flow.LaunchDelivery(ctx, delivery.ID)
	require.Error(t, err)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPending, stored.Status)
	assert.Empty(t, h.logRepo.entries)
	assert.Empty(t, h.taskRepo.tasks)
}

func TestCheckDeliveryEffectiveContinues(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	h.client.SetPerformance("order-1", services.OrderPerformance{
		Spent: 100, Impressions: 10000, Clicks: 300, Leads: 5,
		PeriodStart: utils.UTCNow().Add(-time.Hour), PeriodEnd: utils.UTCNow(),
	})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDecisionContinue, outcome.Decision)
	assert.True(t, outcome.IsEffective)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusActive, stored.Status)
	assert.Equal(t, 1, stored.CurrentBatch)
	// Effective first check advances to the follower-growth stage.
	assert.Equal(t, 2, stored.CheckStage)

	require.Len(t, h.logRepo.entries, 1)
	entry := h.logRepo.entries[0]
	assert.True(t, entry.IsEffective)
	assert.InDelta(t, 20.0, entry.CostPerLead, 0.0001)
	assert.InDelta(t, 0.03, entry.CTR, 0.0001)
}

func TestCheckDeliveryZeroLeadsRestartsWithNewBatch(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	h.client.SetPerformance("order-1", services.OrderPerformance{Spent: 80, Leads: 0})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDecisionRestart, outcome.Decision)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusActive, stored.Status)
	assert.Equal(t, 2, stored.CurrentBatch)
	require.NotNil(t, stored.ExternalOrderID)
	assert.NotEqual(t, "order-1", *stored.ExternalOrderID)

	// Old order stopped, new one created.
	assert.True(t, h.client.IsStopped("order-1"))

	// The audit entry records the batch that was evaluated.
	require.Len(t, h.logRepo.entries, 1)
	assert.Equal(t, 1, h.logRepo.entries[0].Batch)
}

func TestCheckDeliverySwitchesAfterRepeatedFailures(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	// Two prior restart cycles put the streak at the budget boundary.
	for range 2 {
		require.NoError(t, h.logRepo.Save(ctx, &models.DeliveryLog{
			ManagedDeliveryID: delivery.ID,
			Decision:          models.DeliveryDecisionRestart,
		}))
	}

	h.client.SetPerformance("order-1", services.OrderPerformance{Spent: 80, Leads: 0})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDecisionSwitchWork, outcome.Decision)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, stored.Status)
	assert.True(t, h.client.IsStopped("order-1"))

	// Content selection is handed off through a switch-work task.
	require.Len(t, h.taskRepo.tasks, 1)
	assert.Equal(t, models.TaskTypeSwitchWork, h.taskRepo.tasks[0].Type)
}

func TestCheckDeliveryNoAutoRestartDegradesToPause(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	require.NoError(t, h.flow.StopDelivery(ctx, delivery.ID, false))

	h.client.SetPerformance("order-1", services.OrderPerformance{Spent: 80, Leads: 0})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDecisionPause, outcome.Decision)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPaused, stored.Status)
	assert.True(t, h.client.IsPaused("order-1"))
}

func TestCheckDeliveryPlatformFinishedCompletes(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	h.client.SetPerformance("order-1", services.OrderPerformance{Spent: 500, Leads: 20, Finished: true})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.True(t, outcome.IsEffective)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusCompleted, stored.Status)
	assert.Nil(t, stored.NextCheckAt)
}

func TestCheckDeliveryQueryFailureMutatesNothing(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	h.client.QueryErr = assert.AnError

	_, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.Error(t, err)

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusActive, stored.Status)
	assert.Empty(t, h.logRepo.entries)
}

func TestCheckDeliveryTerminalRejected(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	stored, _ := h.deliveryRepo.ByID(ctx, delivery.ID)
	stored.Status = models.DeliveryStatusCompleted
	require.NoError(t, h.deliveryRepo.Update(ctx, stored))

	_, err := h.flow.CheckDelivery(ctx, delivery.ID)
	assert.True(t, IsDeliveryTerminal(err))
}

func TestSwitchWorkIdempotentOnFailedDelivery(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	require.NoError(t, h.flow.SwitchWork(ctx, delivery.ID))
	// Second call is a no-op, not an error.
	require.NoError(t, h.flow.SwitchWork(ctx, delivery.ID))

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusFailed, stored.Status)
	assert.Len(t, h.taskRepo.tasks, 1)
}

func TestStopDeliveryImmediatePauses(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	require.NoError(t, h.flow.StopDelivery(ctx, delivery.ID, true))

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusPaused, stored.Status)
	assert.True(t, h.client.IsPaused("order-1"))
}

func TestStopDeliveryDeferredSetsNoAutoRestart(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	require.NoError(t, h.flow.StopDelivery(ctx, delivery.ID, false))

	stored, err := h.deliveryRepo.ByID(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusActive, stored.Status)
	assert.True(t, stored.NoAutoRestart)
	assert.False(t, h.client.IsPaused("order-1"))
}

func TestAccountThresholdOverridesApply(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	// Lower the spend floor for this account so 40 is already judgeable.
	account, _ := h.accountRepo.ByID(ctx, delivery.AccountID)
	account.MinConsumption = utils.ToPtr(20.0)
	require.NoError(t, h.accountRepo.Update(ctx, account))

	h.client.SetPerformance("order-1", services.OrderPerformance{Spent: 40, Leads: 0})

	outcome, err := h.flow.CheckDelivery(ctx, delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryDecisionRestart, outcome.Decision)
}

func TestSweepDueDeliveriesSkipsOpenTasks(t *testing.T) {
	h := newFlowHarness(t)
	delivery := h.seedActiveDelivery(t)
	ctx := context.Background()

	past := utils.UTCNow().Add(-time.Minute)
	stored, _ := h.deliveryRepo.ByID(ctx, delivery.ID)
	stored.NextCheckAt = &past
	require.NoError(t, h.deliveryRepo.Update(ctx, stored))

	scheduled, err := h.flow.SweepDueDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	require.Len(t, h.taskRepo.tasks, 1)

	// Second sweep sees the open check task and enqueues nothing.
	scheduled, err = h.flow.SweepDueDeliveries(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, scheduled)
	assert.Len(t, h.taskRepo.tasks, 1)
}

func TestSyncStaleAccountsSchedulesOnlyStaleOnes(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	fresh := &models.Account{DisplayName: "fresh", PlatformUserID: "pu-fresh", IsActive: utils.ToPtr(true), LastSyncedAt: utils.UTCNowPtr()}
	require.NoError(t, h.accountRepo.Save(ctx, fresh))
	stale := &models.Account{DisplayName: "stale", PlatformUserID: "pu-stale", IsActive: utils.ToPtr(true)}
	require.NoError(t, h.accountRepo.Save(ctx, stale))
	inactive := &models.Account{DisplayName: "inactive", PlatformUserID: "pu-off", IsActive: utils.ToPtr(false)}
	require.NoError(t, h.accountRepo.Save(ctx, inactive))

	scheduled, err := h.flow.SyncStaleAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, scheduled)
	require.Len(t, h.taskRepo.tasks, 1)

	task := h.taskRepo.tasks[0]
	assert.Equal(t, models.TaskTypeSyncAccount, task.Type)
	require.NotNil(t, task.AccountID)
	assert.Equal(t, stale.ID, *task.AccountID)

	// The queued sync task suppresses re-enqueueing on the next sweep.
	scheduled, err = h.flow.SyncStaleAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, scheduled)
	assert.Len(t, h.taskRepo.tasks, 1)
}
