package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/Kagemusha/models"
	testutil "github.com/amirphl/Kagemusha/testing"
	"github.com/amirphl/Kagemusha/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTaskRepoTest(t *testing.T) (*testutil.TestDB, TaskRepository) {
	t.Helper()

	db, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("test database unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := db.TeardownTestDB(); err != nil {
			t.Logf("test database teardown: %v", err)
		}
	})
	return db, NewTaskRepository(db.DB)
}

func TestFailExhaustsRetriesAndTaskIsNeverReclaimed(t *testing.T) {
	db, repo := setupTaskRepoTest(t)
	fixtures := testutil.NewTestFixtures(db)
	ctx := context.Background()

	task, err := fixtures.CreateTestTask(models.TaskTypeCheckCampaign, nil)
	require.NoError(t, err)

	// Drive the task through its whole retry budget. Each round reschedules
	// with backoff until the budget is spent, then the failure is terminal.
	for i := 0; i < task.MaxRetries+1; i++ {
		claimed, err := repo.ClaimDue(ctx, 10, utils.UTCNow().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, claimed, 1, "round %d", i)
		require.NoError(t, repo.Fail(ctx, claimed[0].ID, "platform unreachable"))
	}

	stored, err := repo.ByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, task.MaxRetries, stored.RetryCount)
	require.NotNil(t, stored.Error)
	require.NotNil(t, stored.CompletedAt)

	// A terminal task never comes back, no matter how far ahead the claim looks.
	claimed, err := repo.ClaimDue(ctx, 10, utils.UTCNow().Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// And further failure bookkeeping on it is rejected.
	assert.ErrorIs(t, repo.Fail(ctx, task.ID, "late failure"), ErrTaskTerminal)
}

func TestClaimDueConcurrentClaimersGetDisjointTasks(t *testing.T) {
	db, repo := setupTaskRepoTest(t)
	fixtures := testutil.NewTestFixtures(db)
	ctx := context.Background()

	const total = 10
	for i := 0; i < total; i++ {
		_, err := fixtures.CreateTestTask(models.TaskTypeCheckCampaign, nil)
		require.NoError(t, err)
	}

	now := utils.UTCNow().Add(time.Minute)
	results := make([][]*models.Task, 2)
	errs := make([]error, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.ClaimDue(ctx, total/2, now)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// Between them the claimers drain the whole due set, and no task is
	// handed to both.
	seen := make(map[uint]int)
	for _, batch := range results {
		for _, task := range batch {
			seen[task.ID]++
			assert.Equal(t, models.TaskStatusRunning, task.Status)
			require.NotNil(t, task.StartedAt)
		}
	}
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %d claimed more than once", id)
	}

	// Everything is running now, so a third claim finds nothing.
	claimed, err := repo.ClaimDue(ctx, total, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestHasOpenTaskTracksTaskLifecycle(t *testing.T) {
	db, repo := setupTaskRepoTest(t)
	fixtures := testutil.NewTestFixtures(db)
	ctx := context.Background()

	account, err := fixtures.CreateTestAccount()
	require.NoError(t, err)
	delivery, err := fixtures.CreateTestDelivery(account.ID)
	require.NoError(t, err)

	open, err := repo.HasOpenTask(ctx, delivery.ID, models.TaskTypeCheckCampaign)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = fixtures.CreateTestTask(models.TaskTypeCheckCampaign, &delivery.ID)
	require.NoError(t, err)

	open, err = repo.HasOpenTask(ctx, delivery.ID, models.TaskTypeCheckCampaign)
	require.NoError(t, err)
	assert.True(t, open)

	// Claimed tasks are still open; completed ones are not.
	claimed, err := repo.ClaimDue(ctx, 10, utils.UTCNow().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	open, err = repo.HasOpenTask(ctx, delivery.ID, models.TaskTypeCheckCampaign)
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, repo.Complete(ctx, claimed[0].ID, models.TaskParams{"done": true}))

	open, err = repo.HasOpenTask(ctx, delivery.ID, models.TaskTypeCheckCampaign)
	require.NoError(t, err)
	assert.False(t, open)
}
