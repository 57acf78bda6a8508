// Package testing provides test utilities and database setup for testing the delivery automation system
package testing

import (
	"fmt"
	"math/rand"

	"github.com/amirphl/Kagemusha/models"
	"github.com/amirphl/Kagemusha/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestAccount creates an active account with no threshold overrides
func (tf *TestFixtures) CreateTestAccount() (*models.Account, error) {
	account := &models.Account{
		DisplayName:    "Test Account",
		PlatformUserID: fmt.Sprintf("platform-user-%09d", rand.Intn(900000000)+100000000),
		IsActive:       utils.ToPtr(true),
	}
	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create test account: %w", err)
	}
	return account, nil
}

// CreateTestDelivery creates a pending managed delivery for the account
func (tf *TestFixtures) CreateTestDelivery(accountID uint) (*models.ManagedDelivery, error) {
	delivery := &models.ManagedDelivery{
		AccountID: accountID,
		WorkID:    uint(rand.Intn(90000) + 10000),
		Status:    models.DeliveryStatusPending,
		Budget:    500,
		BidAmount: 2.5,
	}
	if err := tf.DB.DB.Create(delivery).Error; err != nil {
		return nil, fmt.Errorf("failed to create test delivery: %w", err)
	}
	return delivery, nil
}

// CreateTestTask creates a pending task scheduled for immediate pickup
func (tf *TestFixtures) CreateTestTask(taskType models.TaskType, deliveryID *uint) (*models.Task, error) {
	task := &models.Task{
		Type:              taskType,
		ManagedDeliveryID: deliveryID,
		ScheduledAt:       utils.UTCNow(),
		MaxRetries:        3,
	}
	if err := tf.DB.DB.Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create test task: %w", err)
	}
	return task, nil
}

// CreateTestDeliveryLog appends an evaluation record for the delivery
func (tf *TestFixtures) CreateTestDeliveryLog(deliveryID uint, decision string, isEffective bool) (*models.DeliveryLog, error) {
	now := utils.UTCNow()
	entry := &models.DeliveryLog{
		ManagedDeliveryID: deliveryID,
		Batch:             1,
		CheckStage:        1,
		PeriodStart:       now,
		PeriodEnd:         now,
		Decision:          decision,
		DecisionReason:    "fixture",
		IsEffective:       isEffective,
	}
	if err := tf.DB.DB.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create test delivery log: %w", err)
	}
	return entry, nil
}
