package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/servease/dispatch-service/internal/config"
	"github.com/servease/dispatch-service/internal/hierarchy"
	"github.com/servease/dispatch-service/internal/logger"
	"github.com/servease/dispatch-service/internal/model"
	"github.com/servease/dispatch-service/internal/repo"
)

const (
	testAdminID     = 10
	testBranchID    = 20
	testTalukID     = 30
	testAgentID     = 40
	testCustomerID  = 77
	platformAccount = 99
	testDistrict    = "Salem"
	testTaluk       = "Attur"
	testPincode     = "636102"
)

func mustDecimal(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testEnv struct {
	requests *RequestService
	ledger   *LedgerService
	repo     *repo.Repository
	db       *gorm.DB
}

// newTestEnv builds the full service stack on an isolated in-memory SQLite
// DB with a mocked Redis (all cache calls fail soft) and seeds the
// hierarchy plus the default rate table.
func newTestEnv(t *testing.T) (*testEnv, context.Context) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&model.User{}, &model.ServiceRequest{}, &model.CommissionTransaction{},
		&model.CommissionConfig{}, &model.WalletAccount{}, &model.OutboxEvent{},
	))

	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)
	resolver := hierarchy.NewResolver(log)
	cfg := config.CommissionConfig{TriggerStatus: "completed", PlatformAccountID: platformAccount}
	ledger := NewLedgerService(repository, resolver, cfg, log)
	requests := NewRequestService(repository, ledger, resolver, cfg, log)

	ctx := context.Background()
	users := []model.User{
		{ID: testAdminID, Name: "admin", Role: model.RoleAdmin, Active: true},
		{ID: testBranchID, Name: "branch", Role: model.RoleBranchManager, District: testDistrict, Active: true},
		{ID: testTalukID, Name: "taluk", Role: model.RoleTalukManager, District: testDistrict, Taluk: testTaluk, Active: true},
		{ID: testAgentID, Name: "agent", Role: model.RoleServiceAgent, District: testDistrict, Taluk: testTaluk, Pincode: testPincode, Active: true},
	}
	assert.NoError(t, db.Create(&users).Error)

	seeded, err := ledger.InitializeDefaultConfigs(ctx)
	assert.NoError(t, err)
	assert.True(t, seeded)

	return &testEnv{requests: requests, ledger: ledger, repo: repository, db: db}, ctx
}

// newTaxiRequest creates a monetized taxi request fully covered by the
// seeded hierarchy and walks it to in_progress.
func newTaxiRequest(t *testing.T, env *testEnv, ctx context.Context, amount string) *model.ServiceRequest {
	req := createTaxiRequest(t, env, ctx, amount)
	out, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusInProgress,
	})
	assert.NoError(t, err)
	return out
}

func createTaxiRequest(t *testing.T, env *testEnv, ctx context.Context, amount string) *model.ServiceRequest {
	req, err := env.requests.CreateRequest(ctx, CreateRequestInput{
		CustomerID:    testCustomerID,
		ServiceType:   model.ServiceTaxi,
		Amount:        mustDecimal(amount),
		PaymentMethod: "upi",
		ServiceData:   `{"pickup":"bus stand","drop":"railway station"}`,
		District:      testDistrict,
		Taluk:         testTaluk,
		Pincode:       testPincode,
	})
	assert.NoError(t, err)
	return req
}
