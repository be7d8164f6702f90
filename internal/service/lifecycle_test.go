package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/servease/dispatch-service/internal/model"
	"github.com/servease/dispatch-service/internal/repo"
)

func TestCreateRequest_StampsAssignmentAndNumber(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := createTaxiRequest(t, env, ctx, "500")

	assert.Equal(t, model.StatusNew, req.Status)
	assert.Regexp(t, `^TAX-\d{6}$`, req.RequestNumber)
	assert.Equal(t, model.PaymentPending, req.PaymentStatus)

	if assert.NotNil(t, req.PincodeAgentID) {
		assert.Equal(t, uint64(testAgentID), *req.PincodeAgentID)
	}
	if assert.NotNil(t, req.TalukManagerID) {
		assert.Equal(t, uint64(testTalukID), *req.TalukManagerID)
	}
	if assert.NotNil(t, req.BranchManagerID) {
		assert.Equal(t, uint64(testBranchID), *req.BranchManagerID)
	}
	assert.Nil(t, req.AdminApprovedBy)
}

func TestCreateRequest_RejectsUnknownServiceType(t *testing.T) {
	env, ctx := newTestEnv(t)
	_, err := env.requests.CreateRequest(ctx, CreateRequestInput{
		CustomerID:  testCustomerID,
		ServiceType: model.ServiceType("plumbing"),
		Amount:      mustDecimal("100"),
	})
	assert.ErrorIs(t, err, ErrInvalidServiceType)
}

func TestTransition_HappyPathToClosure(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := createTaxiRequest(t, env, ctx, "500")

	steps := []struct {
		actor  model.Role
		userID uint64
		from   model.Status
		to     model.Status
	}{
		{model.RoleServiceAgent, testAgentID, model.StatusNew, model.StatusInProgress},
		{model.RoleServiceAgent, testAgentID, model.StatusInProgress, model.StatusCompleted},
		{model.RoleTalukManager, testTalukID, model.StatusCompleted, model.StatusApproved},
		{model.RoleBranchManager, testBranchID, model.StatusApproved, model.StatusFinalApproved},
		{model.RoleAdmin, testAdminID, model.StatusFinalApproved, model.StatusClosed},
	}
	var out *model.ServiceRequest
	var err error
	for _, s := range steps {
		out, err = env.requests.Transition(ctx, TransitionInput{
			RequestID: req.ID, ActingUserID: s.userID, ActingRole: s.actor,
			ExpectedStatus: s.from, TargetStatus: s.to,
		})
		assert.NoError(t, err, "%s: %s -> %s", s.actor, s.from, s.to)
		assert.Equal(t, s.to, out.Status)
	}

	assert.NotNil(t, out.CompletedAt)
	assert.NotNil(t, out.ApprovedAt)
	if assert.NotNil(t, out.AdminApprovedBy) {
		assert.Equal(t, uint64(testAdminID), *out.AdminApprovedBy)
	}

	// commission fired exactly once, on completed
	rows, err := env.ledger.ListRequestCommissions(ctx, req.ID)
	assert.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestTransition_InvalidLeavesStatusUnchanged(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := createTaxiRequest(t, env, ctx, "500")

	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testTalukID, ActingRole: model.RoleTalukManager,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusApproved,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := env.requests.GetRequest(ctx, req.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusNew, got.Status)
}

func TestTransition_EscalationBlocksAgent(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := newTaxiRequest(t, env, ctx, "500")

	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusCompleted,
	})
	assert.NoError(t, err)

	_, err = env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testTalukID, ActingRole: model.RoleTalukManager,
		ExpectedStatus: model.StatusCompleted, TargetStatus: model.StatusEscalated,
	})
	assert.NoError(t, err)

	// the agent cannot pull an escalated request back
	_, err = env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusEscalated, TargetStatus: model.StatusInProgress,
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := env.requests.GetRequest(ctx, req.ID)
	assert.Equal(t, model.StatusEscalated, got.Status)
}

func TestTransition_StaleReadConflicts(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := newTaxiRequest(t, env, ctx, "500")

	// admin closes the request while another caller still sees in_progress
	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAdminID, ActingRole: model.RoleAdmin,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusCancelled,
	})
	assert.NoError(t, err)

	_, err = env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAdminID, ActingRole: model.RoleAdmin,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusClosed,
	})
	// cancelled is terminal, so the legality check already rejects it
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, _ := env.requests.GetRequest(ctx, req.ID)
	assert.Equal(t, model.StatusCancelled, got.Status)
}

func TestTransition_ExpectedStatusMismatch(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := newTaxiRequest(t, env, ctx, "500")

	// caller read "new" long ago; the request moved on since
	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAdminID, ActingRole: model.RoleAdmin,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusEscalated,
	})
	assert.ErrorIs(t, err, repo.ErrConflict)

	got, _ := env.requests.GetRequest(ctx, req.ID)
	assert.Equal(t, model.StatusInProgress, got.Status)
}

func TestTransition_CustomerCancel(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := createTaxiRequest(t, env, ctx, "500")

	out, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testCustomerID, ActingRole: model.RoleCustomer,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusCancelled,
		Notes: "booked by mistake",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, out.Status)
	if assert.NotNil(t, out.StatusNote) {
		assert.Equal(t, "booked by mistake", *out.StatusNote)
	}

	// no commission for a cancelled request
	rows, _ := env.ledger.ListRequestCommissions(ctx, req.ID)
	assert.Empty(t, rows)
}

func TestTransition_UnknownRequest(t *testing.T) {
	env, ctx := newTestEnv(t)
	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: 4242, ActingUserID: testAdminID, ActingRole: model.RoleAdmin,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusClosed,
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTransition_AdminOverrideRetriggersNothing(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := newTaxiRequest(t, env, ctx, "500")

	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusCompleted,
	})
	assert.NoError(t, err)

	// admin bounces the request back and forward through completed again
	_, err = env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAdminID, ActingRole: model.RoleAdmin,
		ExpectedStatus: model.StatusCompleted, TargetStatus: model.StatusInProgress,
	})
	assert.NoError(t, err)
	_, err = env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusCompleted,
	})
	assert.NoError(t, err)

	// the sentinel keeps the ledger single-shot
	rows, err := env.ledger.ListRequestCommissions(ctx, req.ID)
	assert.NoError(t, err)
	assert.Len(t, rows, 5)
	bal, _ := env.ledger.GetWalletBalance(ctx, testAgentID)
	assert.Equal(t, "10.00", bal.StringFixed(2))
}

func TestTransition_ZeroAmountRequestCompletes(t *testing.T) {
	env, ctx := newTestEnv(t)
	req := createTaxiRequest(t, env, ctx, "0")

	_, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusNew, TargetStatus: model.StatusInProgress,
	})
	assert.NoError(t, err)

	// an unmonetized request must still reach completed; there is just
	// nothing for the ledger to split
	out, err := env.requests.Transition(ctx, TransitionInput{
		RequestID: req.ID, ActingUserID: testAgentID, ActingRole: model.RoleServiceAgent,
		ExpectedStatus: model.StatusInProgress, TargetStatus: model.StatusCompleted,
	})
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, out.Status)
	assert.NotNil(t, out.CompletedAt)

	rows, err := env.ledger.ListRequestCommissions(ctx, req.ID)
	assert.NoError(t, err)
	assert.Empty(t, rows)

	// an explicit operator call still refuses a zero amount
	assert.ErrorIs(t, env.ledger.Distribute(ctx, req.ID), ErrInvalidAmount)
}

func TestListRequests_Filters(t *testing.T) {
	env, ctx := newTestEnv(t)
	a := newTaxiRequest(t, env, ctx, "500")
	_ = createTaxiRequest(t, env, ctx, "150")

	byStatus, err := env.requests.ListRequests(ctx, repo.RequestFilter{Status: model.StatusInProgress})
	assert.NoError(t, err)
	if assert.Len(t, byStatus, 1) {
		assert.Equal(t, a.ID, byStatus[0].ID)
	}

	byAssignee, err := env.requests.ListRequests(ctx, repo.RequestFilter{AssigneeID: testAgentID})
	assert.NoError(t, err)
	assert.Len(t, byAssignee, 2)

	byCustomer, err := env.requests.ListRequests(ctx, repo.RequestFilter{CustomerID: testCustomerID})
	assert.NoError(t, err)
	assert.Len(t, byCustomer, 2)

	none, err := env.requests.ListRequests(ctx, repo.RequestFilter{ServiceType: model.ServiceRecharge})
	assert.NoError(t, err)
	assert.Empty(t, none)
}
