package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/servease/dispatch-service/internal/config"
	"github.com/servease/dispatch-service/internal/hierarchy"
	"github.com/servease/dispatch-service/internal/model"
	"github.com/servease/dispatch-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidTransition means the actor may not move the request from its
// current status to the requested one. Never retried.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrInvalidServiceType rejects intake for an unknown line of business.
var ErrInvalidServiceType = errors.New("invalid service type")

// RequestService owns the ServiceRequest state machine. Every mutation goes
// through Transition; a trigger transition runs the commission ledger in the
// same database transaction.
type RequestService struct {
	repo     repo.RepositoryInterface
	ledger   *LedgerService
	resolver *hierarchy.Resolver
	cfg      config.CommissionConfig
	log      *zap.SugaredLogger
}

func NewRequestService(r repo.RepositoryInterface, ledger *LedgerService, res *hierarchy.Resolver, cfg config.CommissionConfig, log *zap.SugaredLogger) *RequestService {
	return &RequestService{repo: r, ledger: ledger, resolver: res, cfg: cfg, log: log}
}

// CreateRequestInput is the intake contract.
type CreateRequestInput struct {
	CustomerID    uint64
	ServiceType   model.ServiceType
	Amount        decimal.Decimal
	PaymentMethod string
	ServiceData   string
	District      string
	Taluk         string
	Pincode       string
}

// CreateRequest opens a request in status new and stamps the hierarchy
// assignment for its geographic scope.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*model.ServiceRequest, error) {
	if !in.ServiceType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidServiceType, in.ServiceType)
	}
	if in.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	req := &model.ServiceRequest{
		CustomerID:    in.CustomerID,
		ServiceType:   in.ServiceType,
		Amount:        in.Amount,
		PaymentStatus: model.PaymentPending,
		PaymentMethod: in.PaymentMethod,
		ServiceData:   in.ServiceData,
		Status:        model.StatusNew,
		District:      in.District,
		Taluk:         in.Taluk,
		Pincode:       in.Pincode,
	}
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateRequest(ctx, tx, req); err != nil {
			return err
		}
		if err := s.resolveAssignment(ctx, tx, req); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"request_id": req.ID, "request_number": req.RequestNumber,
			"service_type": req.ServiceType, "amount": req.Amount,
		})
		return s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "ServiceRequest", AggregateID: req.ID,
			EventType: model.EventRequestCreated, Payload: string(payload),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("request %s created for customer %d", req.RequestNumber, req.CustomerID)
	return req, nil
}

// TransitionInput carries one status-change attempt. ExpectedStatus is the
// status the caller last read; a mismatch yields Conflict so the caller can
// re-read and retry.
type TransitionInput struct {
	RequestID      uint64
	ActingUserID   uint64
	ActingRole     model.Role
	ExpectedStatus model.Status
	TargetStatus   model.Status
	Notes          string
}

// Transition validates the change against the transition table, applies it
// under a compare-and-swap on the expected status, stamps timestamps and,
// when the target is the commission trigger for the request's service type,
// runs distribution inside the same transaction.
func (s *RequestService) Transition(ctx context.Context, in TransitionInput) (*model.ServiceRequest, error) {
	if !in.ActingRole.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidTransition, in.ActingRole)
	}
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := s.repo.GetRequest(ctx, tx, in.RequestID)
		if err != nil {
			return err
		}
		if !CanTransition(in.ActingRole, req.Status, in.TargetStatus) {
			return fmt.Errorf("%w: %s may not move %s from %s to %s",
				ErrInvalidTransition, in.ActingRole, req.RequestNumber, req.Status, in.TargetStatus)
		}
		if req.Status != in.ExpectedStatus {
			return repo.ErrConflict
		}

		now := time.Now()
		updates := map[string]interface{}{"status": in.TargetStatus}
		if in.Notes != "" {
			updates["status_note"] = in.Notes
		}
		if in.TargetStatus == model.StatusCompleted && req.CompletedAt == nil {
			updates["completed_at"] = now
		}
		if in.TargetStatus == model.StatusFinalApproved && req.ApprovedAt == nil {
			updates["approved_at"] = now
		}
		if in.ActingRole == model.RoleAdmin && req.AdminApprovedBy == nil &&
			(in.TargetStatus == model.StatusFinalApproved || in.TargetStatus == model.StatusClosed) {
			updates["admin_approved_by"] = in.ActingUserID
		}
		if err := s.repo.UpdateRequestStatus(ctx, tx, req.ID, in.ExpectedStatus, updates); err != nil {
			return err
		}

		// late assignment for requests created before coverage existed
		if in.TargetStatus == model.StatusInProgress {
			if err := s.resolveAssignment(ctx, tx, req); err != nil {
				return err
			}
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"request_id": req.ID, "request_number": req.RequestNumber,
			"from": req.Status, "to": in.TargetStatus,
			"actor_role": in.ActingRole, "actor_id": in.ActingUserID,
		})
		if err := s.repo.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: "ServiceRequest", AggregateID: req.ID,
			EventType: model.EventRequestStatusChanged, Payload: string(payload),
		}); err != nil {
			return err
		}

		// unmonetized requests (zero amount) have nothing to split and must
		// still be able to reach the trigger status
		if in.TargetStatus == s.triggerFor(req.ServiceType) && req.Amount.IsPositive() {
			if err := s.ledger.distributeInTx(ctx, tx, req.ID); err != nil && !errors.Is(err, errAlreadyDistributed) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetRequest(ctx, nil, in.RequestID)
}

// GetRequest is a plain read for dashboards.
func (s *RequestService) GetRequest(ctx context.Context, id uint64) (*model.ServiceRequest, error) {
	return s.repo.GetRequest(ctx, nil, id)
}

// ListRequests applies dashboard filters.
func (s *RequestService) ListRequests(ctx context.Context, f repo.RequestFilter) ([]model.ServiceRequest, error) {
	return s.repo.ListRequests(ctx, f)
}

// triggerFor returns the commission-trigger status for a service type.
func (s *RequestService) triggerFor(st model.ServiceType) model.Status {
	if ov, ok := s.cfg.TriggerOverrides[string(st)]; ok {
		return model.Status(ov)
	}
	return model.Status(s.cfg.TriggerStatus)
}

// resolveAssignment fills any still-null hierarchy columns from the
// resolver. Already-resolved tiers are never reassigned.
func (s *RequestService) resolveAssignment(ctx context.Context, tx *gorm.DB, req *model.ServiceRequest) error {
	if req.PincodeAgentID != nil && req.TalukManagerID != nil && req.BranchManagerID != nil {
		return nil
	}
	a, err := s.resolver.Resolve(ctx, tx, req.District, req.Taluk, req.Pincode, req.ServiceType)
	if err != nil {
		return err
	}
	updates := map[string]interface{}{}
	if req.PincodeAgentID == nil && a.ServiceAgentID != nil {
		updates["pincode_agent_id"] = *a.ServiceAgentID
		req.PincodeAgentID = a.ServiceAgentID
	}
	if req.TalukManagerID == nil && a.TalukManagerID != nil {
		updates["taluk_manager_id"] = *a.TalukManagerID
		req.TalukManagerID = a.TalukManagerID
	}
	if req.BranchManagerID == nil && a.BranchManagerID != nil {
		updates["branch_manager_id"] = *a.BranchManagerID
		req.BranchManagerID = a.BranchManagerID
	}
	return s.repo.UpdateAssignment(ctx, tx, req.ID, updates)
}
