package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/servease/dispatch-service/internal/config"
	"github.com/servease/dispatch-service/internal/hierarchy"
	"github.com/servease/dispatch-service/internal/model"
	"github.com/servease/dispatch-service/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInvalidAmount means the request carries no positive amount to split.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrConfigMissing means no rate table exists for the service type. Never
// defaulted silently; seeding is an explicit operation.
var ErrConfigMissing = errors.New("commission config missing")

// errAlreadyDistributed signals the sentinel row was found; the caller
// treats the whole distribute call as a successful no-op.
var errAlreadyDistributed = errors.New("already distributed")

var hundred = decimal.NewFromInt(100)

// LedgerService computes per-tier commission splits, appends immutable
// ledger rows and keeps the cached wallet balances in step.
type LedgerService struct {
	repo     repo.RepositoryInterface
	resolver *hierarchy.Resolver
	cfg      config.CommissionConfig
	log      *zap.SugaredLogger
}

func NewLedgerService(r repo.RepositoryInterface, res *hierarchy.Resolver, cfg config.CommissionConfig, log *zap.SugaredLogger) *LedgerService {
	return &LedgerService{repo: r, resolver: res, cfg: cfg, log: log}
}

// Distribute splits the request's amount across the hierarchy. Calling it
// again for the same request is a no-op; the admin-role ledger row is the
// sentinel that marks a request as distributed.
func (s *LedgerService) Distribute(ctx context.Context, requestID uint64) error {
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return s.distributeInTx(ctx, tx, requestID)
	})
	if errors.Is(err, errAlreadyDistributed) {
		return nil
	}
	return err
}

// ManualDistribute is the operator escape hatch for requests whose trigger
// transition never fired the ledger. Same idempotency as Distribute.
func (s *LedgerService) ManualDistribute(ctx context.Context, requestID uint64) error {
	return s.Distribute(ctx, requestID)
}

// distributeInTx runs inside the caller's transaction so a trigger
// transition and its distribution commit or roll back as one unit.
func (s *LedgerService) distributeInTx(ctx context.Context, tx *gorm.DB, requestID uint64) error {
	req, err := s.repo.GetRequest(ctx, tx, requestID)
	if err != nil {
		return err
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	configs, err := s.repo.GetCommissionConfigs(ctx, tx, req.ServiceType)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		return fmt.Errorf("%w: service type %s", ErrConfigMissing, req.ServiceType)
	}
	rates := make(map[model.Role]decimal.Decimal, len(configs))
	for _, c := range configs {
		rates[c.Role] = c.RatePercent
	}
	// the admin row is the idempotency sentinel; a rate table without it
	// cannot guarantee single-shot distribution
	if _, ok := rates[model.RoleAdmin]; !ok {
		return fmt.Errorf("%w: no admin rate for service type %s", ErrConfigMissing, req.ServiceType)
	}

	recipients, err := s.recipients(ctx, tx, req)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, role := range model.CommissionRoles {
		rate, ok := rates[role]
		if !ok {
			continue
		}
		recipient, ok := recipients[role]
		if !ok {
			// tier has no resolved member yet; skipped, not failed
			continue
		}
		amount := req.Amount.Mul(rate).Div(hundred).RoundBank(2)
		row := &model.CommissionTransaction{
			ServiceRequestID:  req.ID,
			RecipientUserID:   recipient,
			RecipientRole:     role,
			TransactionAmount: req.Amount,
			CommissionRate:    rate,
			CommissionAmount:  amount,
			Status:            model.CommissionPending,
		}
		inserted, err := s.repo.InsertCommission(ctx, tx, row)
		if err != nil {
			return err
		}
		if role == model.RoleAdmin && !inserted {
			return errAlreadyDistributed
		}
		total = total.Add(amount)
		if err := s.credit(ctx, tx, recipient, amount); err != nil {
			return err
		}
	}
	if total.GreaterThan(req.Amount) {
		return fmt.Errorf("commission split %s exceeds request amount %s", total, req.Amount)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"request_id": req.ID, "request_number": req.RequestNumber, "total": total,
	})
	evt := &model.OutboxEvent{
		Aggregate: "ServiceRequest", AggregateID: req.ID,
		EventType: model.EventCommissionDistributed, Payload: string(payload),
	}
	if err := s.repo.CreateOutboxEvent(ctx, tx, evt); err != nil {
		return err
	}
	s.log.Infof("distributed %s across %d tiers for request %s", total, len(recipients), req.RequestNumber)
	return nil
}

// recipients maps each commission role to its user id. Unresolved tiers are
// absent from the map. The admin row must always exist (it is the sentinel),
// so an unapproved request falls back to the active administrator and, when
// none is registered, to the platform account. Customer referral commission
// always goes to the platform account.
func (s *LedgerService) recipients(ctx context.Context, tx *gorm.DB, req *model.ServiceRequest) (map[model.Role]uint64, error) {
	out := make(map[model.Role]uint64, 5)
	if req.PincodeAgentID != nil {
		out[model.RoleServiceAgent] = *req.PincodeAgentID
	}
	if req.TalukManagerID != nil {
		out[model.RoleTalukManager] = *req.TalukManagerID
	}
	if req.BranchManagerID != nil {
		out[model.RoleBranchManager] = *req.BranchManagerID
	}
	switch {
	case req.AdminApprovedBy != nil:
		out[model.RoleAdmin] = *req.AdminApprovedBy
	default:
		adminID, err := s.resolver.AdminID(ctx, tx)
		if err != nil {
			return nil, err
		}
		if adminID != nil {
			out[model.RoleAdmin] = *adminID
		} else {
			out[model.RoleAdmin] = s.cfg.PlatformAccountID
		}
	}
	out[model.RoleCustomer] = s.cfg.PlatformAccountID
	return out, nil
}

// credit adds amount to the recipient's wallet inside tx, creating the row
// on first earnings. Cache refresh is best-effort.
func (s *LedgerService) credit(ctx context.Context, tx *gorm.DB, userID uint64, amount decimal.Decimal) error {
	w, err := s.repo.GetWalletForUpdate(ctx, tx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		w = &model.WalletAccount{UserID: userID, Balance: decimal.Zero}
		if err := s.repo.CreateWallet(ctx, tx, w); err != nil {
			return err
		}
	}
	newBal := w.Balance.Add(amount)
	if err := s.repo.UpdateWallet(ctx, tx, userID, newBal, w.Version); err != nil {
		return err
	}
	if err := s.repo.CacheBalance(ctx, userID, newBal); err != nil {
		s.log.Warn(err)
	}
	return nil
}

// MarkPaidResult reports the per-row outcome of a MarkAsPaid batch.
type MarkPaidResult struct {
	Succeeded []uint64          `json:"succeeded"`
	Failed    []MarkPaidFailure `json:"failed"`
}

type MarkPaidFailure struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
}

// MarkAsPaid flips the listed ledger rows pending→paid. A non-pending or
// unknown row fails individually; the batch keeps going.
func (s *LedgerService) MarkAsPaid(ctx context.Context, ids []uint64) MarkPaidResult {
	res := MarkPaidResult{Succeeded: []uint64{}, Failed: []MarkPaidFailure{}}
	for _, id := range ids {
		if err := s.repo.MarkCommissionPaid(ctx, id); err != nil {
			res.Failed = append(res.Failed, MarkPaidFailure{ID: id, Reason: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// Reconcile recomputes one user's balance from the ledger and overwrites
// the cached row. Repair tool for any drift between cache and truth.
func (s *LedgerService) Reconcile(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	total, err := s.repo.SumCommissions(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.OverwriteWalletBalance(ctx, userID, total); err != nil {
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, userID, total); err != nil {
		s.log.Warn(err)
		if err := s.repo.DropCachedBalance(ctx, userID); err != nil {
			s.log.Warn(err)
		}
	}
	return total, nil
}

// ReconcileAll reconciles every user with at least one ledger row and
// returns how many wallets were rebuilt.
func (s *LedgerService) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.repo.CommissionRecipients(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.Reconcile(ctx, id); err != nil {
			return 0, fmt.Errorf("reconcile user %d: %w", id, err)
		}
	}
	return len(ids), nil
}

// GetWalletBalance returns total earned commission, Redis first, DB on miss.
// Users with no earnings yet read as zero.
func (s *LedgerService) GetWalletBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	if err := s.repo.CacheBalance(ctx, userID, w.Balance); err != nil {
		s.log.Warn(err)
	}
	return w.Balance, nil
}

// ListRequestCommissions returns a request's ledger rows for dashboards.
func (s *LedgerService) ListRequestCommissions(ctx context.Context, requestID uint64) ([]model.CommissionTransaction, error) {
	return s.repo.ListCommissionsByRequest(ctx, requestID)
}

// ListUserCommissions returns a recipient's earnings history.
func (s *LedgerService) ListUserCommissions(ctx context.Context, userID uint64) ([]model.CommissionTransaction, error) {
	return s.repo.ListCommissionsByRecipient(ctx, userID)
}

// GetCommissionConfig returns the rate table for one service type, loudly
// failing when it has never been seeded.
func (s *LedgerService) GetCommissionConfig(ctx context.Context, st model.ServiceType) ([]model.CommissionConfig, error) {
	rows, err := s.repo.GetCommissionConfigs(ctx, nil, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: service type %s", ErrConfigMissing, st)
	}
	return rows, nil
}

// defaultAgentRates carries the per-service agent percentages; the other
// four tiers use flat rates across all service types.
var defaultAgentRates = map[model.ServiceType]string{
	model.ServiceTaxi:      "2.0",
	model.ServiceDelivery:  "2.0",
	model.ServiceRental:    "2.5",
	model.ServiceGrocery:   "2.0",
	model.ServiceRecharge:  "3.0",
	model.ServiceRecycling: "2.5",
}

// InitializeDefaultConfigs seeds the rate table once. Returns false when
// configs already exist (idempotent no-op).
func (s *LedgerService) InitializeDefaultConfigs(ctx context.Context) (bool, error) {
	var rows []model.CommissionConfig
	for st, agentRate := range defaultAgentRates {
		rows = append(rows,
			model.CommissionConfig{ServiceType: st, Role: model.RoleAdmin, RatePercent: decimal.RequireFromString("0.5")},
			model.CommissionConfig{ServiceType: st, Role: model.RoleBranchManager, RatePercent: decimal.RequireFromString("0.5")},
			model.CommissionConfig{ServiceType: st, Role: model.RoleTalukManager, RatePercent: decimal.RequireFromString("1.0")},
			model.CommissionConfig{ServiceType: st, Role: model.RoleServiceAgent, RatePercent: decimal.RequireFromString(agentRate)},
			model.CommissionConfig{ServiceType: st, Role: model.RoleCustomer, RatePercent: decimal.RequireFromString("1.0")},
		)
	}
	seeded, err := s.repo.SeedCommissionConfigs(ctx, rows)
	if err != nil {
		return false, err
	}
	if seeded {
		s.log.Infof("seeded default commission configs for %d service types", len(defaultAgentRates))
	}
	return seeded, nil
}
