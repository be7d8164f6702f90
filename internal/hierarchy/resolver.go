package hierarchy

import (
	"context"
	"errors"

	"github.com/servease/dispatch-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Assignment holds the resolved hierarchy for one request. Nil tiers mean
// coverage is incomplete there; the request is surfaced as "unassigned",
// which is a legitimate state, not an error.
type Assignment struct {
	ServiceAgentID  *uint64
	TalukManagerID  *uint64
	BranchManagerID *uint64
	AdminID         *uint64
}

// Resolver maps a request's geographic scope to the hierarchy members
// responsible for it.
type Resolver struct {
	log *zap.SugaredLogger
}

func NewResolver(log *zap.SugaredLogger) *Resolver {
	return &Resolver{log: log}
}

// Resolve walks the tiers top-down. Agent lookup tries an exact pincode
// match scoped to the service type first, then falls back to any agent
// covering the taluk. Managers resolve by scope containment. The admin is
// the lowest-id active administrator so ties stay deterministic.
func (r *Resolver) Resolve(ctx context.Context, tx *gorm.DB, district, taluk, pincode string, st model.ServiceType) (Assignment, error) {
	var a Assignment

	agent, err := r.findAgent(ctx, tx, district, taluk, pincode, st)
	if err != nil {
		return a, err
	}
	if agent != nil {
		a.ServiceAgentID = &agent.ID
	}

	tm, err := firstActive(ctx, tx, model.RoleTalukManager, "district = ? AND taluk = ?", district, taluk)
	if err != nil {
		return a, err
	}
	if tm != nil {
		a.TalukManagerID = &tm.ID
	}

	bm, err := firstActive(ctx, tx, model.RoleBranchManager, "district = ?", district)
	if err != nil {
		return a, err
	}
	if bm != nil {
		a.BranchManagerID = &bm.ID
	}

	admin, err := firstActive(ctx, tx, model.RoleAdmin, "1=1")
	if err != nil {
		return a, err
	}
	if admin != nil {
		a.AdminID = &admin.ID
	} else {
		r.log.Warnf("no active administrator configured; request in %s/%s stays admin-unassigned", district, taluk)
	}
	return a, nil
}

// AdminID resolves just the administrator tier, used by the ledger when a
// request reaches distribution before any admin has touched it.
func (r *Resolver) AdminID(ctx context.Context, tx *gorm.DB) (*uint64, error) {
	admin, err := firstActive(ctx, tx, model.RoleAdmin, "1=1")
	if err != nil || admin == nil {
		return nil, err
	}
	return &admin.ID, nil
}

func (r *Resolver) findAgent(ctx context.Context, tx *gorm.DB, district, taluk, pincode string, st model.ServiceType) (*model.User, error) {
	// exact pincode, restricted to the service type or unrestricted agents
	agent, err := firstActive(ctx, tx, model.RoleServiceAgent,
		"pincode = ? AND (service_type = ? OR service_type = '')", pincode, st)
	if err != nil || agent != nil {
		return agent, err
	}
	// taluk-level fallback
	return firstActive(ctx, tx, model.RoleServiceAgent,
		"district = ? AND taluk = ? AND (service_type = ? OR service_type = '')", district, taluk, st)
}

// firstActive returns the lowest-id active user of the role matching cond,
// or nil when nobody covers the scope.
func firstActive(ctx context.Context, tx *gorm.DB, role model.Role, cond string, args ...interface{}) (*model.User, error) {
	var u model.User
	err := tx.WithContext(ctx).
		Where("role = ? AND active = ?", role, true).
		Where(cond, args...).
		Order("id").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
