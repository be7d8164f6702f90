package service

import "github.com/servease/dispatch-service/internal/model"

// transitionRules is the single source of truth for who may move a request
// where. Administrators are handled separately: they may move any
// non-terminal request to any valid status (override), which a static table
// cannot express.
var transitionRules = map[model.Role]map[model.Status][]model.Status{
	model.RoleServiceAgent: {
		model.StatusNew:        {model.StatusInProgress},
		model.StatusInProgress: {model.StatusCompleted},
	},
	model.RoleTalukManager: {
		model.StatusCompleted: {model.StatusApproved, model.StatusEscalated},
	},
	model.RoleBranchManager: {
		model.StatusEscalated: {model.StatusFinalApproved, model.StatusAdminEscalated},
		model.StatusApproved:  {model.StatusFinalApproved, model.StatusAdminEscalated},
	},
	model.RoleCustomer: {
		model.StatusNew:        {model.StatusCancelled},
		model.StatusInProgress: {model.StatusCancelled},
	},
}

// CanTransition reports whether actor may move a request from current to
// target. Terminal states permit nothing, for administrators included.
func CanTransition(actor model.Role, current, target model.Status) bool {
	if current.IsTerminal() || !target.IsValid() {
		return false
	}
	if actor == model.RoleAdmin {
		return target != current
	}
	for _, allowed := range transitionRules[actor][current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// AllowedTargets returns the statuses actor may reach from current. Exposed
// so dashboards render action buttons from the same table the validator uses.
func AllowedTargets(actor model.Role, current model.Status) []model.Status {
	if current.IsTerminal() {
		return nil
	}
	if actor == model.RoleAdmin {
		out := make([]model.Status, 0, len(model.AllStatuses)-1)
		for _, s := range model.AllStatuses {
			if s != current {
				out = append(out, s)
			}
		}
		return out
	}
	return transitionRules[actor][current]
}
