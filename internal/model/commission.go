package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is one of the five commission-eligible tiers.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleBranchManager Role = "branch_manager"
	RoleTalukManager  Role = "taluk_manager"
	RoleServiceAgent  Role = "service_agent"
	RoleCustomer      Role = "customer"
)

// CommissionRoles is the payout order used when splitting a request's amount.
var CommissionRoles = []Role{
	RoleAdmin, RoleBranchManager, RoleTalukManager, RoleServiceAgent, RoleCustomer,
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, v := range CommissionRoles {
		if r == v {
			return true
		}
	}
	return false
}

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

// CommissionTransaction is an immutable ledger entry. The unique index on
// (service_request_id, recipient_role) is the idempotency boundary for
// distribution: the admin-role row doubles as the "already distributed"
// sentinel since every split produces one.
type CommissionTransaction struct {
	ID                uint64           `gorm:"primaryKey" json:"id"`
	ServiceRequestID  uint64           `gorm:"not null;uniqueIndex:idx_commission_request_role" json:"service_request_id"`
	RecipientUserID   uint64           `gorm:"not null;index" json:"recipient_user_id"`
	RecipientRole     Role             `gorm:"size:32;not null;uniqueIndex:idx_commission_request_role" json:"recipient_role"`
	TransactionAmount decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"transaction_amount"`
	CommissionRate    decimal.Decimal  `gorm:"type:numeric(6,3);not null" json:"commission_rate"`
	CommissionAmount  decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"commission_amount"`
	Status            CommissionStatus `gorm:"size:16;not null;default:'pending'" json:"status"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (CommissionTransaction) TableName() string { return "commission_transaction" }

// CommissionConfig is one row of the per-service-type rate table. Seeded once,
// read-only at request time.
type CommissionConfig struct {
	ID          uint64          `gorm:"primaryKey" json:"id"`
	ServiceType ServiceType     `gorm:"size:32;not null;uniqueIndex:idx_config_service_role" json:"service_type"`
	Role        Role            `gorm:"size:32;not null;uniqueIndex:idx_config_service_role" json:"role"`
	RatePercent decimal.Decimal `gorm:"type:numeric(6,3);not null" json:"rate_percent"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"-"`
}

func (CommissionConfig) TableName() string { return "commission_config" }
