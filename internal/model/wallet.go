package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletAccount caches a user's total earned commission. The commission
// transaction log is the source of truth; this row is a materialized view
// that Reconcile can rebuild at any time.
type WalletAccount struct {
	UserID       uint64          `gorm:"primaryKey;column:user_id" json:"user_id"`
	Balance      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:'0'" json:"balance"`
	Version      uint64          `gorm:"not null;default:0" json:"-"`
	LastSyncedAt time.Time       `json:"last_synced_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletAccount) TableName() string { return "wallet_account" }
