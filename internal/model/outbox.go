package model

import "time"

// Event types written to the outbox for downstream dashboards.
const (
	EventRequestCreated        = "RequestCreated"
	EventRequestStatusChanged  = "RequestStatusChanged"
	EventCommissionDistributed = "CommissionDistributed"
)

// OutboxEvent is written in the same transaction as the state change it
// describes and published to Kafka by the poller.
type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
