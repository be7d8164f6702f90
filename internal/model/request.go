package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a ServiceRequest in its lifecycle.
type Status string

const (
	StatusNew            Status = "new"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusApproved       Status = "approved"
	StatusEscalated      Status = "escalated"
	StatusFinalApproved  Status = "final_approved"
	StatusAdminEscalated Status = "admin_escalated"
	StatusClosed         Status = "closed"
	StatusCancelled      Status = "cancelled"
)

// AllStatuses lists every valid lifecycle status.
var AllStatuses = []Status{
	StatusNew, StatusInProgress, StatusCompleted, StatusApproved,
	StatusEscalated, StatusFinalApproved, StatusAdminEscalated,
	StatusClosed, StatusCancelled,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// ServiceType identifies which line of business a request belongs to.
type ServiceType string

const (
	ServiceTaxi      ServiceType = "taxi"
	ServiceDelivery  ServiceType = "delivery"
	ServiceRental    ServiceType = "rental"
	ServiceGrocery   ServiceType = "grocery"
	ServiceRecharge  ServiceType = "recharge"
	ServiceRecycling ServiceType = "recycling"
)

// requestPrefixes drive the human-readable request number, e.g. TAX-000042.
var requestPrefixes = map[ServiceType]string{
	ServiceTaxi:      "TAX",
	ServiceDelivery:  "DLV",
	ServiceRental:    "RNT",
	ServiceGrocery:   "GRC",
	ServiceRecharge:  "RCH",
	ServiceRecycling: "RCY",
}

// Prefix returns the request-number prefix for t, or "REQ" for unknown types.
func (t ServiceType) Prefix() string {
	if p, ok := requestPrefixes[t]; ok {
		return p
	}
	return "REQ"
}

// IsValid reports whether t is a known service type.
func (t ServiceType) IsValid() bool {
	_, ok := requestPrefixes[t]
	return ok
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// ServiceRequest is one customer-initiated unit of work. Rows are never
// deleted; closed and cancelled requests stay for commission traceability.
type ServiceRequest struct {
	ID            uint64          `gorm:"primaryKey" json:"id"`
	RequestNumber string          `gorm:"size:32;index" json:"request_number"`
	CustomerID    uint64          `gorm:"not null;index" json:"customer_id"`
	ServiceType   ServiceType     `gorm:"size:32;not null;index" json:"service_type"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	PaymentStatus PaymentStatus   `gorm:"size:16;not null;default:'pending'" json:"payment_status"`
	PaymentMethod string          `gorm:"size:32" json:"payment_method"`
	ServiceData   string          `gorm:"type:jsonb" json:"service_data"`
	Status        Status          `gorm:"size:32;not null;index" json:"status"`
	StatusNote    *string         `gorm:"size:512" json:"status_note,omitempty"`

	District string `gorm:"size:64" json:"district"`
	Taluk    string `gorm:"size:64" json:"taluk"`
	Pincode  string `gorm:"size:10" json:"pincode"`

	PincodeAgentID  *uint64 `gorm:"index" json:"pincode_agent_id,omitempty"`
	TalukManagerID  *uint64 `gorm:"index" json:"taluk_manager_id,omitempty"`
	BranchManagerID *uint64 `gorm:"index" json:"branch_manager_id,omitempty"`
	AdminApprovedBy *uint64 `json:"admin_approved_by,omitempty"`

	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
}

func (ServiceRequest) TableName() string { return "service_request" }
