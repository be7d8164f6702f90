package model

import "time"

// User is a hierarchy member. Operating scope columns are filled per role:
// service agents carry pincode (and optionally a service-type restriction),
// taluk managers carry district+taluk, branch managers carry district only.
type User struct {
	ID          uint64      `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"size:128;not null" json:"name"`
	Role        Role        `gorm:"size:32;not null;index" json:"role"`
	ServiceType ServiceType `gorm:"size:32" json:"service_type,omitempty"`
	District    string      `gorm:"size:64;index" json:"district,omitempty"`
	Taluk       string      `gorm:"size:64;index" json:"taluk,omitempty"`
	Pincode     string      `gorm:"size:10;index" json:"pincode,omitempty"`
	Active      bool        `gorm:"not null" json:"active"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string { return "app_user" }
