package models

import (
	"time"

	"gorm.io/gorm"
)

// Referral records one purchase made with some referrer's code.
// OrderID is unique: a purchase is attributed at most once.
type Referral struct {
	ID                string          `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID        string          `gorm:"type:uuid;index;not null" json:"referrer_id"` // code owner
	CodeID            *string         `gorm:"type:uuid;index" json:"code_id,omitempty"`
	RefereeExternalID *string         `gorm:"size:128" json:"referee_external_id,omitempty"`
	RefereeEmail      *string         `json:"referee_email,omitempty"`
	RefereeName       *string         `json:"referee_name,omitempty"`
	OrderID           string          `gorm:"uniqueIndex;not null;size:128" json:"order_id"`
	OrderGID          *string         `gorm:"column:order_gid;size:160" json:"order_gid,omitempty"`
	Product           ProductMetadata `gorm:"embedded;embeddedPrefix:product_" json:"product"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`

	Code *Code `gorm:"foreignKey:CodeID" json:"code,omitempty"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}
