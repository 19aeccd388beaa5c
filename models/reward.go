package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardStatus is the settlement state of a reward.
type RewardStatus string

const (
	RewardStatusPending RewardStatus = "PENDING"
	RewardStatusPaid    RewardStatus = "PAID"
	RewardStatusFailed  RewardStatus = "FAILED"
)

// Reward is the cashback owed to a referrer for one referral.
type Reward struct {
	ID         string          `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string          `gorm:"type:uuid;index;not null" json:"referrer_id"`
	ReferralID string          `gorm:"type:uuid;uniqueIndex;not null" json:"referral_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Currency   string          `gorm:"size:3;not null" json:"currency"`
	Status     RewardStatus    `gorm:"size:16;not null;index;default:'PENDING'" json:"status"`
	Notes      *string         `gorm:"type:text" json:"notes,omitempty"`
	Product    ProductMetadata `gorm:"embedded;embeddedPrefix:product_" json:"product"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`

	Referral *Referral `gorm:"foreignKey:ReferralID" json:"referral,omitempty"`
	Referrer *Referrer `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`

	Timestamps
}

func (r *Reward) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}
