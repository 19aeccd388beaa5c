package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Code is a shareable discount code owned by a referrer.
type Code struct {
	ID             string          `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID     string          `gorm:"type:uuid;index;not null" json:"referrer_id"`
	Code           string          `gorm:"uniqueIndex;not null;size:16" json:"code"`
	DiscountID     *string         `gorm:"size:128" json:"discount_id,omitempty"` // platform discount
	UsageCount     int             `gorm:"not null;default:0" json:"usage_count"`
	MaxUsage       int             `gorm:"not null;default:0" json:"max_usage"` // 0 = unlimited
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
	OriginOrderID  *string         `gorm:"size:128" json:"origin_order_id,omitempty"`
	OriginOrderGID *string         `gorm:"column:origin_order_gid;index;size:160" json:"origin_order_gid,omitempty"`
	Product        ProductMetadata `gorm:"embedded;embeddedPrefix:product_" json:"product"`

	// Snapshots of the settings in force when the code was issued or last refreshed.
	DiscountFraction decimal.Decimal `gorm:"type:numeric(6,4)" json:"discount_fraction"`
	CashbackAmount   decimal.Decimal `gorm:"type:numeric(20,4)" json:"cashback_amount"`

	Referrer *Referrer `gorm:"foreignKey:ReferrerID" json:"referrer,omitempty"`

	Timestamps
}

func (c *Code) BeforeCreate(tx *gorm.DB) error {
	newID(&c.ID)
	return nil
}

// HasOrigin reports whether the code is tied to the purchase that created it.
func (c *Code) HasOrigin() bool {
	return c.OriginOrderGID != nil && *c.OriginOrderGID != ""
}

// Usable reports whether the code can still be redeemed at t.
func (c *Code) Usable(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.ExpiresAt != nil && t.After(*c.ExpiresAt) {
		return false
	}
	if c.MaxUsage > 0 && c.UsageCount >= c.MaxUsage {
		return false
	}
	return true
}
