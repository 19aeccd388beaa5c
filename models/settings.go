package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettingsID is the primary key of the single settings row.
const SettingsID uint = 1

// CodePolicy selects how repeat purchases by the same referrer are handled.
type CodePolicy string

const (
	// CodePolicyReuse keeps one code per referrer and refreshes it on every purchase.
	CodePolicyReuse CodePolicy = "reuse"
	// CodePolicyPerPurchase mints a fresh code for each origin purchase.
	CodePolicyPerPurchase CodePolicy = "per_purchase"
)

// Settings is the program-wide configuration. Exactly one row exists.
type Settings struct {
	ID                     uint            `gorm:"primaryKey" json:"-"`
	DiscountFraction       decimal.Decimal `gorm:"type:numeric(6,4);not null" json:"discount_fraction"`
	CashbackAmount         decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"cashback_amount"`
	CodeValidityDays       int             `gorm:"not null" json:"code_validity_days"`
	AppliesOncePerCustomer bool            `gorm:"not null" json:"applies_once_per_customer"`
	MaxUsagesPerCode       int             `gorm:"not null" json:"max_usages_per_code"` // 0 = unlimited
	MaxRefundFraction      decimal.Decimal `gorm:"type:numeric(6,4);not null" json:"max_refund_fraction"`
	EligibleSegmentIDs     []string        `gorm:"serializer:json;type:text" json:"eligible_segment_ids"`
	CodePolicy             CodePolicy      `gorm:"type:varchar(16);not null" json:"code_policy"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Settings) TableName() string {
	return "referral_settings"
}

// DefaultSettings is what the program starts with before an operator edits it.
func DefaultSettings() Settings {
	return Settings{
		ID:                     SettingsID,
		DiscountFraction:       decimal.RequireFromString("0.10"),
		CashbackAmount:         decimal.NewFromInt(10),
		CodeValidityDays:       90,
		AppliesOncePerCustomer: true,
		MaxUsagesPerCode:       0,
		MaxRefundFraction:      decimal.RequireFromString("0.5"),
		EligibleSegmentIDs:     []string{},
		CodePolicy:             CodePolicyReuse,
	}
}

// CodeExpiry returns the expiry for a code issued or refreshed at now.
func (s Settings) CodeExpiry(now time.Time) *time.Time {
	if s.CodeValidityDays <= 0 {
		return nil
	}
	exp := now.AddDate(0, 0, s.CodeValidityDays)
	return &exp
}
