package models

import (
	"time"

	"gorm.io/gorm"
)

type EmailKind string

const (
	EmailKindCodeIssued EmailKind = "code_issued"
	EmailKindRewardPaid EmailKind = "reward_paid"
)

type EmailStatus string

const (
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
	EmailStatusSkipped EmailStatus = "skipped"
)

// EmailLog records every notification attempt for a referrer.
type EmailLog struct {
	ID         string      `gorm:"primaryKey;type:uuid" json:"id"`
	ReferrerID string      `gorm:"type:uuid;index;not null" json:"referrer_id"`
	Kind       EmailKind   `gorm:"size:32;not null" json:"kind"`
	Recipient  string      `json:"recipient"`
	Status     EmailStatus `gorm:"size:16;not null" json:"status"`
	MessageID  *string     `json:"message_id,omitempty"`
	Error      *string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

func (l *EmailLog) BeforeCreate(tx *gorm.DB) error {
	newID(&l.ID)
	return nil
}
