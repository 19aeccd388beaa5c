package models

import (
	"strings"

	"gorm.io/gorm"
)

// Referrer is a platform customer who has made at least one qualifying purchase
// or was provisioned by an operator.
type Referrer struct {
	ID                 string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalCustomerID string  `gorm:"uniqueIndex;not null;size:128" json:"external_customer_id"`
	Email              *string `gorm:"index" json:"email,omitempty"`
	FirstName          *string `json:"first_name,omitempty"`
	LastName           *string `json:"last_name,omitempty"`

	Codes []Code `gorm:"foreignKey:ReferrerID" json:"codes,omitempty"`

	Timestamps
}

func (r *Referrer) BeforeCreate(tx *gorm.DB) error {
	newID(&r.ID)
	return nil
}

// DisplayName is used in notification payloads: the full name when known,
// otherwise the email, otherwise the platform id.
func (r *Referrer) DisplayName() string {
	var parts []string
	for _, p := range []*string{r.FirstName, r.LastName} {
		if p != nil && strings.TrimSpace(*p) != "" {
			parts = append(parts, strings.TrimSpace(*p))
		}
	}
	switch {
	case len(parts) > 0:
		return strings.Join(parts, " ")
	case r.Email != nil && *r.Email != "":
		return *r.Email
	default:
		return r.ExternalCustomerID
	}
}
