package models

import (
	"time"

	"github.com/google/uuid"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// ProductMetadata is the workshop/product a purchase or code is attributed to.
// Purely informational; never drives reward amounts.
type ProductMetadata struct {
	ExternalID *string `json:"id,omitempty" gorm:"column:external_id;size:128"`
	Title      *string `json:"title,omitempty" gorm:"column:title"`
	Slug       *string `json:"slug,omitempty" gorm:"column:slug;size:160"`
	Quantity   int     `json:"quantity" gorm:"column:quantity;default:0"`
}

// IsZero reports whether no product was attributed.
func (p ProductMetadata) IsZero() bool {
	return p.ExternalID == nil && p.Title == nil
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}
