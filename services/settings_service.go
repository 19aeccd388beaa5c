package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingsService struct {
	DB       *gorm.DB
	log      *logrus.Logger
	validate *validator.Validate
}

func NewSettingsService(db *gorm.DB, log *logrus.Logger) *SettingsService {
	return &SettingsService{DB: db, log: log, validate: validator.New()}
}

// Get returns the current settings, creating the default row on first use.
// Callers read it once per operation and pass the value down.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	var settings models.Settings
	err := s.DB.WithContext(ctx).First(&settings, "id = ?", models.SettingsID).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	settings = models.DefaultSettings()
	if err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&settings).Error; err != nil {
		return nil, fmt.Errorf("create default settings: %w", err)
	}
	// another request may have won the insert
	if err := s.DB.WithContext(ctx).First(&settings, "id = ?", models.SettingsID).Error; err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return &settings, nil
}

// SettingsUpdate is a partial update. Percentages are 0-100.
type SettingsUpdate struct {
	DiscountPercent        *float64           `json:"discount_percent" validate:"omitempty,gte=0,lte=100"`
	CashbackAmount         *float64           `json:"cashback_amount" validate:"omitempty,gte=0"`
	CodeValidityDays       *int               `json:"code_validity_days" validate:"omitempty,gte=0"`
	AppliesOncePerCustomer *bool              `json:"applies_once_per_customer"`
	MaxUsagesPerCode       *int               `json:"max_usages_per_code" validate:"omitempty,gte=0"`
	MaxRefundPercent       *float64           `json:"max_refund_percent" validate:"omitempty,gte=0,lte=100"`
	EligibleSegmentIDs     *[]string          `json:"eligible_segment_ids"`
	CodePolicy             *models.CodePolicy `json:"code_policy" validate:"omitempty,oneof=reuse per_purchase"`
}

// ValidationError carries the field-level failures of a rejected update.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	return "invalid input: " + strings.Join(parts, ", ")
}

func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		out.Fields[fe.Field()] = fe.Tag()
		if fe.Param() != "" {
			out.Fields[fe.Field()] = fe.Tag() + "=" + fe.Param()
		}
	}
	return out
}

// Update applies a validated partial update to the settings row.
func (s *SettingsService) Update(ctx context.Context, in SettingsUpdate) (*models.Settings, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, newValidationError(err)
	}

	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	settings := *current

	hundred := decimal.NewFromInt(100)
	if in.DiscountPercent != nil {
		settings.DiscountFraction = decimal.NewFromFloat(*in.DiscountPercent).Div(hundred)
	}
	if in.CashbackAmount != nil {
		settings.CashbackAmount = decimal.NewFromFloat(*in.CashbackAmount)
	}
	if in.CodeValidityDays != nil {
		settings.CodeValidityDays = *in.CodeValidityDays
	}
	if in.AppliesOncePerCustomer != nil {
		settings.AppliesOncePerCustomer = *in.AppliesOncePerCustomer
	}
	if in.MaxUsagesPerCode != nil {
		settings.MaxUsagesPerCode = *in.MaxUsagesPerCode
	}
	if in.MaxRefundPercent != nil {
		settings.MaxRefundFraction = decimal.NewFromFloat(*in.MaxRefundPercent).Div(hundred)
	}
	if in.EligibleSegmentIDs != nil {
		settings.EligibleSegmentIDs = shopify.Segments(*in.EligibleSegmentIDs...).SegmentIDs()
		if settings.EligibleSegmentIDs == nil {
			settings.EligibleSegmentIDs = []string{}
		}
	}
	if in.CodePolicy != nil {
		settings.CodePolicy = *in.CodePolicy
	}

	if err := s.DB.WithContext(ctx).Save(&settings).Error; err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"discount_fraction":   settings.DiscountFraction.String(),
		"cashback_amount":     settings.CashbackAmount.String(),
		"max_refund_fraction": settings.MaxRefundFraction.String(),
		"code_policy":         settings.CodePolicy,
	}).Info("⚙️ referral settings updated")
	return &settings, nil
}

// AudienceFor derives the discount audience from settings: any non-blank
// segment id restricts the discount to segments.
func AudienceFor(settings *models.Settings) shopify.Audience {
	return shopify.Segments(settings.EligibleSegmentIDs...)
}
