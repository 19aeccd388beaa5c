package services

import (
	"context"
	"fmt"
	"strings"

	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type ProvisionRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

type ProvisionResult struct {
	Referrer        *models.Referrer `json:"referrer"`
	Code            *models.Code     `json:"code"`
	CodeCreated     bool             `json:"code_created"`
	CustomerCreated bool             `json:"customer_created"`
	DiscountID      *string          `json:"discount_id,omitempty"`
}

// ProvisioningService lets an operator enrol a referrer by email without a purchase.
type ProvisioningService struct {
	settings  *SettingsService
	referrers *ReferrerService
	codes     *CodeService
	commerce  Commerce
	notifier  *NotificationService
	log       *logrus.Logger
	validate  *validator.Validate
}

func NewProvisioningService(settings *SettingsService, referrers *ReferrerService, codes *CodeService, commerce Commerce, notifier *NotificationService, log *logrus.Logger) *ProvisioningService {
	return &ProvisioningService{
		settings:  settings,
		referrers: referrers,
		codes:     codes,
		commerce:  commerce,
		notifier:  notifier,
		log:       log,
		validate:  validator.New(),
	}
}

// Provision finds or creates the platform customer, registers them as a
// referrer, issues or refreshes their code, syncs the discount and sends
// the code by email.
func (s *ProvisioningService) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, newValidationError(err)
	}
	if s.commerce == nil {
		return nil, ErrPlatformUnavailable
	}

	result := &ProvisionResult{}
	customer, err := s.commerce.FindCustomerByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if customer == nil {
		customer, err = s.commerce.CreateCustomer(ctx, shopify.CustomerInput{
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		result.CustomerCreated = true
	}

	identity := CustomerIdentity{
		ExternalID: customer.ID,
		Email:      firstNonBlank(customer.Email, req.Email),
		FirstName:  firstNonBlank(req.FirstName, customer.FirstName),
		LastName:   firstNonBlank(req.LastName, customer.LastName),
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	referrer, err := s.referrers.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}
	code, created, err := s.codes.IssueOrRefresh(ctx, settings, IssueRequest{ReferrerID: referrer.ID})
	if err != nil {
		return nil, fmt.Errorf("issue code: %w", err)
	}
	result.Referrer, result.Code, result.CodeCreated = referrer, code, created
	result.DiscountID = s.codes.SyncDiscount(ctx, code, settings)

	if s.notifier != nil {
		s.notifier.CodeIssued(ctx, referrer, code)
	}

	s.log.WithFields(logrus.Fields{
		"referrer_id":      referrer.ID,
		"code":             code.Code,
		"customer_created": result.CustomerCreated,
	}).Info("✅ referrer provisioned")
	return result, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
