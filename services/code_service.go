// services/code_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	codeLetters        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxCodeGenAttempts = 5
)

// GenerateCode returns a candidate code of the form XXX-9999.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(8)
	for i := 0; i < 3; i++ {
		b.WriteByte(codeLetters[rand.Intn(len(codeLetters))])
	}
	fmt.Fprintf(&b, "-%04d", rand.Intn(10000))
	return b.String()
}

// NormalizeCode upper-cases and trims a code typed by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CodeService struct {
	DB       *gorm.DB
	commerce Commerce
	log      *logrus.Logger
	now      Clock
	generate func() string
}

func NewCodeService(db *gorm.DB, commerce Commerce, log *logrus.Logger) *CodeService {
	return &CodeService{
		DB:       db,
		commerce: commerce,
		log:      log,
		now:      time.Now,
		generate: GenerateCode,
	}
}

// IssueRequest describes the purchase (or operator action) a code is issued for.
type IssueRequest struct {
	ReferrerID     string
	OriginOrderID  string
	OriginOrderGID string
	Product        models.ProductMetadata
	// OverrideOrigin replaces an existing origin instead of keeping the first one.
	OverrideOrigin bool
}

// IssueOrRefresh returns the referrer's code, creating one if needed. Under
// the reuse policy an existing code is refreshed with the current settings
// (expiry, max usage, snapshots). Under the per-purchase policy a new code
// is minted for each origin order. The bool is true when a code was created.
func (s *CodeService) IssueOrRefresh(ctx context.Context, settings *models.Settings, req IssueRequest) (*models.Code, bool, error) {
	if settings.CodePolicy == models.CodePolicyPerPurchase && req.OriginOrderGID != "" {
		existing, err := s.findByOrigin(ctx, req.ReferrerID, req.OriginOrderGID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
		code, err := s.mint(ctx, settings, req)
		return code, err == nil, err
	}

	var existing models.Code
	err := s.DB.WithContext(ctx).
		Where("referrer_id = ?", req.ReferrerID).
		Order("created_at DESC").
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		code, err := s.mint(ctx, settings, req)
		return code, err == nil, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("load code for referrer %s: %w", req.ReferrerID, err)
	}

	code, err := s.refresh(ctx, &existing, settings, req)
	return code, false, err
}

func (s *CodeService) findByOrigin(ctx context.Context, referrerID, originGID string) (*models.Code, error) {
	var code models.Code
	err := s.DB.WithContext(ctx).
		Where("referrer_id = ? AND origin_order_gid = ?", referrerID, originGID).
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load code by origin: %w", err)
	}
	return &code, nil
}

func (s *CodeService) mint(ctx context.Context, settings *models.Settings, req IssueRequest) (*models.Code, error) {
	now := s.now()
	for attempt := 1; attempt <= maxCodeGenAttempts; attempt++ {
		code := models.Code{
			ReferrerID:       req.ReferrerID,
			Code:             s.generate(),
			IsActive:         true,
			MaxUsage:         settings.MaxUsagesPerCode,
			ExpiresAt:        settings.CodeExpiry(now),
			Product:          req.Product,
			DiscountFraction: settings.DiscountFraction,
			CashbackAmount:   settings.CashbackAmount,
		}
		if req.OriginOrderGID != "" {
			code.OriginOrderGID = stringPtr(req.OriginOrderGID)
			code.OriginOrderID = nonEmptyPtr(req.OriginOrderID)
		}

		err := s.DB.WithContext(ctx).Create(&code).Error
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"referrer_id": req.ReferrerID,
				"code":        code.Code,
				"attempt":     attempt,
			}).Info("🎟️ referral code issued")
			return &code, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("insert code: %w", err)
		}
		s.log.WithFields(logrus.Fields{"code": code.Code, "attempt": attempt}).Debug("code collision, retrying")
	}
	return nil, ErrCodeGenerationExhausted
}

func (s *CodeService) refresh(ctx context.Context, code *models.Code, settings *models.Settings, req IssueRequest) (*models.Code, error) {
	prevExpiry, prevMax := code.ExpiresAt, code.MaxUsage

	code.ExpiresAt = settings.CodeExpiry(s.now())
	code.MaxUsage = settings.MaxUsagesPerCode
	code.DiscountFraction = settings.DiscountFraction
	code.CashbackAmount = settings.CashbackAmount

	// origin and product travel together: an established origin keeps its product
	if !code.HasOrigin() || req.OverrideOrigin {
		if req.OriginOrderGID != "" {
			code.OriginOrderGID = stringPtr(req.OriginOrderGID)
			code.OriginOrderID = nonEmptyPtr(req.OriginOrderID)
		}
		if !req.Product.IsZero() {
			code.Product = req.Product
		}
	}

	if err := s.DB.WithContext(ctx).Save(code).Error; err != nil {
		return nil, fmt.Errorf("refresh code %s: %w", code.Code, err)
	}

	s.log.WithFields(logrus.Fields{
		"code":          code.Code,
		"old_expiry":    prevExpiry,
		"new_expiry":    code.ExpiresAt,
		"old_max_usage": prevMax,
		"new_max_usage": code.MaxUsage,
	}).Info("🔁 referral code refreshed")
	return code, nil
}

// SyncDiscount creates or updates the platform discount backing code. It
// never fails the caller: on error it logs and returns nil. A newly created
// discount id is stored on the code.
func (s *CodeService) SyncDiscount(ctx context.Context, code *models.Code, settings *models.Settings) *string {
	if s.commerce == nil {
		return code.DiscountID
	}

	spec := shopify.DiscountSpec{
		Title:                  "Referral " + code.Code,
		Code:                   code.Code,
		Percentage:             settings.DiscountFraction,
		StartsAt:               s.now(),
		EndsAt:                 code.ExpiresAt,
		AppliesOncePerCustomer: settings.AppliesOncePerCustomer,
		Audience:               AudienceFor(settings),
	}
	if settings.MaxUsagesPerCode > 0 {
		limit := settings.MaxUsagesPerCode
		spec.UsageLimit = &limit
	}

	entry := s.log.WithFields(logrus.Fields{"code": code.Code, "referrer_id": code.ReferrerID})

	if code.DiscountID != nil && *code.DiscountID != "" {
		if err := s.commerce.UpdateDiscount(ctx, *code.DiscountID, spec); err != nil {
			entry.WithError(err).Warn("⚠️ failed to update platform discount")
			return nil
		}
		return code.DiscountID
	}

	id, err := s.commerce.CreateDiscount(ctx, spec)
	if err != nil {
		entry.WithError(err).Warn("⚠️ failed to create platform discount")
		return nil
	}
	if err := s.DB.WithContext(ctx).Model(&models.Code{}).
		Where("id = ?", code.ID).
		UpdateColumn("discount_id", id).Error; err != nil {
		entry.WithError(err).Warn("⚠️ discount created but id not stored")
	}
	code.DiscountID = &id
	return &id
}

// FindByCode looks up a code by its customer-facing value.
func (s *CodeService) FindByCode(ctx context.Context, value string) (*models.Code, error) {
	var code models.Code
	err := s.DB.WithContext(ctx).Where("code = ?", NormalizeCode(value)).First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	return &code, nil
}

// IncrementUsage bumps the usage counter atomically.
func (s *CodeService) IncrementUsage(ctx context.Context, codeID string) error {
	return s.DB.WithContext(ctx).Model(&models.Code{}).
		Where("id = ?", codeID).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error
}

// Deactivate disables a code locally and removes its platform discount.
func (s *CodeService) Deactivate(ctx context.Context, codeID string) (*models.Code, error) {
	var code models.Code
	if err := s.DB.WithContext(ctx).First(&code, "id = ?", codeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(&code).UpdateColumn("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("deactivate code: %w", err)
	}
	code.IsActive = false
	s.deleteDiscount(ctx, &code)
	return &code, nil
}

func (s *CodeService) deleteDiscount(ctx context.Context, code *models.Code) {
	if s.commerce == nil || code.DiscountID == nil || *code.DiscountID == "" {
		return
	}
	if err := s.commerce.DeleteDiscount(ctx, *code.DiscountID); err != nil {
		s.log.WithError(err).WithField("code", code.Code).Warn("⚠️ failed to delete platform discount")
	}
}

func stringPtr(s string) *string {
	return &s
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// WithTx returns a copy of the service bound to tx.
func (s *CodeService) WithTx(tx *gorm.DB) *CodeService {
	c := *s
	c.DB = tx
	return &c
}
