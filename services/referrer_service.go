package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cashback-referral-system/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CustomerIdentity is the buyer as reported by the platform.
type CustomerIdentity struct {
	ExternalID string `json:"external_id" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
}

type ReferrerService struct {
	DB       *gorm.DB
	commerce Commerce
	log      *logrus.Logger
}

func NewReferrerService(db *gorm.DB, commerce Commerce, log *logrus.Logger) *ReferrerService {
	return &ReferrerService{DB: db, commerce: commerce, log: log}
}

// GetOrCreate returns the referrer for a platform customer, inserting it on
// first sight. Contact fields that changed upstream are updated; when nothing
// changed the row is left untouched.
func (s *ReferrerService) GetOrCreate(ctx context.Context, id CustomerIdentity) (*models.Referrer, error) {
	externalID := strings.TrimSpace(id.ExternalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: customer external id", ErrMissingEventFields)
	}

	referrer := models.Referrer{
		ExternalCustomerID: externalID,
		Email:              nonEmptyPtr(strings.TrimSpace(id.Email)),
		FirstName:          nonEmptyPtr(strings.TrimSpace(id.FirstName)),
		LastName:           nonEmptyPtr(strings.TrimSpace(id.LastName)),
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_customer_id"}},
			DoNothing: true,
		}).
		Create(&referrer)
	if res.Error != nil {
		return nil, fmt.Errorf("upsert referrer %s: %w", externalID, res.Error)
	}
	if res.RowsAffected == 1 {
		s.log.WithField("external_customer_id", externalID).Info("👤 referrer registered")
		return &referrer, nil
	}

	var existing models.Referrer
	if err := s.DB.WithContext(ctx).
		Where("external_customer_id = ?", externalID).
		First(&existing).Error; err != nil {
		return nil, fmt.Errorf("load referrer %s: %w", externalID, err)
	}

	changes := map[string]any{}
	diff := func(column string, current **string, incoming *string) {
		if incoming == nil {
			return
		}
		if *current == nil || **current != *incoming {
			changes[column] = *incoming
			*current = incoming
		}
	}
	diff("email", &existing.Email, referrer.Email)
	diff("first_name", &existing.FirstName, referrer.FirstName)
	diff("last_name", &existing.LastName, referrer.LastName)

	if len(changes) == 0 {
		return &existing, nil
	}
	if err := s.DB.WithContext(ctx).Model(&existing).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("update referrer %s: %w", externalID, err)
	}
	return &existing, nil
}

func (s *ReferrerService) Get(ctx context.Context, id string) (*models.Referrer, error) {
	var referrer models.Referrer
	err := s.DB.WithContext(ctx).Preload("Codes").First(&referrer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &referrer, nil
}

// Delete removes a referrer together with its codes, the referrals made with
// those codes, their rewards and the referrer's email log. Platform discounts
// are deleted afterwards on a best-effort basis.
func (s *ReferrerService) Delete(ctx context.Context, id string) error {
	var codes []models.Code
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var referrer models.Referrer
		if err := tx.First(&referrer, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrReferrerNotFound
			}
			return err
		}
		if err := tx.Where("referrer_id = ?", id).Find(&codes).Error; err != nil {
			return err
		}

		referrals := tx.Model(&models.Referral{}).Select("id").
			Where("referrer_id = ? OR code_id IN (?)", id, tx.Model(&models.Code{}).Select("id").Where("referrer_id = ?", id))

		if err := tx.Where("referrer_id = ? OR referral_id IN (?)", id, referrals).Delete(&models.Reward{}).Error; err != nil {
			return fmt.Errorf("delete rewards: %w", err)
		}
		if err := tx.Where("referrer_id = ? OR code_id IN (?)", id, tx.Model(&models.Code{}).Select("id").Where("referrer_id = ?", id)).
			Delete(&models.Referral{}).Error; err != nil {
			return fmt.Errorf("delete referrals: %w", err)
		}
		if err := tx.Where("referrer_id = ?", id).Delete(&models.EmailLog{}).Error; err != nil {
			return fmt.Errorf("delete email logs: %w", err)
		}
		if err := tx.Where("referrer_id = ?", id).Delete(&models.Code{}).Error; err != nil {
			return fmt.Errorf("delete codes: %w", err)
		}
		return tx.Delete(&referrer).Error
	})
	if err != nil {
		return err
	}

	for i := range codes {
		if s.commerce == nil || codes[i].DiscountID == nil {
			continue
		}
		if err := s.commerce.DeleteDiscount(ctx, *codes[i].DiscountID); err != nil {
			s.log.WithError(err).WithField("code", codes[i].Code).Warn("⚠️ failed to delete platform discount")
		}
	}
	s.log.WithFields(logrus.Fields{"referrer_id": id, "codes": len(codes)}).Info("🗑️ referrer deleted")
	return nil
}
