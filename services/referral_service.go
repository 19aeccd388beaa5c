package services

import (
	"context"
	"errors"
	"fmt"

	"cashback-referral-system/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RecordReferralInput struct {
	ReferrerID        string
	CodeID            string
	RefereeExternalID string
	RefereeEmail      string
	RefereeName       string
	OrderID           string
	OrderGID          string
	Product           models.ProductMetadata
}

type ReferralService struct {
	DB  *gorm.DB
	log *logrus.Logger
}

func NewReferralService(db *gorm.DB, log *logrus.Logger) *ReferralService {
	return &ReferralService{DB: db, log: log}
}

// FindByOrder returns nil, nil when the order has not been attributed.
func (s *ReferralService) FindByOrder(ctx context.Context, orderID string) (*models.Referral, error) {
	var referral models.Referral
	err := s.DB.WithContext(ctx).Where("order_id = ?", orderID).First(&referral).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load referral for order %s: %w", orderID, err)
	}
	return &referral, nil
}

// Record attributes an order to a referrer. Each order is recorded at most
// once; a repeat returns the existing row and false.
func (s *ReferralService) Record(ctx context.Context, in RecordReferralInput) (*models.Referral, bool, error) {
	if in.OrderID == "" || in.ReferrerID == "" {
		return nil, false, fmt.Errorf("%w: order id and referrer", ErrMissingEventFields)
	}

	existing, err := s.FindByOrder(ctx, in.OrderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	referral := models.Referral{
		ReferrerID:        in.ReferrerID,
		CodeID:            nonEmptyPtr(in.CodeID),
		RefereeExternalID: nonEmptyPtr(in.RefereeExternalID),
		RefereeEmail:      nonEmptyPtr(in.RefereeEmail),
		RefereeName:       nonEmptyPtr(in.RefereeName),
		OrderID:           in.OrderID,
		OrderGID:          nonEmptyPtr(in.OrderGID),
		Product:           in.Product,
	}
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(&referral)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert referral for order %s: %w", in.OrderID, res.Error)
	}
	if res.RowsAffected == 0 {
		// lost the race to a concurrent delivery of the same order
		existing, err := s.FindByOrder(ctx, in.OrderID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("referral for order %s vanished after conflict", in.OrderID)
		}
		return existing, false, nil
	}

	s.log.WithFields(logrus.Fields{
		"order_id":    in.OrderID,
		"referrer_id": in.ReferrerID,
	}).Info("🤝 referral recorded")
	return &referral, true, nil
}

// WithTx returns a copy of the service bound to tx.
func (s *ReferralService) WithTx(tx *gorm.DB) *ReferralService {
	c := *s
	c.DB = tx
	return &c
}
