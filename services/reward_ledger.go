// services/reward_ledger.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashback-referral-system/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreateRewardInput struct {
	ReferrerID string
	ReferralID string
	Currency   string
	Product    models.ProductMetadata
}

type RewardLedger struct {
	DB  *gorm.DB
	log *logrus.Logger
}

func NewRewardLedger(db *gorm.DB, log *logrus.Logger) *RewardLedger {
	return &RewardLedger{DB: db, log: log}
}

// CreatePending creates the PENDING reward for a referral. The amount is the
// cashback in force now and never changes afterwards. A referral has at most
// one reward; a repeat returns the existing one and false.
func (l *RewardLedger) CreatePending(ctx context.Context, in CreateRewardInput, settings *models.Settings) (*models.Reward, bool, error) {
	reward := models.Reward{
		ReferrerID: in.ReferrerID,
		ReferralID: in.ReferralID,
		Amount:     settings.CashbackAmount,
		Currency:   in.Currency,
		Status:     models.RewardStatusPending,
		Product:    in.Product,
	}
	res := l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referral_id"}},
			DoNothing: true,
		}).
		Create(&reward)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert reward for referral %s: %w", in.ReferralID, res.Error)
	}
	if res.RowsAffected == 0 {
		var existing models.Reward
		if err := l.DB.WithContext(ctx).Where("referral_id = ?", in.ReferralID).First(&existing).Error; err != nil {
			return nil, false, fmt.Errorf("load reward for referral %s: %w", in.ReferralID, err)
		}
		return &existing, false, nil
	}

	l.log.WithFields(logrus.Fields{
		"reward_id":   reward.ID,
		"referrer_id": in.ReferrerID,
		"amount":      reward.Amount.String(),
	}).Info("💰 pending reward created")
	return &reward, true, nil
}

func (l *RewardLedger) Get(ctx context.Context, id string) (*models.Reward, error) {
	var reward models.Reward
	err := l.DB.WithContext(ctx).Preload("Referral").First(&reward, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reward %s: %w", id, err)
	}
	return &reward, nil
}

// GetWithCode loads a reward with its referral, the code used and that code's owner.
func (l *RewardLedger) GetWithCode(ctx context.Context, id string) (*models.Reward, error) {
	var reward models.Reward
	err := l.DB.WithContext(ctx).
		Preload("Referrer").
		Preload("Referral.Code").
		First(&reward, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load reward %s: %w", id, err)
	}
	return &reward, nil
}

func (l *RewardLedger) ListByReferrer(ctx context.Context, referrerID string, status models.RewardStatus) ([]models.Reward, error) {
	q := l.DB.WithContext(ctx).Where("referrer_id = ?", referrerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rewards []models.Reward
	if err := q.Order("created_at DESC").Find(&rewards).Error; err != nil {
		return nil, err
	}
	return rewards, nil
}

// TotalPaidForOriginOrder sums PAID rewards whose referral used a code
// originating from the given order.
func (l *RewardLedger) TotalPaidForOriginOrder(ctx context.Context, orderGID string) (decimal.Decimal, error) {
	total := decimal.Zero
	err := l.DB.WithContext(ctx).
		Table("rewards").
		Select("COALESCE(SUM(rewards.amount), 0)").
		Joins("JOIN referrals ON referrals.id = rewards.referral_id").
		Joins("JOIN codes ON codes.id = referrals.code_id").
		Where("rewards.status = ? AND codes.origin_order_gid = ?", models.RewardStatusPaid, orderGID).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum paid rewards for %s: %w", orderGID, err)
	}
	return total, nil
}

// TotalPaidForReferrer sums PAID rewards owned by a referrer.
func (l *RewardLedger) TotalPaidForReferrer(ctx context.Context, referrerID string) (decimal.Decimal, error) {
	total := decimal.Zero
	err := l.DB.WithContext(ctx).
		Model(&models.Reward{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("referrer_id = ? AND status = ?", referrerID, models.RewardStatusPaid).
		Row().Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum paid rewards for referrer %s: %w", referrerID, err)
	}
	return total, nil
}

// MarkPaid moves a reward from PENDING to PAID. It returns false when the
// reward was no longer PENDING.
func (l *RewardLedger) MarkPaid(ctx context.Context, id string, paidAt time.Time, note string) (bool, error) {
	updates := map[string]any{
		"status":     models.RewardStatusPaid,
		"paid_at":    paidAt,
		"updated_at": paidAt,
	}
	if note != "" {
		updates["notes"] = note
	}
	res := l.DB.WithContext(ctx).Model(&models.Reward{}).
		Where("id = ? AND status = ?", id, models.RewardStatusPending).
		UpdateColumns(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed is the operator override for a reward that will never be paid.
func (l *RewardLedger) MarkFailed(ctx context.Context, id, note string) (*models.Reward, error) {
	res := l.DB.WithContext(ctx).Model(&models.Reward{}).
		Where("id = ? AND status = ?", id, models.RewardStatusPending).
		UpdateColumns(map[string]any{
			"status":     models.RewardStatusFailed,
			"notes":      note,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}
	l.log.WithFields(logrus.Fields{"reward_id": id, "note": note}).Warn("reward marked failed by operator")
	return l.Get(ctx, id)
}

// WithTx returns a copy of the ledger bound to tx.
func (l *RewardLedger) WithTx(tx *gorm.DB) *RewardLedger {
	c := *l
	c.DB = tx
	return &c
}
