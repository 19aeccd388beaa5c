// services/settlement_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	refundMaxAttempts = 3
	settleLockPrefix  = "referral:settle:"
	orderLockPrefix   = "referral:settle-order:"
)

// SettlementResult is returned when a reward has been refunded and marked PAID.
type SettlementResult struct {
	RewardID       string              `json:"reward_id"`
	Status         models.RewardStatus `json:"status"`
	OrderGID       string              `json:"order_gid"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	RefundID       string              `json:"refund_id"`
	Attempts       int                 `json:"attempts"`
	UsedFallback   bool                `json:"used_fallback"`
	OrderTotal     *decimal.Decimal    `json:"order_total,omitempty"`
	Ceiling        *decimal.Decimal    `json:"ceiling,omitempty"`
	Remaining      *decimal.Decimal    `json:"remaining,omitempty"`
	// OrderTotalPaid is everything refunded against the order, this refund included.
	OrderTotalPaid decimal.Decimal     `json:"order_total_paid"`
	TotalPaid      *decimal.Decimal    `json:"referrer_total_paid,omitempty"` // nil when it could not be read
	PaidAt         time.Time           `json:"paid_at"`
}

// SettlementService pays a PENDING reward by refunding part of the referrer's
// origin order, bounded by the refund ceiling.
type SettlementService struct {
	settings *SettingsService
	ledger   *RewardLedger
	commerce Commerce
	notifier *NotificationService
	locker   Locker
	log      *logrus.Logger
	tracer   trace.Tracer
	now      Clock
	backoff  func(attempt int) time.Duration

	// RequireKnownOrderTotal refuses to settle when the order total cannot be read.
	RequireKnownOrderTotal bool
	LockTTL                time.Duration
}

func NewSettlementService(settings *SettingsService, ledger *RewardLedger, commerce Commerce, notifier *NotificationService, locker Locker, log *logrus.Logger) *SettlementService {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &SettlementService{
		settings: settings,
		ledger:   ledger,
		commerce: commerce,
		notifier: notifier,
		locker:   locker,
		log:      log,
		tracer:   otel.Tracer("cashback-referral-system/settlement"),
		now:      time.Now,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
		LockTTL: 2 * time.Minute,
	}
}

// Settle refunds the reward amount against the origin order (or orderOverride
// when given) and marks the reward PAID. Any failure before the refund leaves
// the reward PENDING.
func (s *SettlementService) Settle(ctx context.Context, rewardID, orderOverride string) (*SettlementResult, error) {
	ctx, span := s.tracer.Start(ctx, "settlement.Settle", trace.WithAttributes(attribute.String("reward.id", rewardID)))
	defer span.End()

	res, err := s.settle(ctx, rewardID, orderOverride)
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

func (s *SettlementService) settle(ctx context.Context, rewardID, orderOverride string) (*SettlementResult, error) {
	if s.commerce == nil {
		return nil, ErrPlatformUnavailable
	}

	release, err := s.locker.Obtain(ctx, settleLockPrefix+rewardID, s.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	entry := s.log.WithField("reward_id", rewardID)

	reward, err := s.ledger.GetWithCode(ctx, rewardID)
	if err != nil {
		return nil, err
	}
	if reward.Status != models.RewardStatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvalidState, reward.Status)
	}

	var code *models.Code
	if reward.Referral != nil {
		code = reward.Referral.Code
	}

	orderGID := shopify.OrderGID(orderOverride)
	if orderGID == "" && code != nil && code.HasOrigin() {
		orderGID = *code.OriginOrderGID
	}
	if orderGID == "" {
		return nil, ErrNoOrderAvailable
	}
	entry = entry.WithField("order_gid", orderGID)

	// the ceiling is per order: rewards on the same order settle one at a time
	releaseOrder, err := s.locker.Obtain(ctx, orderLockPrefix+orderGID, s.LockTTL)
	if err != nil {
		return nil, err
	}
	defer releaseOrder()

	if orderOverride != "" && code != nil && !code.HasOrigin() {
		s.backfillOrigin(ctx, code, orderGID, entry)
	}

	var (
		settings    *models.Settings
		order       *shopify.Order
		alreadyPaid decimal.Decimal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		settings, err = s.settings.Get(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		alreadyPaid, err = s.ledger.TotalPaidForOriginOrder(gctx, orderGID)
		return err
	})
	g.Go(func() error {
		o, err := s.commerce.GetOrder(gctx, orderGID)
		if err != nil {
			entry.WithError(err).Warn("⚠️ could not fetch order, total unknown")
			return nil
		}
		order = o
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SettlementResult{
		RewardID: reward.ID,
		OrderGID: orderGID,
		Amount:   reward.Amount,
		Currency: reward.Currency,
	}

	if order != nil && order.Total != nil {
		total := *order.Total
		ceiling := total.Mul(settings.MaxRefundFraction)
		remaining := ceiling.Sub(alreadyPaid)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		if alreadyPaid.Add(reward.Amount).GreaterThan(ceiling) {
			return nil, &CeilingExceededError{
				OrderGID:    orderGID,
				OrderTotal:  total,
				Ceiling:     ceiling,
				AlreadyPaid: alreadyPaid,
				Requested:   reward.Amount,
				Remaining:   remaining,
			}
		}
		left := remaining.Sub(reward.Amount)
		result.OrderTotal, result.Ceiling, result.Remaining = &total, &ceiling, &left
	} else if s.RequireKnownOrderTotal {
		return nil, ErrOrderTotalUnknown
	} else {
		entry.Warn("⚠️ order total unknown, refund ceiling not enforced")
	}

	req := shopify.RefundRequest{
		OrderGID: orderGID,
		Amount:   reward.Amount,
		Currency: reward.Currency,
		Note:     fmt.Sprintf("Referral cashback (reward %s)", reward.ID),
	}
	if tx := order.RefundableTransaction(); tx != nil {
		req.ParentTransactionID = tx.ID
		req.Gateway = tx.Gateway
	} else {
		req.Gateway = shopify.FallbackGateway
		result.UsedFallback = true
		entry.Warn("⚠️ no refundable transaction on order, refunding via fallback gateway")
	}

	refund, attempts, err := s.refundWithRetry(ctx, req, entry)
	result.Attempts = attempts
	if err != nil {
		return nil, &RefundError{OrderGID: orderGID, Attempts: attempts, Err: err}
	}
	result.RefundID = refund.ID
	result.OrderTotalPaid = alreadyPaid.Add(reward.Amount)

	// the money has moved: record it even if the caller has gone away
	writeCtx := context.WithoutCancel(ctx)
	paidAt := s.now()
	note := "refund " + refund.ID
	if result.UsedFallback {
		note += " via " + shopify.FallbackGateway + " gateway"
	}
	marked, err := s.ledger.MarkPaid(writeCtx, reward.ID, paidAt, note)
	if err != nil {
		entry.WithError(err).WithField("refund_id", refund.ID).Error("❌ refund issued but reward could not be marked PAID")
		return nil, fmt.Errorf("mark reward paid: %w", err)
	}
	if !marked {
		entry.WithField("refund_id", refund.ID).Error("❌ refund issued but reward was no longer PENDING")
		return nil, fmt.Errorf("%w: changed during settlement", ErrInvalidState)
	}
	result.Status = models.RewardStatusPaid
	result.PaidAt = paidAt
	reward.Status, reward.PaidAt = models.RewardStatusPaid, &paidAt

	if totalPaid, err := s.ledger.TotalPaidForReferrer(writeCtx, reward.ReferrerID); err != nil {
		entry.WithError(err).Warn("⚠️ could not compute referrer total")
	} else {
		result.TotalPaid = &totalPaid
	}
	if s.notifier != nil {
		s.notifier.RewardPaid(writeCtx, reward.Referrer, reward, result.TotalPaid)
	}

	entry.WithFields(logrus.Fields{
		"refund_id": refund.ID,
		"amount":    reward.Amount.String(),
		"attempts":  attempts,
		"fallback":  result.UsedFallback,
	}).Info("✅ reward settled")
	return result, nil
}

// refundWithRetry retries only while the platform reports the order as locked.
func (s *SettlementService) refundWithRetry(ctx context.Context, req shopify.RefundRequest, entry *logrus.Entry) (*shopify.Refund, int, error) {
	var lastErr error
	for attempt := 1; attempt <= refundMaxAttempts; attempt++ {
		refund, err := s.commerce.CreateRefund(ctx, req)
		if err == nil {
			return refund, attempt, nil
		}
		lastErr = err
		if !errors.Is(err, shopify.ErrOrderLocked) || attempt == refundMaxAttempts {
			return nil, attempt, err
		}

		delay := s.backoff(attempt)
		entry.WithFields(logrus.Fields{"attempt": attempt, "retry_in": delay.String()}).Warn("🔒 order locked, retrying refund")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, attempt, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, refundMaxAttempts, lastErr
}

// backfillOrigin stores an operator-supplied order on a code that had none,
// so later settlements share the same ceiling.
func (s *SettlementService) backfillOrigin(ctx context.Context, code *models.Code, orderGID string, entry *logrus.Entry) {
	err := s.ledger.DB.WithContext(ctx).Model(&models.Code{}).
		Where("id = ? AND (origin_order_gid IS NULL OR origin_order_gid = '')", code.ID).
		UpdateColumn("origin_order_gid", orderGID).Error
	if err != nil {
		entry.WithError(err).Warn("⚠️ failed to backfill code origin")
		return
	}
	code.OriginOrderGID = &orderGID
}
