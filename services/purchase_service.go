// services/purchase_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cashback-referral-system/models"
	"cashback-referral-system/shopify"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// PurchaseOutcome summarizes what one order-paid event did.
type PurchaseOutcome struct {
	OrderID      string `json:"order_id"`
	ReferrerID   string `json:"referrer_id"`
	Code         string `json:"code"`
	CodeCreated  bool   `json:"code_created"`
	UsedCode     string `json:"used_code,omitempty"`
	ReferralID   string `json:"referral_id,omitempty"`
	RewardID     string `json:"reward_id,omitempty"`
	Duplicate    bool   `json:"duplicate"`
	SelfReferral bool   `json:"self_referral"`
}

// PurchaseService turns order-paid events into referrers, codes, referrals
// and pending rewards.
type PurchaseService struct {
	DB              *gorm.DB
	settings        *SettingsService
	referrers       *ReferrerService
	codes           *CodeService
	referrals       *ReferralService
	ledger          *RewardLedger
	commerce        Commerce
	notifier        *NotificationService
	log             *logrus.Logger
	tracer          trace.Tracer
	defaultCurrency string
}

type PurchaseDeps struct {
	Settings        *SettingsService
	Referrers       *ReferrerService
	Codes           *CodeService
	Referrals       *ReferralService
	Ledger          *RewardLedger
	Commerce        Commerce
	Notifier        *NotificationService
	DefaultCurrency string
}

func NewPurchaseService(db *gorm.DB, deps PurchaseDeps, log *logrus.Logger) *PurchaseService {
	currency := deps.DefaultCurrency
	if currency == "" {
		currency = "EUR"
	}
	return &PurchaseService{
		DB:              db,
		settings:        deps.Settings,
		referrers:       deps.Referrers,
		codes:           deps.Codes,
		referrals:       deps.Referrals,
		ledger:          deps.Ledger,
		commerce:        deps.Commerce,
		notifier:        deps.Notifier,
		log:             log,
		tracer:          otel.Tracer("cashback-referral-system/purchase"),
		defaultCurrency: currency,
	}
}

// HandleOrderPaid processes one order-paid event. It is safe to call more
// than once for the same order. Errors are returned for logging only: the
// transport acknowledges the event regardless.
func (s *PurchaseService) HandleOrderPaid(ctx context.Context, ev OrderPaidEvent) (*PurchaseOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "purchase.HandleOrderPaid", trace.WithAttributes(attribute.String("order.id", ev.OrderID)))
	defer span.End()

	out, err := s.handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (s *PurchaseService) handle(ctx context.Context, ev OrderPaidEvent) (*PurchaseOutcome, error) {
	if strings.TrimSpace(ev.OrderID) == "" || strings.TrimSpace(ev.Customer.ExternalID) == "" {
		return nil, ErrMissingEventFields
	}
	if ev.OrderGID == "" {
		ev.OrderGID = shopify.OrderGID(ev.OrderID)
	}
	entry := s.log.WithField("order_id", ev.OrderID)

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	buyer, err := s.referrers.GetOrCreate(ctx, ev.Customer)
	if err != nil {
		return nil, err
	}

	product := s.resolveProduct(ctx, ev, entry)

	code, created, err := s.codes.IssueOrRefresh(ctx, settings, IssueRequest{
		ReferrerID:     buyer.ID,
		OriginOrderID:  ev.OrderID,
		OriginOrderGID: ev.OrderGID,
		Product:        product,
	})
	if err != nil {
		return nil, fmt.Errorf("issue code: %w", err)
	}
	s.codes.SyncDiscount(ctx, code, settings)
	if created && s.notifier != nil {
		s.notifier.CodeIssued(ctx, buyer, code)
	}

	out := &PurchaseOutcome{
		OrderID:     ev.OrderID,
		ReferrerID:  buyer.ID,
		Code:        code.Code,
		CodeCreated: created,
	}
	if len(ev.DiscountCodes) == 0 {
		return out, nil
	}

	used, err := s.findReferralCode(ctx, ev.DiscountCodes)
	if err != nil {
		return nil, err
	}
	if used == nil {
		entry.WithField("discount_codes", ev.DiscountCodes).Debug("no referral code among applied discounts")
		return out, nil
	}
	out.UsedCode = used.Code
	if used.ReferrerID == buyer.ID {
		out.SelfReferral = true
		entry.WithField("code", used.Code).Info("🚫 self-referral ignored")
		return out, nil
	}

	var (
		referral *models.Referral
		reward   *models.Reward
		recorded bool
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		referral, recorded, err = s.referrals.WithTx(tx).Record(ctx, RecordReferralInput{
			ReferrerID:        used.ReferrerID,
			CodeID:            used.ID,
			RefereeExternalID: buyer.ExternalCustomerID,
			RefereeEmail:      ev.Customer.Email,
			RefereeName:       strings.TrimSpace(ev.Customer.FirstName + " " + ev.Customer.LastName),
			OrderID:           ev.OrderID,
			OrderGID:          ev.OrderGID,
			Product:           product,
		})
		if err != nil || !recorded {
			return err
		}
		reward, _, err = s.ledger.WithTx(tx).CreatePending(ctx, CreateRewardInput{
			ReferrerID: used.ReferrerID,
			ReferralID: referral.ID,
			Currency:   NormalizeCurrency(ev.Currency, s.defaultCurrency),
			Product:    product,
		}, settings)
		if err != nil {
			return err
		}
		return s.codes.WithTx(tx).IncrementUsage(ctx, used.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("attribute order: %w", err)
	}

	out.ReferralID = referral.ID
	if !recorded {
		out.Duplicate = true
		entry.Info("order already attributed, skipping")
		return out, nil
	}
	out.RewardID = reward.ID
	entry.WithFields(logrus.Fields{
		"code":        used.Code,
		"referrer_id": used.ReferrerID,
		"reward_id":   reward.ID,
	}).Info("🎉 referral attributed")
	return out, nil
}

// findReferralCode returns the first applied discount that is one of our codes.
func (s *PurchaseService) findReferralCode(ctx context.Context, applied []string) (*models.Code, error) {
	for _, c := range applied {
		code, err := s.codes.FindByCode(ctx, c)
		if errors.Is(err, ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return code, nil
	}
	return nil, nil
}

// resolveProduct picks the workshop/product the order is for. Line items on
// the event are used when present, otherwise the order is fetched. Failure
// leaves the metadata empty.
func (s *PurchaseService) resolveProduct(ctx context.Context, ev OrderPaidEvent, entry *logrus.Entry) models.ProductMetadata {
	order := &shopify.Order{LineItems: ev.LineItems}
	if len(ev.LineItems) == 0 && s.commerce != nil {
		fetched, err := s.commerce.GetOrder(ctx, ev.OrderGID)
		if err != nil {
			entry.WithError(err).Warn("⚠️ product enrichment failed")
			return models.ProductMetadata{}
		}
		order = fetched
	}

	item := order.PrimaryProduct()
	if item == nil {
		return models.ProductMetadata{}
	}
	meta := models.ProductMetadata{Quantity: item.Quantity}
	meta.ExternalID = nonEmptyPtr(item.ProductID)
	if item.Title != "" {
		meta.Title = stringPtr(item.Title)
		meta.Slug = stringPtr(slug.Make(item.Title))
	}
	return meta
}
