package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cashback-referral-system/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gorm.io/gorm"
)

// NotificationService emits referrer emails through the publisher and keeps
// an email log. Failures are logged and never surface to the caller.
type NotificationService struct {
	DB        *gorm.DB
	publisher Publisher
	log       *logrus.Logger
	printer   *message.Printer
}

func NewNotificationService(db *gorm.DB, publisher Publisher, log *logrus.Logger) *NotificationService {
	return &NotificationService{
		DB:        db,
		publisher: publisher,
		log:       log,
		printer:   message.NewPrinter(language.English),
	}
}

type notificationMessage struct {
	Kind          models.EmailKind `json:"kind"`
	ReferrerID    string           `json:"referrer_id"`
	Email         string           `json:"email"`
	Name          string           `json:"name"`
	Code          string           `json:"code,omitempty"`
	CodeExpiresAt *time.Time       `json:"code_expires_at,omitempty"`
	ProductTitle  string           `json:"product_title,omitempty"`
	Amount        string           `json:"amount,omitempty"`
	Currency      string           `json:"currency,omitempty"`
	AmountDisplay string           `json:"amount_display,omitempty"`
	TotalPaid     string           `json:"total_paid,omitempty"`
	TotalDisplay  string           `json:"total_display,omitempty"`
	SentAt        time.Time        `json:"sent_at"`
}

// CodeIssued tells a referrer which code they can share.
func (n *NotificationService) CodeIssued(ctx context.Context, referrer *models.Referrer, code *models.Code) {
	msg := notificationMessage{
		Kind:          models.EmailKindCodeIssued,
		Code:          code.Code,
		CodeExpiresAt: code.ExpiresAt,
	}
	if code.Product.Title != nil {
		msg.ProductTitle = *code.Product.Title
	}
	n.send(ctx, referrer, msg)
}

// RewardPaid tells a referrer their cashback was refunded.
func (n *NotificationService) RewardPaid(ctx context.Context, referrer *models.Referrer, reward *models.Reward, totalPaid *decimal.Decimal) {
	msg := notificationMessage{
		Kind:          models.EmailKindRewardPaid,
		Amount:        reward.Amount.StringFixed(2),
		Currency:      reward.Currency,
		AmountDisplay: n.FormatAmount(reward.Amount, reward.Currency),
	}
	if totalPaid != nil {
		msg.TotalPaid = totalPaid.StringFixed(2)
		msg.TotalDisplay = n.FormatAmount(*totalPaid, reward.Currency)
	}
	if reward.Product.Title != nil {
		msg.ProductTitle = *reward.Product.Title
	}
	n.send(ctx, referrer, msg)
}

func (n *NotificationService) send(ctx context.Context, referrer *models.Referrer, msg notificationMessage) {
	if referrer == nil {
		return
	}
	msg.ReferrerID = referrer.ID
	msg.Name = referrer.DisplayName()
	msg.SentAt = time.Now().UTC()

	entry := models.EmailLog{ReferrerID: referrer.ID, Kind: msg.Kind}
	fields := logrus.Fields{"referrer_id": referrer.ID, "kind": msg.Kind}

	switch {
	case referrer.Email == nil || *referrer.Email == "":
		entry.Status = models.EmailStatusSkipped
		entry.Error = stringPtr("referrer has no email")
	case n.publisher == nil:
		entry.Recipient = *referrer.Email
		entry.Status = models.EmailStatusSkipped
		entry.Error = stringPtr("no publisher configured")
	default:
		entry.Recipient = *referrer.Email
		msg.Email = *referrer.Email
		if id, err := n.publish(ctx, msg); err != nil {
			entry.Status = models.EmailStatusFailed
			entry.Error = stringPtr(err.Error())
			n.log.WithFields(fields).WithError(err).Warn("⚠️ failed to publish notification")
		} else {
			entry.Status = models.EmailStatusSent
			entry.MessageID = &id
			n.log.WithFields(fields).Info("📧 notification published")
		}
	}

	if err := n.DB.WithContext(ctx).Create(&entry).Error; err != nil {
		n.log.WithFields(fields).WithError(err).Warn("⚠️ failed to write email log")
	}
}

func (n *NotificationService) publish(ctx context.Context, msg notificationMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	return n.publisher.Publish(ctx, data, map[string]string{
		"kind":        string(msg.Kind),
		"referrer_id": msg.ReferrerID,
	})
}

// FormatAmount renders an amount with its currency symbol, e.g. "€ 12.50".
func (n *NotificationService) FormatAmount(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.StringFixed(2) + " " + code
	}
	return n.printer.Sprint(currency.Symbol(unit.Amount(amount.InexactFloat64())))
}

// NormalizeCurrency returns code if it is a valid ISO 4217 currency, else fallback.
func NormalizeCurrency(code, fallback string) string {
	if unit, err := currency.ParseISO(code); err == nil {
		return unit.String()
	}
	return fallback
}
