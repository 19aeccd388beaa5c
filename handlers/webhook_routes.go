// handlers/webhook_routes.go
package handlers

import (
	"context"
	"time"

	"cashback-referral-system/middleware"
	"cashback-referral-system/services"
	"cashback-referral-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventArchiver stores raw webhook bodies for later replay.
type EventArchiver interface {
	ArchiveKey(receivedAt time.Time, orderID, deliveryID string) string
	Put(ctx context.Context, key string, body []byte) error
}

type PurchaseHandler interface {
	HandleOrderPaid(ctx context.Context, ev services.OrderPaidEvent) (*services.PurchaseOutcome, error)
}

type WebhookHandler struct {
	purchases PurchaseHandler
	archive   EventArchiver         // optional
	dedupe    utils.DeliveryDeduper // optional
	log       *logrus.Logger
	now       func() time.Time
}

func NewWebhookHandler(purchases PurchaseHandler, archive EventArchiver, dedupe utils.DeliveryDeduper, log *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{purchases: purchases, archive: archive, dedupe: dedupe, log: log, now: time.Now}
}

func SetupWebhookRoutes(app *fiber.App, h *WebhookHandler, secret string) {
	hooks := app.Group("/webhooks", middleware.ShopifyWebhookMiddleware(secret, h.log))
	hooks.Post("/orders/paid", h.OrderPaid)
}

// OrderPaid always acknowledges the delivery. Processing failures are logged
// and left to backfill; the platform must not retry into a hot loop.
func (h *WebhookHandler) OrderPaid(c *fiber.Ctx) error {
	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)
	deliveryID := c.Get(middleware.HeaderShopifyWebhookID)
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}
	ctx := c.UserContext()
	entry := h.log.WithField("delivery_id", deliveryID)

	ev, parseErr := services.ParseOrderPaidWebhook(body)
	h.store(ctx, entry, ev.OrderID, deliveryID, body)
	if parseErr != nil {
		entry.WithError(parseErr).Warn("⚠️ unreadable order webhook")
		return ack(c)
	}
	entry = entry.WithField("order_id", ev.OrderID)

	if h.dedupe != nil && c.Get(middleware.HeaderShopifyWebhookID) != "" {
		first, err := h.dedupe.FirstSeen(ctx, deliveryID)
		if err != nil {
			entry.WithError(err).Warn("⚠️ delivery dedupe unavailable, processing anyway")
		} else if !first {
			entry.Info("repeat delivery, skipping")
			return ack(c)
		}
	}

	out, err := h.purchases.HandleOrderPaid(ctx, ev)
	if err != nil {
		entry.WithError(err).Error("❌ order webhook processing failed")
		return ack(c)
	}
	entry.WithFields(logrus.Fields{
		"code":         out.Code,
		"code_created": out.CodeCreated,
		"reward_id":    out.RewardID,
		"duplicate":    out.Duplicate,
	}).Info("✅ order webhook processed")
	return ack(c)
}

func (h *WebhookHandler) store(ctx context.Context, entry *logrus.Entry, orderID, deliveryID string, body []byte) {
	if h.archive == nil {
		return
	}
	key := h.archive.ArchiveKey(h.now(), orderID, deliveryID)
	if err := h.archive.Put(ctx, key, body); err != nil {
		entry.WithError(err).Warn("⚠️ failed to archive order webhook")
	}
}

func ack(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
