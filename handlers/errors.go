package handlers

import (
	"errors"

	"cashback-referral-system/services"
	"cashback-referral-system/shopify"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, log *logrus.Logger, err error) error {
	var (
		verr    *services.ValidationError
		ceiling *services.CeilingExceededError
		refund  *services.RefundError
	)

	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, services.ErrRewardNotFound),
		errors.Is(err, services.ErrReferrerNotFound),
		errors.Is(err, services.ErrCodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrSettlementInProgress):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &ceiling):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":        services.ErrRefundCeilingExceeded.Error(),
			"order_gid":    ceiling.OrderGID,
			"order_total":  ceiling.OrderTotal.StringFixed(2),
			"ceiling":      ceiling.Ceiling.StringFixed(2),
			"already_paid": ceiling.AlreadyPaid.StringFixed(2),
			"requested":    ceiling.Requested.StringFixed(2),
			"remaining":    ceiling.Remaining.StringFixed(2),
		})
	case errors.Is(err, services.ErrNoOrderAvailable),
		errors.Is(err, services.ErrOrderTotalUnknown),
		errors.Is(err, services.ErrMissingEventFields):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &refund):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":    err.Error(),
			"attempts": refund.Attempts,
			"locked":   errors.Is(refund.Err, shopify.ErrOrderLocked),
		})
	case errors.Is(err, services.ErrPlatformUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	log.WithError(err).WithField("path", c.Path()).Error("❌ request failed")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
