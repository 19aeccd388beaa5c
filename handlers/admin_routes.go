// handlers/admin_routes.go
package handlers

import (
	"context"
	"strings"
	"time"

	"cashback-referral-system/middleware"
	"cashback-referral-system/models"
	"cashback-referral-system/services"
	"cashback-referral-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Backfiller replays archived purchase events.
type Backfiller interface {
	Run(ctx context.Context, from, to time.Time) (*workers.BackfillReport, error)
}

type AdminHandler struct {
	Settlement   *services.SettlementService
	Ledger       *services.RewardLedger
	Settings     *services.SettingsService
	Referrers    *services.ReferrerService
	Codes        *services.CodeService
	Provisioning *services.ProvisioningService
	Backfill     Backfiller // nil when no archive is configured
	Log          *logrus.Logger
}

func SetupAdminRoutes(app *fiber.App, h *AdminHandler, adminToken string) {
	admin := app.Group("/admin",
		middleware.AdminAuthMiddleware(adminToken, h.Log),
		middleware.OperatorContextMiddleware(h.Log),
	)

	// Rewards
	admin.Get("/rewards/:id", h.GetReward)
	admin.Post("/rewards/:id/settle", h.SettleReward)
	admin.Post("/rewards/:id/fail", h.FailReward)

	// Referrers
	admin.Post("/referrers", h.ProvisionReferrer)
	admin.Get("/referrers/:id", h.GetReferrer)
	admin.Get("/referrers/:id/rewards", h.ListReferrerRewards)
	admin.Delete("/referrers/:id", h.DeleteReferrer)

	// Codes
	admin.Post("/codes/:id/deactivate", h.DeactivateCode)

	// Settings
	admin.Get("/settings", h.GetSettings)
	admin.Put("/settings", h.UpdateSettings)

	admin.Post("/backfill", h.RunBackfill)
}

func SetupHealthRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func (h *AdminHandler) GetReward(c *fiber.Ctx) error {
	reward, err := h.Ledger.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(reward)
}

type settleRequest struct {
	OrderID string `json:"order_id"`
}

// SettleReward pays a reward. order_id overrides the code's origin order.
func (h *AdminHandler) SettleReward(c *fiber.Ctx) error {
	var req settleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	h.Log.WithFields(logrus.Fields{
		"reward_id":   c.Params("id"),
		"operator_id": middleware.OperatorID(c),
		"override":    req.OrderID,
	}).Info("💸 settlement requested")

	result, err := h.Settlement.Settle(c.UserContext(), c.Params("id"), strings.TrimSpace(req.OrderID))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(result)
}

type failRequest struct {
	Note string `json:"note"`
}

func (h *AdminHandler) FailReward(c *fiber.Ctx) error {
	var req failRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "marked failed by " + middleware.OperatorID(c)
	}

	reward, err := h.Ledger.MarkFailed(c.UserContext(), c.Params("id"), note)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(reward)
}

func (h *AdminHandler) ProvisionReferrer(c *fiber.Ctx) error {
	var req services.ProvisionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	result, err := h.Provisioning.Provision(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *AdminHandler) GetReferrer(c *fiber.Ctx) error {
	ctx := c.UserContext()
	referrer, err := h.Referrers.Get(ctx, c.Params("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	total, err := h.Ledger.TotalPaidForReferrer(ctx, referrer.ID)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{
		"referrer":   referrer,
		"total_paid": total.StringFixed(2),
	})
}

func (h *AdminHandler) ListReferrerRewards(c *fiber.Ctx) error {
	status := models.RewardStatus(strings.ToUpper(c.Query("status")))
	switch status {
	case "", models.RewardStatusPending, models.RewardStatusPaid, models.RewardStatusFailed:
	default:
		return badRequest(c, "status must be PENDING, PAID or FAILED")
	}
	rewards, err := h.Ledger.ListByReferrer(c.UserContext(), c.Params("id"), status)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(fiber.Map{"rewards": rewards})
}

func (h *AdminHandler) DeleteReferrer(c *fiber.Ctx) error {
	if err := h.Referrers.Delete(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, h.Log, err)
	}
	h.Log.WithFields(logrus.Fields{
		"referrer_id": c.Params("id"),
		"operator_id": middleware.OperatorID(c),
	}).Warn("referrer deleted by operator")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminHandler) DeactivateCode(c *fiber.Ctx) error {
	code, err := h.Codes.Deactivate(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(code)
}

func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.Settings.Get(c.UserContext())
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(settings)
}

func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	var req services.SettingsUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	settings, err := h.Settings.Update(c.UserContext(), req)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(settings)
}

type backfillRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RunBackfill replays archived events for an inclusive YYYY-MM-DD range.
func (h *AdminHandler) RunBackfill(c *fiber.Ctx) error {
	if h.Backfill == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "event archive is not configured"})
	}
	var req backfillRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	from, err := time.Parse(time.DateOnly, req.From)
	if err != nil {
		return badRequest(c, "from must be YYYY-MM-DD")
	}
	to := from
	if req.To != "" {
		if to, err = time.Parse(time.DateOnly, req.To); err != nil {
			return badRequest(c, "to must be YYYY-MM-DD")
		}
	}
	if to.Before(from) {
		return badRequest(c, "to must not be before from")
	}

	report, err := h.Backfill.Run(c.UserContext(), from, to)
	if err != nil && report == nil {
		return respondError(c, h.Log, err)
	}
	if err != nil {
		return c.Status(fiber.StatusMultiStatus).JSON(fiber.Map{"error": err.Error(), "report": report})
	}
	return c.JSON(report)
}
