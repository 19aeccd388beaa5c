// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	OperatorIDKey    = "operator_id"
	OperatorRolesKey = "operator_roles"
)

// OperatorContextMiddleware extracts the operator identity the gateway sets
// on admin requests. Settlement and overrides are attributed to it.
func OperatorContextMiddleware(log *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		operatorID := strings.TrimSpace(c.Get("X-User-ID"))
		if operatorID == "" {
			operatorID = "admin"
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(OperatorIDKey, operatorID)
		c.Locals(OperatorRolesKey, roles)

		log.WithFields(logrus.Fields{
			"operator_id": operatorID,
			"roles":       roles,
			"method":      c.Method(),
			"path":        c.Path(),
		}).Debug("👤 [OPERATOR_CTX] admin request")
		return c.Next()
	}
}

// OperatorID returns the operator set by OperatorContextMiddleware.
func OperatorID(c *fiber.Ctx) string {
	if id, ok := c.Locals(OperatorIDKey).(string); ok && id != "" {
		return id
	}
	return "admin"
}
