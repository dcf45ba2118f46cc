package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Kusama13/qarte-saas-sub002/internal/utils"
)

// CronSecretHeader carries the shared secret of the scheduler.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret guards internal trigger endpoints.  The header value is
// compared against a bcrypt hash so the plain secret is never configured
// on the server.
func CronSecret(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := c.Request().Header.Get(CronSecretHeader)
			if secret == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing cron secret"})
			}
			if !utils.VerifySecret(hash, secret) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid cron secret"})
			}
			return next(c)
		}
	}
}
