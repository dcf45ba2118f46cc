package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Kusama13/qarte-saas-sub002/internal/handler"
	"github.com/Kusama13/qarte-saas-sub002/internal/middleware"
)

// RegisterInternal registers endpoints called by infrastructure, guarded by
// the cron shared secret instead of a user token.
func RegisterInternal(e *echo.Echo, a *handler.AutomationHandler, cronSecretHash string) {
	g := e.Group("/internal", middleware.CronSecret(cronSecretHash))
	g.POST("/cron/automations", a.Run)
}
