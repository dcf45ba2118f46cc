package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Kusama13/qarte-saas-sub002/internal/handler"
	"github.com/Kusama13/qarte-saas-sub002/internal/middleware"
	"github.com/Kusama13/qarte-saas-sub002/internal/utils"
)

// RegisterMerchant registers the merchant API under /v1.  Every route
// requires a MERCHANT token; ownership of the merchant in the request is
// checked by the handlers.  limiter runs after authentication so buckets
// can be keyed by user.
func RegisterMerchant(e *echo.Echo, v *handler.VisitHandler, c *handler.CardHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleMerchant),
	)
	if limiter != nil {
		g.Use(limiter)
	}

	// ---- Visits ----
	g.POST("/visits", v.Record)
	g.GET("/visits/moderate", v.ListPending)
	g.POST("/visits/moderate", v.Moderate)
	g.PUT("/visits/moderate", v.BulkModerate)

	// ---- Cards ----
	g.GET("/cards/:id/reward-state", c.RewardState)
	g.POST("/cards/:id/redeem", c.Redeem)
}
