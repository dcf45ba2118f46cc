package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/service"
)

// AutomationHandler lets the external scheduler trigger the daily sweep.
type AutomationHandler struct {
	Scheduler *service.AutomationScheduler
	Log       *zap.Logger
}

func NewAutomationHandler(s *service.AutomationScheduler, log *zap.Logger) *AutomationHandler {
	if s == nil {
		panic("nil scheduler passed to NewAutomationHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AutomationHandler{Scheduler: s, Log: log}
}

// Run handles POST /internal/cron/automations.  A sweep already in progress
// returns 409.  The sweep outlives a scheduler that hangs up early.
func (h *AutomationHandler) Run(c echo.Context) error {
	report, err := h.Scheduler.Sweep(context.WithoutCancel(c.Request().Context()))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"report": report,
		"totals": report.Totals(),
	})
}
