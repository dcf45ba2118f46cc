package handler // handler defines http handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/middleware"
	"github.com/Kusama13/qarte-saas-sub002/internal/service"
)

var errNoUser = errors.New("invalid user_id in context")

// getUserID extracts the authenticated subject set by the JWT middleware.
func getUserID(c echo.Context) (string, error) {
	if id := middleware.UserID(c); id != "" {
		return id, nil
	}
	return "", errNoUser
}

// authorize runs the ownership guard for merchantID.  It writes the error
// response itself and returns false when the request must stop.
func authorize(c echo.Context, authz *service.Authorizer, log *zap.Logger, merchantID string) (bool, error) {
	userID, err := getUserID(c)
	if err != nil {
		return false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if merchantID == "" {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "merchant_id is required"})
	}
	if err := authz.CanManage(c.Request().Context(), userID, merchantID); err != nil {
		return false, writeError(c, log, err)
	}
	return true, nil
}

// writeError maps service errors to status codes.  Internal details are
// logged, never returned.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrSweepRunning):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	}
	log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
