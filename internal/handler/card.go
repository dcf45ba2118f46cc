package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/service"
)

// CardHandler exposes the reward state of a loyalty card.
type CardHandler struct {
	Cards *service.CardService
	Authz *service.Authorizer
	Log   *zap.Logger
}

func NewCardHandler(cards *service.CardService, authz *service.Authorizer, log *zap.Logger) *CardHandler {
	if cards == nil || authz == nil {
		panic("nil dependency passed to NewCardHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CardHandler{Cards: cards, Authz: authz, Log: log}
}

type redeemRequest struct {
	MerchantID string `json:"merchant_id"`
}

// RewardState handles GET /v1/cards/:id/reward-state?merchant_id=.
func (h *CardHandler) RewardState(c echo.Context) error {
	merchantID := c.QueryParam("merchant_id")
	if ok, err := authorize(c, h.Authz, h.Log, merchantID); !ok {
		return err
	}
	st, err := h.Cards.RewardState(c.Request().Context(), merchantID, c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"card_id": c.Param("id"), "reward": st})
}

// Redeem handles POST /v1/cards/:id/redeem.  The merchant id may come in
// the body or the query string.
func (h *CardHandler) Redeem(c echo.Context) error {
	var req redeemRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.MerchantID == "" {
		req.MerchantID = c.QueryParam("merchant_id")
	}
	if ok, err := authorize(c, h.Authz, h.Log, req.MerchantID); !ok {
		return err
	}
	st, err := h.Cards.RedeemTier1(c.Request().Context(), req.MerchantID, c.Param("id"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "card_id": c.Param("id"), "reward": st})
}
