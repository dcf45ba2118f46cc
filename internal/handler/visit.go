package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/service"
)

// VisitHandler serves the merchant moderation queue and scan ingestion.
type VisitHandler struct {
	Visits *service.VisitService
	Authz  *service.Authorizer
	Log    *zap.Logger
}

// NewVisitHandler panics on a missing dependency.
func NewVisitHandler(visits *service.VisitService, authz *service.Authorizer, log *zap.Logger) *VisitHandler {
	if visits == nil || authz == nil {
		panic("nil dependency passed to NewVisitHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &VisitHandler{Visits: visits, Authz: authz, Log: log}
}

type moderateRequest struct {
	VisitID    string `json:"visit_id"`
	Action     string `json:"action"`
	MerchantID string `json:"merchant_id"`
}

type bulkModerateRequest struct {
	VisitIDs   []string `json:"visit_ids"`
	Action     string   `json:"action"`
	MerchantID string   `json:"merchant_id"`
}

// ListPending handles GET /v1/visits/moderate?merchant_id=.
func (h *VisitHandler) ListPending(c echo.Context) error {
	merchantID := c.QueryParam("merchant_id")
	if ok, err := authorize(c, h.Authz, h.Log, merchantID); !ok {
		return err
	}
	visits, count, err := h.Visits.Queue(c.Request().Context(), merchantID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"visits":        visits,
		"pending_count": count,
	})
}

// Moderate handles POST /v1/visits/moderate.
func (h *VisitHandler) Moderate(c echo.Context) error {
	var req moderateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := service.ValidateModeration(req.VisitID, req.Action); err != nil {
		return writeError(c, h.Log, err)
	}
	action, _ := service.ParseAction(req.Action)
	if ok, err := authorize(c, h.Authz, h.Log, req.MerchantID); !ok {
		return err
	}

	res, err := h.Visits.Moderate(c.Request().Context(), req.MerchantID, req.VisitID, action)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "visit not found or already moderated"})
		}
		return writeError(c, h.Log, err)
	}

	body := echo.Map{
		"success":  true,
		"action":   action,
		"visit_id": res.Visit.ID,
		"message":  moderateMessage(action),
	}
	if res.Reward != nil {
		body["reward"] = res.Reward
		body["reward_unlocked"] = res.RewardUnlocked
	}
	return c.JSON(http.StatusOK, body)
}

// BulkModerate handles PUT /v1/visits/moderate.  Per-card failures are
// reported in the counters with a 200; only validation and authorization
// fail the request.
func (h *VisitHandler) BulkModerate(c echo.Context) error {
	var req bulkModerateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if _, err := h.Visits.ValidateBulk(req.VisitIDs, req.Action); err != nil {
		return writeError(c, h.Log, err)
	}
	action, _ := service.ParseAction(req.Action)
	if ok, err := authorize(c, h.Authz, h.Log, req.MerchantID); !ok {
		return err
	}

	res, err := h.Visits.BulkModerate(c.Request().Context(), req.MerchantID, req.VisitIDs, action)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	outcome := res.Outcome()
	return c.JSON(http.StatusOK, echo.Map{
		"success":         outcome != service.BulkFailed,
		"processed":       res.Processed,
		"errors":          res.Errors,
		"message":         bulkMessage(action, res),
		"not_found":       res.NotFound,
		"failed_card_ids": res.FailedCardIDs,
		"outcome":         outcome,
	})
}

type recordVisitRequest struct {
	MerchantID   string `json:"merchant_id"`
	CustomerID   string `json:"customer_id"`
	PointsEarned int    `json:"points_earned"`
}

// Record handles POST /v1/visits.  A quarantined visit is still a 201; the
// caller reads the status.
func (h *VisitHandler) Record(c echo.Context) error {
	var req recordVisitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	in := service.ScanInput{
		MerchantID:   req.MerchantID,
		CustomerID:   req.CustomerID,
		PointsEarned: req.PointsEarned,
	}
	if err := in.Validate(); err != nil {
		return writeError(c, h.Log, err)
	}
	if ok, err := authorize(c, h.Authz, h.Log, in.MerchantID); !ok {
		return err
	}
	res, err := h.Visits.RecordVisit(c.Request().Context(), in)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"visit":       res.Visit,
		"card":        res.Card,
		"quarantined": res.Visit.Status == model.VisitPending,
	})
}

func moderateMessage(a service.Action) string {
	if a == service.ActionConfirm {
		return "visit confirmed"
	}
	return "visit rejected"
}

func bulkMessage(a service.Action, r service.BulkResult) string {
	verb := "confirmed"
	if a == service.ActionReject {
		verb = "rejected"
	}
	if r.Errors == 0 {
		return fmt.Sprintf("%d visits %s", r.Processed, verb)
	}
	return fmt.Sprintf("%d visits %s, %d errors", r.Processed, verb, r.Errors)
}
