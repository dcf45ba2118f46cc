package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kusama13/qarte-saas-sub002/internal/handler"
	"github.com/Kusama13/qarte-saas-sub002/internal/middleware"
	"github.com/Kusama13/qarte-saas-sub002/internal/model"
	"github.com/Kusama13/qarte-saas-sub002/internal/repository/memory"
	"github.com/Kusama13/qarte-saas-sub002/internal/router"
	"github.com/Kusama13/qarte-saas-sub002/internal/service"
	"github.com/Kusama13/qarte-saas-sub002/internal/utils"
)

const jwtSecret = "handler-test-secret"

var now = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

type env struct {
	e     *echo.Echo
	store *memory.Store
	token string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	st.PutMerchant(model.Merchant{ID: "m1", OwnerUserID: "alice", StampsRequired: 5, DailyVisitCap: 1, Timezone: "UTC", InactiveReminderEnabled: true})
	st.PutMerchant(model.Merchant{ID: "m2", OwnerUserID: "bob", StampsRequired: 5, DailyVisitCap: 1, Timezone: "UTC"})
	st.PutCard(model.LoyaltyCard{ID: "c1", MerchantID: "m1", CustomerID: "cust-1", CurrentStamps: 4})
	st.PutCard(model.LoyaltyCard{ID: "c2", MerchantID: "m1", CustomerID: "cust-2"})
	for _, v := range []struct {
		id, card string
		points   int
	}{{"v1", "c1", 1}, {"v2", "c1", 1}, {"v3", "c2", 2}} {
		cust := "cust-1"
		if v.card == "c2" {
			cust = "cust-2"
		}
		st.PutVisit(model.Visit{ID: v.id, MerchantID: "m1", LoyaltyCardID: v.card, CustomerID: cust, Status: model.VisitPending, VisitedAt: now.Add(-time.Hour), PointsEarned: v.points})
	}

	locker := service.NewKeyedMutex()
	clock := func() time.Time { return now }
	ledger := service.NewLedger(st.Cards(), locker, nil)
	visits := service.NewVisitService(st.Visits(), st.Cards(), st.Merchants(), ledger, locker, nil, nil, service.VisitOptions{MaxBulk: 10, Now: clock})
	cards := service.NewCardService(st.Cards(), st.Merchants(), locker, nil)
	authz := service.NewAuthorizer(st.Merchants())
	notifier := service.NotifierFunc(func(ctx context.Context, n service.Notification) error { return nil })
	sched := service.NewAutomationScheduler(st.Merchants(), st.Cards(), st.AutomationLogs(), notifier, locker, service.AutomationConfig{}, nil, clock)

	hash, err := utils.HashSecret("tick", bcrypt.MinCost)
	require.NoError(t, err)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterMerchant(e, handler.NewVisitHandler(visits, authz, nil), handler.NewCardHandler(cards, authz, nil), jwtSecret, nil)
	router.RegisterInternal(e, handler.NewAutomationHandler(sched, nil), hash)

	tok, err := utils.NewAccessToken(jwtSecret, "alice", utils.RoleMerchant, time.Hour)
	require.NoError(t, err)
	return &env{e: e, store: st, token: tok.Token}
}

func (en *env) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+en.token)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	en.e.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	en := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	en.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestListPending(t *testing.T) {
	en := newEnv(t)

	code, body := en.do(t, http.MethodGet, "/v1/visits/moderate?merchant_id=m1", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["pending_count"])
	assert.Len(t, body["visits"], 3)

	code, _ = en.do(t, http.MethodGet, "/v1/visits/moderate?merchant_id=m2", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = en.do(t, http.MethodGet, "/v1/visits/moderate", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestModerateSingle(t *testing.T) {
	en := newEnv(t)

	code, body := en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v1","action":"confirm","merchant_id":"m1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "confirm", body["action"])
	assert.Equal(t, "v1", body["visit_id"])
	assert.Equal(t, "visit confirmed", body["message"])
	assert.Equal(t, true, body["reward_unlocked"])

	c, _ := en.store.Card("c1")
	assert.Equal(t, 5, c.CurrentStamps)

	code, _ = en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v1","action":"confirm","merchant_id":"m1"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v2","action":"approve","merchant_id":"m1"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v2","action":"confirm","merchant_id":"m2"}`)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestModeratePersistenceFailure(t *testing.T) {
	en := newEnv(t)
	en.store.FailIncrement("c1", assert.AnError)

	code, body := en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v1","action":"confirm","merchant_id":"m1"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body["error"])
	v, _ := en.store.Visit("v1")
	assert.Equal(t, model.VisitPending, v.Status)
}

func TestBulkModerate(t *testing.T) {
	en := newEnv(t)
	en.store.FailIncrement("c2", assert.AnError)

	code, body := en.do(t, http.MethodPut, "/v1/visits/moderate", `{"visit_ids":["v1","v2","v3","nope"],"action":"confirm","merchant_id":"m1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["processed"])
	assert.EqualValues(t, 2, body["errors"])
	assert.EqualValues(t, 1, body["not_found"])
	assert.Equal(t, []any{"c2"}, body["failed_card_ids"])
	assert.Equal(t, "partial", body["outcome"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2 visits confirmed, 2 errors", body["message"])

	code, _ = en.do(t, http.MethodPut, "/v1/visits/moderate", `{"visit_ids":[],"action":"confirm","merchant_id":"m1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRecordVisit(t *testing.T) {
	en := newEnv(t)

	code, body := en.do(t, http.MethodPost, "/v1/visits", `{"merchant_id":"m1","customer_id":"walk-in","points_earned":1}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, false, body["quarantined"])

	code, body = en.do(t, http.MethodPost, "/v1/visits", `{"merchant_id":"m1","customer_id":"walk-in","points_earned":1}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["quarantined"])

	code, _ = en.do(t, http.MethodPost, "/v1/visits", `{"merchant_id":"m1","customer_id":"walk-in","points_earned":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCardRewardStateAndRedeem(t *testing.T) {
	en := newEnv(t)

	code, _ := en.do(t, http.MethodPost, "/v1/cards/c1/redeem", `{"merchant_id":"m1"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = en.do(t, http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v1","action":"confirm","merchant_id":"m1"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := en.do(t, http.MethodGet, "/v1/cards/c1/reward-state?merchant_id=m1", "")
	require.Equal(t, http.StatusOK, code)
	reward := body["reward"].(map[string]any)
	assert.Equal(t, true, reward["tier1_ready"])

	code, body = en.do(t, http.MethodPost, "/v1/cards/c1/redeem?merchant_id=m1", "")
	require.Equal(t, http.StatusOK, code)
	reward = body["reward"].(map[string]any)
	assert.Equal(t, true, reward["tier1_redeemed"])
	assert.EqualValues(t, 5, reward["current_stamps"])

	code, _ = en.do(t, http.MethodGet, "/v1/cards/c1/reward-state?merchant_id=m2", "")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAuthRequired(t *testing.T) {
	en := newEnv(t)
	en.token = "garbage"
	code, _ := en.do(t, http.MethodGet, "/v1/visits/moderate?merchant_id=m1", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCronAutomations(t *testing.T) {
	en := newEnv(t)

	code, _ := en.do(t, http.MethodPost, "/internal/cron/automations", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := en.do(t, http.MethodPost, "/internal/cron/automations", "", middleware.CronSecretHeader, "tick")
	require.Equal(t, http.StatusOK, code)
	totals := body["totals"].(map[string]any)
	assert.EqualValues(t, 2, totals["sent"])

	code, body = en.do(t, http.MethodPost, "/internal/cron/automations", "", middleware.CronSecretHeader, "tick")
	require.Equal(t, http.StatusOK, code)
	totals = body["totals"].(map[string]any)
	assert.EqualValues(t, 0, totals["sent"])
	assert.EqualValues(t, 2, totals["skipped"])
}

func TestMalformedRequestsFailBeforeOwnership(t *testing.T) {
	en := newEnv(t)

	for _, tc := range []struct {
		name, method, path, body string
	}{
		{"bad action", http.MethodPost, "/v1/visits/moderate", `{"visit_id":"v1","action":"approve","merchant_id":"m2"}`},
		{"missing visit_id", http.MethodPost, "/v1/visits/moderate", `{"action":"confirm","merchant_id":"m2"}`},
		{"empty bulk", http.MethodPut, "/v1/visits/moderate", `{"visit_ids":[],"action":"confirm","merchant_id":"m2"}`},
		{"bulk bad action", http.MethodPut, "/v1/visits/moderate", `{"visit_ids":["v1"],"action":"maybe","merchant_id":"unknown"}`},
		{"scan without points", http.MethodPost, "/v1/visits", `{"merchant_id":"m2","customer_id":"walk-in","points_earned":0}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			code, _ := en.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	v, _ := en.store.Visit("v1")
	assert.Equal(t, model.VisitPending, v.Status)
}
