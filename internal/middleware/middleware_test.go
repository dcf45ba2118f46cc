package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kusama13/qarte-saas-sub002/internal/config"
	"github.com/Kusama13/qarte-saas-sub002/internal/utils"
)

const testSecret = "test-secret"

func protected(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/p", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user_id": UserID(c)})
	}, mw...)
	return e
}

func do(e *echo.Echo, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := protected(JWTAuth(testSecret), RequireRole(utils.RoleMerchant))

	good, err := utils.NewAccessToken(testSecret, "owner-1", utils.RoleMerchant, time.Hour)
	require.NoError(t, err)
	wrongRole, err := utils.NewAccessToken(testSecret, "owner-1", "CUSTOMER", time.Hour)
	require.NoError(t, err)
	otherKey, err := utils.NewAccessToken("other", "owner-1", utils.RoleMerchant, time.Hour)
	require.NoError(t, err)
	expired, err := utils.NewAccessToken(testSecret, "owner-1", utils.RoleMerchant, -time.Minute)
	require.NoError(t, err)
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "owner-1", "role": utils.RoleMerchant}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"valid", "Bearer " + good.Token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey.Token, http.StatusUnauthorized},
		{"expired", "Bearer " + expired.Token, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExp, http.StatusUnauthorized},
		{"wrong role", "Bearer " + wrongRole.Token, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := ""
			if tt.auth != "" {
				header = "Authorization"
			}
			rec := do(e, header, tt.auth)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Body.String(), `"user_id":"owner-1"`)
			}
		})
	}
}

func TestCronSecret(t *testing.T) {
	hash, err := utils.HashSecret("tick", bcrypt.MinCost)
	require.NoError(t, err)
	e := protected(CronSecret(hash))

	assert.Equal(t, http.StatusOK, do(e, CronSecretHeader, "tick").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, CronSecretHeader, "tock").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "", "").Code)
}

func TestTokenBucketDisabledWithoutRedis(t *testing.T) {
	e := protected(NewTokenBucket(config.RateLimitConfig{Enabled: true}, nil, nil))
	rec := do(e, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/v1/visits/moderate", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/visits/moderate")
	c.Set(ContextUserID, "owner-1")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user_route"}
	assert.Equal(t, "rl:user:owner-1:route:PUT /v1/visits/moderate", buildRateKey(cfg, c))

	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))
}
