package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", "owner-1", RoleMerchant, time.Hour)
	require.NoError(t, err)

	parsed, err := jwt.Parse(tok.Token, func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil })
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "owner-1", claims["sub"])
	assert.Equal(t, RoleMerchant, claims["role"])
}

func TestNewAccessTokenRequiresSubject(t *testing.T) {
	_, err := NewAccessToken("s3cret", "", RoleMerchant, time.Hour)
	assert.Error(t, err)
}

func TestVerifySecret(t *testing.T) {
	hash, err := HashSecret("cron-key", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, VerifySecret(hash, "cron-key"))
	assert.False(t, VerifySecret(hash, "other"))
	assert.False(t, VerifySecret("", "cron-key"))
	assert.False(t, VerifySecret(hash, ""))
}
