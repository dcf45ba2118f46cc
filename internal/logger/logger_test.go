package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/Kusama13/qarte-saas-sub002/internal/config"
)

func TestNewHonoursLevel(t *testing.T) {
	log, err := New("prod", config.LoggerConfig{Level: "warn", Encoding: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestNewDevDefaultsToDebug(t *testing.T) {
	log, err := New("dev", config.LoggerConfig{Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("prod", config.LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
