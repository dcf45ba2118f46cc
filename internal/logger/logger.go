// Package logger builds the zap logger shared by the server, the services
// and the audit consumer.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kusama13/qarte-saas-sub002/internal/config"
)

// New returns a zap logger for the given settings.  Development mode
// (APP_ENV=dev) switches to the console encoder and debug level unless a
// level was set explicitly.
func New(env string, cfg config.LoggerConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if isDev(env) {
		zc = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if isDev(env) {
		level = zapcore.DebugLevel
	}
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, err
		}
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(cfg.Encoding) {
	case "console":
		zc.Encoding = "console"
	case "json":
		zc.Encoding = "json"
	}
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zc.Build()
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	}
	return false
}
