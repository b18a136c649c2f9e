// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development (console) or production (JSON).
// level overrides the default level when set ("debug", "info", "warn", "error").
func New(development bool, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if lvl := strings.TrimSpace(level); lvl != "" {
		parsed, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", lvl, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(parsed)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
