// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
)

// Service is attached to every log line as the "service" field.
const Service = "backlink-monitor"

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger.With(zap.String("service", Service)), nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger.With(zap.String("service", Service)), nil
}

// TaskFields are the fields every task log line carries. Empty IDs are left out.
func TaskFields(task backlink.Task) []zap.Field {
	fields := []zap.Field{
		zap.String("kind", string(task.Kind)),
		zap.Int("attempt", task.Attempt),
	}
	if task.BacklinkID != 0 {
		fields = append(fields, zap.Int64("backlink_id", task.BacklinkID))
	}
	if task.AlertID != "" {
		fields = append(fields, zap.String("alert_id", task.AlertID))
	}
	return fields
}
