// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentStaging     Environment = "staging"
	EnvironmentDevelopment Environment = "development"
	EnvironmentLocal       Environment = "local"
)

// New returns a JSON logger. An empty level means debug for development
// and local environments, info otherwise.
func New(environment, level string) (*zap.Logger, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(environment)))
	switch env {
	case "":
		env = EnvironmentProduction
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment, EnvironmentLocal:
	default:
		return nil, fmt.Errorf("invalid environment %q", environment)
	}

	cfg := zap.NewProductionConfig()
	if env == EnvironmentDevelopment || env == EnvironmentLocal {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Encoding = "json"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	atomic, err := resolveLevel(env, level)
	if err != nil {
		return nil, err
	}
	cfg.Level = atomic

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.With(zap.String("service", "finance-ledger")), nil
}

func resolveLevel(env Environment, level string) (zap.AtomicLevel, error) {
	if strings.TrimSpace(level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(level); err != nil {
			return zap.AtomicLevel{}, fmt.Errorf("invalid level %q: %w", level, err)
		}
		return zap.NewAtomicLevelAt(parsed), nil
	}
	if env == EnvironmentDevelopment || env == EnvironmentLocal {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel), nil
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
}
