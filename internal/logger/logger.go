// Package logger builds the zap loggers used throughout sandboxer.
//
// Both modes write to stderr so stdout stays free for command output and the
// MCP stdio transport. Known secret values are masked in every entry.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/michaelbrown/sandboxer/internal/config"
)

// NewFromConfig builds the logger described by cfg.Logging. The git token,
// API key and service tokens resolved at startup are masked.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	secrets := []string{
		os.Getenv(cfg.Repository.TokenEnv),
		os.Getenv(cfg.Agent.APIKeyEnv),
		cfg.Vercel.Token,
		cfg.Titles.APIKey,
	}
	return New(cfg.Logging.Mode, cfg.Logging.Level, secrets...)
}

// New creates a logger for mode ("production" or "development") at level.
func New(mode, level string, secrets ...string) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.DisableStacktrace = true
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		// Sampling would drop sandbox output lines.
		cfg.Sampling = nil
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	opts := []zap.Option{zap.AddCaller()}
	if s := filterSecrets(secrets); len(s) > 0 {
		opts = append(opts, zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return newRedactCore(c, s)
		}))
	}
	log, err := cfg.Build(opts...)
	if err != nil {
		return nil, err
	}
	return log.Named("sandboxer"), nil
}

// filterSecrets drops values too short to mask without mangling ordinary text.
func filterSecrets(secrets []string) []string {
	var out []string
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			out = append(out, s)
		}
	}
	return out
}
