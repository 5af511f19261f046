package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nasqa/uut-harness/framework/config"
)

const (
	EnvLogLevel  = "UUT_LOG_LEVEL"
	EnvLogFormat = "UUT_LOG_FORMAT"

	FormatJSON    = "json"
	FormatConsole = "console"
)

// NewLogger builds a zap logger based on runner config.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	format := cfg.LogFormat
	if value := os.Getenv(EnvLogFormat); value != "" && format == "" {
		format = value
	}
	levelName := cfg.LogLevel
	if value := os.Getenv(EnvLogLevel); value != "" && levelName == "" {
		levelName = value
	}

	var zapCfg zap.Config
	if strings.EqualFold(format, FormatConsole) {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	}
	zapCfg.Level = zap.NewAtomicLevelAt(ParseLevel(levelName))

	logger, err := zapCfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return NewRedactingCore(core)
	}))
	if err != nil {
		return nil, err
	}
	return logger.With(
		zap.String("run_id", cfg.RunID),
		zap.String("platform", cfg.Platform),
	), nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
