package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapLogger creates a zap-backed logger. The zap types stay hidden behind
// the Logger interface so subsystems never depend on the backend directly.
func NewZapLogger(level string) (Logger, error) {
	zapLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}

	sugar := zapLogger.Sugar()
	return NewLogger("", LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	}), nil
}

func parseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}
