package logger

import (
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: a zap core for encoding and sinks, exposed
// through slog so call sites stay on the standard structured API. The
// returned func flushes buffered entries and belongs in a defer in main.
func New(env string) (*slog.Logger, func() error) {
	var zapLogger *zap.Logger

	if env == "production" {
		zapLogger = zap.Must(zap.NewProduction())
	} else {
		config := zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapLogger = zap.Must(config.Build())
	}

	return slog.New(zapslog.NewHandler(zapLogger.Core())), zapLogger.Sync
}
