package obs

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log = zap.NewNop()

// Init builds the process logger at the given level and installs it as
// the package global used by L and Time. Call once from main.
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log = built
	return nil
}

// L returns the process logger. Before Init it is a no-op logger, which
// keeps tests quiet.
func L() *zap.Logger { return log }

// Sync flushes buffered log entries; safe to defer from main.
func Sync() {
	_ = log.Sync()
}
