package crawler

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the logging config. Development
// mode gets the human-readable console encoder; production logs JSON. The
// level comes from Logging.Level, which config validation has already
// checked parses.
func NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(Config.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("bad Logging.Level %q: %v", Config.Logging.Level, err)
	}

	cfg := zap.NewProductionConfig()
	if Config.Logging.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
