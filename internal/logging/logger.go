// Package logging builds the structured loggers used by gpkgparity.
// Logs go to stderr so stdout stays the human-readable progress channel.
// Each pipeline stage logs through a named child logger (its Category),
// and categories can be switched off individually in the config.
package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gpkgparity/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Config, runtime initialization
	CategoryLoader    Category = "loader"    // Data source and layer loading
	CategorySchema    Category = "schema"    // Field inspection and parity field creation
	CategoryTransform Category = "transform" // Per-feature parity computation
	CategoryCommit    Category = "commit"    // Edit session commit and rollback
)

// New builds a logger from cfg. verbose forces debug level.
func New(cfg config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zcfg.DisableStacktrace = !verbose

	level := zapcore.WarnLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return Filter(core, cfg)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Get returns the child logger for a category.
func Get(logger *zap.Logger, category Category) *zap.Logger {
	return logger.Named(string(category))
}

// Filter wraps core so that entries from disabled categories are dropped.
func Filter(core zapcore.Core, cfg config.LoggingConfig) zapcore.Core {
	if len(cfg.Categories) == 0 {
		return core
	}
	return &categoryCore{Core: core, cfg: cfg}
}

type categoryCore struct {
	zapcore.Core
	cfg config.LoggingConfig
}

func (c *categoryCore) With(fields []zapcore.Field) zapcore.Core {
	return &categoryCore{Core: c.Core.With(fields), cfg: c.cfg}
}

func (c *categoryCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	category, _, _ := strings.Cut(ent.LoggerName, ".")
	if category != "" && !c.cfg.IsCategoryEnabled(category) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// Timer measures one operation.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	return &Timer{
		logger: logger,
		op:     operation,
		start:  time.Now(),
	}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}
