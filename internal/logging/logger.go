// Package logging provides category-scoped structured logging for keywordforge.
// Each subsystem logs under its own category; categories can be toggled
// individually so a noisy collector can be silenced without losing pipeline
// or validator output.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, composition root
	CategoryConfig    Category = "config"    // Config load, env overrides
	CategoryCache     Category = "cache"     // Cache hits/misses/evictions
	CategoryRateLimit Category = "ratelimit" // Token bucket waits
	CategoryBreaker   Category = "breaker"   // Circuit state transitions
	CategorySession   Category = "session"   // HTTP sessions, auth refresh
	CategoryCollector Category = "collector" // Provider adapters
	CategoryPipeline  Category = "pipeline"  // Handler chain
	CategoryValidator Category = "validator" // Rule evaluation
	CategoryEnrich    Category = "enrich"    // Enrichment signals
	CategoryML        Category = "ml"        // ML adjuster calls
	CategoryStage     Category = "stage"     // Orchestrator stages
)

// Options controls logger construction.
type Options struct {
	Level      string          // debug, info, warn, error
	JSONFormat bool            // JSON encoder instead of console
	Categories map[string]bool // nil means all categories enabled
	Output     zapcore.WriteSyncer
}

var (
	mu      sync.RWMutex
	root    *zap.SugaredLogger
	opts    Options
	loggers = make(map[Category]*zap.SugaredLogger)
	nop     = zap.NewNop().Sugar()
)

// Initialize builds the root logger. Call once at startup; Get before
// Initialize returns a nop logger.
func Initialize(o Options) error {
	level := zapcore.InfoLevel
	if o.Level != "" {
		if err := level.Set(o.Level); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if o.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	out := o.Output
	if out == nil {
		out = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(enc, out, level)

	mu.Lock()
	defer mu.Unlock()
	root = zap.New(core).Sugar()
	opts = o
	loggers = make(map[Category]*zap.SugaredLogger)
	return nil
}

// Enabled reports whether the category is enabled under the current options.
func Enabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, ok := opts.Categories[string(category)]
	if !ok {
		return true // unlisted categories default on
	}
	return enabled
}

// Get returns the logger for a category, creating it on first use.
// Disabled categories get a nop logger.
func Get(category Category) *zap.SugaredLogger {
	if !Enabled(category) {
		return nop
	}

	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l = root.Named(string(category))
	loggers[category] = l
	return l
}

// Sync flushes buffered log entries. Safe to call on shutdown even when
// Initialize was never called.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}
