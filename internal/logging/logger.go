// Package logging provides categorized logging for inreach on top of zap.
// The CLI attaches its root zap logger once at startup; every category logger
// is a named child of it. Before a logger is attached all calls are no-ops.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config
	CategorySession  Category = "session"  // Authentication, session lifetime
	CategoryQuota    Category = "quota"    // Daily quota tracking
	CategoryStore    Category = "store"    // Profile store reads/writes
	CategoryQueue    Category = "queue"    // Work queue construction
	CategoryLocator  Category = "locator"  // Element resolution strategies
	CategoryWorkflow Category = "workflow" // Per-profile state machine
	CategoryCampaign Category = "campaign" // Run orchestration
	CategoryBrowser  Category = "browser"  // Browser automation, DOM events
)

// Options configures Initialize.
type Options struct {
	Level      string          // debug, info, warn, error
	JSONFormat bool            // JSON encoder instead of console
	File       string          // Optional log file; stderr when empty
	DebugMode  bool            // Forces debug level
	Categories map[string]bool // Per-category toggles; missing means enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	root       *zap.Logger
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
	mu         sync.RWMutex
)

// Attach installs base as the root logger for all categories.
func Attach(base *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = base
	loggers = make(map[Category]*Logger)
}

// SetCategories replaces the per-category toggles.
func SetCategories(toggles map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	categories = toggles
	loggers = make(map[Category]*Logger)
}

// Initialize builds a zap logger from opts and attaches it.
// The returned logger is the root; callers should Sync it on exit.
func Initialize(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))
	if opts.DebugMode {
		level.SetLevel(zapcore.DebugLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if opts.JSONFormat {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	} else {
		cfg.OutputPaths = []string{"stderr"}
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	Attach(base)
	SetCategories(opts.Categories)

	boot := Get(CategoryBoot)
	boot.Debug("logging initialized: level=%s json=%v file=%q", level.Level(), opts.JSONFormat, opts.File)
	if len(opts.Categories) > 0 {
		enabled := 0
		for _, on := range opts.Categories {
			if on {
				enabled++
			}
		}
		boot.Debug("enabled categories: %d/%d", enabled, len(opts.Categories))
	}
	return base, nil
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if root == nil {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if no root is attached or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	if root == nil {
		return &Logger{category: category}
	}
	l := &Logger{
		category: category,
		sugar:    root.Named(string(category)).WithOptions(zap.AddCallerSkip(1)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Sync flushes the root logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Session logs to the session category
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionWarn logs warning to the session category
func SessionWarn(format string, args ...interface{}) {
	Get(CategorySession).Warn(format, args...)
}

// SessionError logs error to the session category
func SessionError(format string, args ...interface{}) {
	Get(CategorySession).Error(format, args...)
}

// Quota logs to the quota category
func Quota(format string, args ...interface{}) {
	Get(CategoryQuota).Info(format, args...)
}

// QuotaDebug logs debug to the quota category
func QuotaDebug(format string, args ...interface{}) {
	Get(CategoryQuota).Debug(format, args...)
}

// QuotaWarn logs warning to the quota category
func QuotaWarn(format string, args ...interface{}) {
	Get(CategoryQuota).Warn(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// Queue logs to the queue category
func Queue(format string, args ...interface{}) {
	Get(CategoryQueue).Info(format, args...)
}

// QueueDebug logs debug to the queue category
func QueueDebug(format string, args ...interface{}) {
	Get(CategoryQueue).Debug(format, args...)
}

// Locator logs to the locator category
func Locator(format string, args ...interface{}) {
	Get(CategoryLocator).Info(format, args...)
}

// LocatorDebug logs debug to the locator category
func LocatorDebug(format string, args ...interface{}) {
	Get(CategoryLocator).Debug(format, args...)
}

// LocatorWarn logs warning to the locator category
func LocatorWarn(format string, args ...interface{}) {
	Get(CategoryLocator).Warn(format, args...)
}

// WorkflowDebug logs debug to the workflow category
func WorkflowDebug(format string, args ...interface{}) {
	Get(CategoryWorkflow).Debug(format, args...)
}

// WorkflowWarn logs warning to the workflow category
func WorkflowWarn(format string, args ...interface{}) {
	Get(CategoryWorkflow).Warn(format, args...)
}

// Campaign logs to the campaign category
func Campaign(format string, args ...interface{}) {
	Get(CategoryCampaign).Info(format, args...)
}

// CampaignDebug logs debug to the campaign category
func CampaignDebug(format string, args ...interface{}) {
	Get(CategoryCampaign).Debug(format, args...)
}

// CampaignWarn logs warning to the campaign category
func CampaignWarn(format string, args ...interface{}) {
	Get(CategoryCampaign).Warn(format, args...)
}

// CampaignError logs error to the campaign category
func CampaignError(format string, args ...interface{}) {
	Get(CategoryCampaign).Error(format, args...)
}

// BrowserDebug logs debug to the browser category
func BrowserDebug(format string, args ...interface{}) {
	Get(CategoryBrowser).Debug(format, args...)
}

// BrowserWarn logs warning to the browser category
func BrowserWarn(format string, args ...interface{}) {
	Get(CategoryBrowser).Warn(format, args...)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
