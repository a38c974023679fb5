// Package logging provides categorized structured logging for the titan
// fabric. Each subsystem logs under its own category so operators can raise
// or lower verbosity per concern. Loggers are zap sugared loggers named after
// the category.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a fabric subsystem.
type Category string

const (
	CategoryBus      Category = "bus"      // Broker connection, publish/subscribe
	CategoryTopology Category = "topology" // Stream/consumer reconciliation
	CategoryEnvelope Category = "envelope" // Signing and verification
	CategorySignal   Category = "signal"   // PREPARE/CONFIRM/ABORT protocol
	CategoryPolicy   Category = "policy"   // Policy hash handshake
	CategoryConfig   Category = "config"   // Configuration manager
	CategoryDlq      Category = "dlq"      // Dead-letter traffic
)

var (
	mu      sync.RWMutex
	root    *zap.Logger
	loggers = make(map[Category]*zap.SugaredLogger)
)

func init() {
	// A usable default so library consumers and tests get output without
	// calling Initialize. The CLI replaces this at startup.
	root = zap.Must(zap.NewProduction())
}

// Initialize installs the process-wide root logger. debug widens the level;
// devMode switches to the console encoder.
func Initialize(debug, devMode bool) error {
	cfg := zap.NewProductionConfig()
	if devMode {
		cfg = zap.NewDevelopmentConfig()
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetRoot(logger)
	return nil
}

// SetRoot replaces the root logger. Tests use this to install zaptest or
// observer cores.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = logger
	loggers = make(map[Category]*zap.SugaredLogger)
}

// Get returns the sugared logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}
	l := root.Named(string(cat)).Sugar()
	loggers[cat] = l
	return l
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Bus logs to the bus category.
func Bus(format string, args ...interface{}) { Get(CategoryBus).Infof(format, args...) }

// BusDebug logs debug to the bus category.
func BusDebug(format string, args ...interface{}) { Get(CategoryBus).Debugf(format, args...) }

// BusWarn logs warning to the bus category.
func BusWarn(format string, args ...interface{}) { Get(CategoryBus).Warnf(format, args...) }

// BusError logs error to the bus category.
func BusError(format string, args ...interface{}) { Get(CategoryBus).Errorf(format, args...) }

// Topology logs to the topology category.
func Topology(format string, args ...interface{}) { Get(CategoryTopology).Infof(format, args...) }

// TopologyWarn logs warning to the topology category.
func TopologyWarn(format string, args ...interface{}) { Get(CategoryTopology).Warnf(format, args...) }

// TopologyError logs error to the topology category.
func TopologyError(format string, args ...interface{}) { Get(CategoryTopology).Errorf(format, args...) }

// Envelope logs to the envelope category.
func Envelope(format string, args ...interface{}) { Get(CategoryEnvelope).Infof(format, args...) }

// EnvelopeWarn logs warning to the envelope category.
func EnvelopeWarn(format string, args ...interface{}) { Get(CategoryEnvelope).Warnf(format, args...) }

// Signal logs to the signal category.
func Signal(format string, args ...interface{}) { Get(CategorySignal).Infof(format, args...) }

// SignalDebug logs debug to the signal category.
func SignalDebug(format string, args ...interface{}) { Get(CategorySignal).Debugf(format, args...) }

// SignalWarn logs warning to the signal category.
func SignalWarn(format string, args ...interface{}) { Get(CategorySignal).Warnf(format, args...) }

// SignalError logs error to the signal category.
func SignalError(format string, args ...interface{}) { Get(CategorySignal).Errorf(format, args...) }

// Policy logs to the policy category.
func Policy(format string, args ...interface{}) { Get(CategoryPolicy).Infof(format, args...) }

// PolicyWarn logs warning to the policy category.
func PolicyWarn(format string, args ...interface{}) { Get(CategoryPolicy).Warnf(format, args...) }

// PolicyError logs error to the policy category.
func PolicyError(format string, args ...interface{}) { Get(CategoryPolicy).Errorf(format, args...) }

// Config logs to the config category.
func Config(format string, args ...interface{}) { Get(CategoryConfig).Infof(format, args...) }

// ConfigDebug logs debug to the config category.
func ConfigDebug(format string, args ...interface{}) { Get(CategoryConfig).Debugf(format, args...) }

// ConfigWarn logs warning to the config category.
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warnf(format, args...) }

// ConfigError logs error to the config category.
func ConfigError(format string, args ...interface{}) { Get(CategoryConfig).Errorf(format, args...) }

// Dlq logs to the dlq category.
func Dlq(format string, args ...interface{}) { Get(CategoryDlq).Infof(format, args...) }

// DlqWarn logs warning to the dlq category.
func DlqWarn(format string, args ...interface{}) { Get(CategoryDlq).Warnf(format, args...) }

// DlqError logs error to the dlq category.
func DlqError(format string, args ...interface{}) { Get(CategoryDlq).Errorf(format, args...) }
