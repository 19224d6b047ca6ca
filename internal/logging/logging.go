// Package logging provides the shared structured logger.
//
// Every log line is a single JSON object so that failure visibility
// (the only feedback channel once a trigger is acknowledged) stays
// machine-parseable: {"level":..., "msg":..., "scope":..., ...}.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names. Use these instead of raw strings so log
// consumers can rely on a stable schema.
const (
	FieldScope     = "scope"
	FieldContactID = "contact_id"
	FieldConvoID   = "conversation_id"
	FieldThreadID  = "thread_id"
	FieldRunID     = "run_id"
	FieldRequestID = "request_id"
	FieldKey       = "key"
	FieldAction    = "action"
	FieldError     = "error"
	FieldQueueSize = "queue_size"
)

// L is the process-wide logger. Initialized to a no-op logger so
// packages can log before Init runs (e.g. in tests).
var L *zap.SugaredLogger = zap.NewNop().Sugar()

// Init configures the global logger. Level is one of debug/info/warn/error
// (anything else means info). Development mode switches to console output.
func Init(level string, development bool) error {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	L = logger.Sugar()
	return nil
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	_ = L.Sync()
}

// Exit logs a fatal setup error and terminates the process.
func Exit(msg string, keysAndValues ...any) {
	L.Errorw(msg, keysAndValues...)
	Sync()
	os.Exit(1)
}
