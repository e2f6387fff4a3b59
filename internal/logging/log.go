package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger with the name it was derived under.
type Logger struct {
	*zap.Logger
	name string
}

// New wraps an existing zap logger.
func New(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// NewLoggerFromEnv builds a logger for "dev" (console, debug) or anything
// else (json, info).
func NewLoggerFromEnv(env string) *Logger {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return New(l)
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *Logger {
	return New(zap.NewNop())
}

func (log *Logger) GetName() string {
	return log.name
}

// Named returns a child logger; names nest with a dot.
func (log *Logger) Named(name string) *Logger {
	newName := name
	if log.name != "" {
		newName = log.name + "." + name
	}
	return &Logger{
		Logger: log.Logger.Named(name),
		name:   newName,
	}
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: log.Logger.With(fields...),
		name:   log.name,
	}
}

// AtExit flushes the logs before exiting the process. Meant to be used with
// defer right after the logger is built.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}
