package daq

import (
	"log/slog"
	"os"
	"sync"
)

var (
	logger   *slog.Logger
	logLevel = new(slog.LevelVar)
	logMu    sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// Logger returns the logger used by the engine and by chip drivers for
// attach warnings and errors
func Logger() *slog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger
}

// SetLogger replaces the package logger
func SetLogger(l *slog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	logger = l
}

// SetLogLevel sets the minimum level of the default logger
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}
