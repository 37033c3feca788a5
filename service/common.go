package service

import (
	"errors"
	"log/slog"

	"github.com/Mr-SGXXX/pyerm/config"
)

var (
	ErrNotInitialized       = errors.New("experiment is not initialized")
	ErrResultSchemaMismatch = errors.New("result keys do not match the declared result columns")
	ErrRunInProgress        = errors.New("an experiment run is already in progress")
)

func serviceLogger() *slog.Logger {
	if config.AppLogger != nil {
		return config.AppLogger.With("layer", "service")
	}
	if config.AppConfig == nil {
		return slog.Default().With("layer", "service")
	}

	logger := config.EnsureLoggerInitialized()
	if logger == nil {
		return slog.Default().With("layer", "service")
	}
	return logger.With("layer", "service")
}
