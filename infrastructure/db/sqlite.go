package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mr-SGXXX/pyerm/config"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 打开（不存在时创建）path 指向的 SQLite 文件。
// 连接池固定为单连接：所有语句串行执行，每条写语句立即提交。
func Open(path, sqlLogLevel string) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory failed: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_loc=auto&_busy_timeout=5000", path)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(sqlLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite failed (path=%s): %w", path, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB failed: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}

	return conn, nil
}

// Close 关闭底层连接。
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...interface{}) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

func newGormLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	base := config.EnsureLoggerInitialized()
	if base == nil {
		base = slog.Default()
	}
	return logger.New(slogWriter{logger: base.With("layer", "gorm")}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
