package config

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	AppLogger   *slog.Logger
	loggerInitM sync.Mutex
)

func ensureLogDir(path string) error {
	// path 可能是文件路径也可能是目录路径
	dir := path
	if filepath.Ext(path) != "" { // 有扩展名，像 logs/pyerm.log
		dir = filepath.Dir(path)
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(logPath string, level slog.Level) *slog.Logger {
	if strings.TrimSpace(logPath) == "" {
		logPath = "logs/pyerm.log"
	}

	// 1) 确保目录存在
	if err := ensureLogDir(logPath); err != nil {
		fmt.Printf("failed to create log directory: %v\n", err)
		return slog.Default()
	}

	// 2) 如果传进来的是目录，拼一个默认文件名
	if filepath.Ext(logPath) == "" {
		logPath = filepath.Join(logPath, "pyerm.log")
	}

	// 3) lumberjack 轮转
	lumberjackLogger := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    100, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	// 4) stdout + file
	mw := io.MultiWriter(os.Stdout, lumberjackLogger)

	handler := slog.NewTextHandler(mw, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})

	logger := slog.New(handler)

	// 标准库 log 也导到同一个 mw，避免混用时丢日志
	log.SetOutput(mw)
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	logger.Debug("logger initialized", "path", logPath)
	return logger
}

func logSettingsFromConfig() (string, slog.Level) {
	if AppConfig == nil {
		return "logs/pyerm.log", slog.LevelInfo
	}
	return strings.TrimSpace(AppConfig.Log.Path), parseLevel(AppConfig.Log.Level)
}

// InitLogger 使用当前配置重新初始化全局日志器。
func InitLogger() *slog.Logger {
	loggerInitM.Lock()
	defer loggerInitM.Unlock()

	AppLogger = buildLogger(logSettingsFromConfig())
	return AppLogger
}

// SetLogger 直接替换全局日志器，测试中用来屏蔽输出。
func SetLogger(logger *slog.Logger) {
	loggerInitM.Lock()
	defer loggerInitM.Unlock()

	AppLogger = logger
}

// EnsureLoggerInitialized 确保全局日志器可用；若未初始化则按当前配置初始化。
func EnsureLoggerInitialized() *slog.Logger {
	loggerInitM.Lock()
	defer loggerInitM.Unlock()

	if AppLogger != nil {
		return AppLogger
	}
	AppLogger = buildLogger(logSettingsFromConfig())
	return AppLogger
}
