package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, filepath.Join(HomeDir(), "experiment.db"), cfg.DB.Path)
	assert.Equal(t, 2, cfg.Result.DefaultImageSlots)
	assert.Equal(t, 600, cfg.Redis.TTLSeconds)
	assert.Equal(t, 22, cfg.Backup.Port)
	assert.Equal(t, 4, cfg.Export.Workers)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
db:
  path: /tmp/pyerm/test.db
result:
  default_image_slots: -1
redis:
  host: 127.0.0.1
backup:
  host: 10.0.0.7
  remote_dir: /data/pyerm
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/pyerm/test.db", cfg.DB.Path)
	assert.Equal(t, 0, cfg.Result.DefaultImageSlots)
	assert.Equal(t, "127.0.0.1", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "/data/pyerm", cfg.Backup.RemoteDir)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [1, 2"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestInitRedisNotConfigured(t *testing.T) {
	prev := AppConfig
	t.Cleanup(func() { AppConfig = prev })

	AppConfig = Default()
	assert.ErrorIs(t, InitRedis(), ErrRedisNotConfigured)
}

func TestRedisOptions(t *testing.T) {
	_, err := RedisOptions(RedisConfig{Host: "  "})
	assert.ErrorIs(t, err, ErrRedisNotConfigured)

	opts, err := RedisOptions(RedisConfig{Host: "cache.local", Password: "secret", DB: 2})
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)

	assert.Equal(t, 600*time.Second, RedisConfig{}.CacheTTL())
	assert.Equal(t, 30*time.Second, RedisConfig{TTLSeconds: 30}.CacheTTL())
}

func TestInitRedisUsesConfiguredDB(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	prevConfig, prevLogger := AppConfig, AppLogger
	t.Cleanup(func() {
		_ = CloseRedis()
		AppConfig = prevConfig
		SetLogger(prevLogger)
	})
	SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	AppConfig = Default()
	AppConfig.Redis.Host = mr.Host()
	AppConfig.Redis.Port = port
	AppConfig.Redis.DB = 3
	require.NoError(t, InitRedis())
	require.NotNil(t, RedisClient)

	require.NoError(t, RedisClient.Set(context.Background(), "pyerm:ping", "v", 0).Err())
	got, err := mr.DB(3).Get("pyerm:ping")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	require.NoError(t, CloseRedis())
	assert.Nil(t, RedisClient)
}

func TestInitRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	prev := AppConfig
	t.Cleanup(func() { AppConfig = prev })
	AppConfig = Default()
	AppConfig.Redis.Host = "127.0.0.1"
	AppConfig.Redis.Port = port

	assert.Error(t, InitRedis())
	assert.Nil(t, RedisClient)
}
