package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 是统计结果缓存使用的连接，未配置 redis 时为 nil。
var RedisClient *redis.Client

var ErrRedisNotConfigured = errors.New("redis host is empty")

const redisTimeout = 5 * time.Second

// RedisOptions 把 redis 配置段转换成客户端参数，host 为空时返回 ErrRedisNotConfigured。
func RedisOptions(cfg RedisConfig) (*redis.Options, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, ErrRedisNotConfigured
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout,
		WriteTimeout: redisTimeout,
	}, nil
}

// CacheTTL 返回统计缓存的过期时间。
func (c RedisConfig) CacheTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// InitRedis 连接配置中的 redis，用作统计结果缓存。
func InitRedis() error {
	cfg := Current().Redis
	opts, err := RedisOptions(cfg)
	if err != nil {
		return err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed (addr=%s db=%d): %w", opts.Addr, opts.DB, err)
	}

	RedisClient = client
	EnsureLoggerInitialized().Info("statistics cache connected",
		"addr", opts.Addr, "db", opts.DB, "ttl", cfg.CacheTTL().String())
	return nil
}

func CloseRedis() error {
	if RedisClient == nil {
		return nil
	}
	err := RedisClient.Close()
	RedisClient = nil
	return err
}
