package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/redis/go-redis/v9"
)

const statisticsKeyPrefix = "pyerm:statistics"

// StatisticsCache 把统计结果缓存在 redis 中。
// key 包含数据库路径与数据版本号，任何写入都会让旧缓存自然失效，只靠 TTL 回收。
// client 为 nil 时缓存不生效。
type StatisticsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatisticsCache(client *redis.Client, ttl time.Duration) *StatisticsCache {
	return &StatisticsCache{client: client, ttl: ttl}
}

func (c *StatisticsCache) enabled() bool {
	return c != nil && c.client != nil
}

func statisticsKey(dbPath string, version int64, setting entity.Setting) string {
	return strings.Join([]string{
		statisticsKeyPrefix,
		dbPath,
		fmt.Sprint(version),
		setting.Task,
		setting.Method,
		fmt.Sprint(setting.MethodID),
		setting.Data,
		fmt.Sprint(setting.DataID),
	}, ":")
}

// Get 读取缓存，未命中时返回 (nil, false, nil)。
func (c *StatisticsCache) Get(ctx context.Context, dbPath string, version int64, setting entity.Setting) (*entity.ResultStatistics, bool, error) {
	if !c.enabled() {
		return nil, false, nil
	}
	key := statisticsKey(dbPath, version, setting)
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s failed: %w", key, err)
	}

	var statistics entity.ResultStatistics
	if err := json.Unmarshal([]byte(raw), &statistics); err != nil {
		return nil, false, fmt.Errorf("parse cached statistics failed (key=%s): %w", key, err)
	}
	return &statistics, true, nil
}

// Set 写入缓存。
func (c *StatisticsCache) Set(ctx context.Context, dbPath string, version int64, statistics *entity.ResultStatistics) error {
	if !c.enabled() || statistics == nil {
		return nil
	}
	payload, err := json.Marshal(statistics)
	if err != nil {
		return fmt.Errorf("encode statistics failed: %w", err)
	}
	key := statisticsKey(dbPath, version, statistics.Setting)
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s failed: %w", key, err)
	}
	return nil
}
