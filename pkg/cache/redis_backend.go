package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"metricsub/pkg/logger"
)

// RedisBackend 基于 Redis 的持久层实现，
// 多实例部署时用作共享的持久层。键统一加前缀与其它业务隔离。
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	log       *logrus.Entry
}

// NewRedisBackend 创建 Redis 持久层
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
		log:       logger.WithComponent("RedisBackend"),
	}
}

// Load 读取键对应的数据。键不存在或连接异常都按未命中处理。
func (rb *RedisBackend) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := rb.client.Get(ctx, rb.keyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			rb.log.WithField("cache_key", key).Warnf("读取 Redis 失败，按未命中处理: %v", err)
		}
		return nil, nil
	}
	return data, nil
}

// Save 写入键对应的数据，不设 Redis 层面的过期时间，
// 数据新鲜度由缓存服务按信封中的采集时间判断
func (rb *RedisBackend) Save(ctx context.Context, key string, data []byte) error {
	if err := rb.client.Set(ctx, rb.keyPrefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("写入 Redis 失败: %w", err)
	}
	return nil
}

// Exists 判断键是否存在
func (rb *RedisBackend) Exists(ctx context.Context, key string) bool {
	n, err := rb.client.Exists(ctx, rb.keyPrefix+key).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Delete 删除键
func (rb *RedisBackend) Delete(ctx context.Context, key string) bool {
	n, err := rb.client.Del(ctx, rb.keyPrefix+key).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// ListKeys 通过 SCAN 枚举所有带前缀的键
func (rb *RedisBackend) ListKeys(ctx context.Context) []string {
	var keys []string

	iter := rb.client.Scan(ctx, 0, rb.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), rb.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		rb.log.Warnf("枚举 Redis 键失败: %v", err)
	}

	return keys
}

var _ Backend = (*RedisBackend)(nil)
