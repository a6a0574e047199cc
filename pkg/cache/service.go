package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"metricsub/pkg/logger"
)

// CacheService 持久层之上按 (区间, 环境) 键存取信封的服务。
// 新鲜度按信封中的采集时间判断，而不是文件修改时间。
type CacheService struct {
	backend    Backend
	defaultEnv string
}

// NewCacheService 创建缓存服务。defaultEnv 为空时使用 DefaultEnvironment。
func NewCacheService(backend Backend, defaultEnv string) *CacheService {
	if defaultEnv == "" {
		defaultEnv = DefaultEnvironment
	}
	return &CacheService{
		backend:    backend,
		defaultEnv: defaultEnv,
	}
}

// Backend 返回底层持久层
func (cs *CacheService) Backend() Backend {
	return cs.backend
}

// DefaultEnv 返回默认环境名
func (cs *CacheService) DefaultEnv() string {
	return cs.defaultEnv
}

// Load 读取 (区间, 环境) 对应的信封。
// 未命中返回 (nil, nil)；数据损坏按未命中处理并记警告。
// 默认环境下主键未命中时回落到旧式键。
func (cs *CacheService) Load(ctx context.Context, rangeID, environment string) (*Envelope, error) {
	key := Key(rangeID, environment)

	data, err := cs.backend.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	if data == nil && environment == cs.defaultEnv {
		data, err = cs.backend.Load(ctx, LegacyKey(rangeID))
		if err != nil {
			return nil, err
		}
	}

	if data == nil {
		return nil, nil
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		logger.WithCacheKey("CacheService", key).Warnf("缓存数据损坏，按未命中处理: %v", err)
		return nil, nil
	}

	return &envelope, nil
}

// Save 序列化信封并写入持久层，始终使用带环境后缀的主键
func (cs *CacheService) Save(ctx context.Context, rangeID, environment string, envelope *Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("序列化缓存信封失败: %w", err)
	}

	key := Key(rangeID, environment)
	if err := cs.backend.Save(ctx, key, data); err != nil {
		return NewCacheError(ErrCacheBackend, "save failed").
			WithContext("cache_key", key).
			WithContext("cause", err.Error())
	}

	return nil
}

// Delete 删除 (区间, 环境) 对应的数据，含旧式键
func (cs *CacheService) Delete(ctx context.Context, rangeID, environment string) bool {
	deleted := cs.backend.Delete(ctx, Key(rangeID, environment))
	if environment == cs.defaultEnv {
		if cs.backend.Delete(ctx, LegacyKey(rangeID)) {
			deleted = true
		}
	}
	return deleted
}

// ShouldRefresh 按信封中的采集时间判断数据是否过期。
// 信封为空视为需要刷新。
func (cs *CacheService) ShouldRefresh(envelope *Envelope, ttl time.Duration) bool {
	if envelope == nil {
		return true
	}
	return time.Since(envelope.CollectedAt) > ttl
}

// AvailableRanges 枚举指定环境下已缓存的区间。
// 默认环境同时包含旧式键（不含环境后缀）对应的区间。
func (cs *CacheService) AvailableRanges(ctx context.Context, environment string) []string {
	suffix := "_" + environment
	seen := make(map[string]struct{})

	for _, key := range cs.backend.ListKeys(ctx) {
		switch {
		case strings.HasSuffix(key, suffix):
			seen[strings.TrimSuffix(key, suffix)] = struct{}{}
		case environment == cs.defaultEnv && !strings.Contains(key, "_"):
			seen[key] = struct{}{}
		}
	}

	ranges := make([]string, 0, len(seen))
	for r := range seen {
		ranges = append(ranges, r)
	}
	sort.Strings(ranges)
	return ranges
}
