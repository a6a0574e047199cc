package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"metricsub/pkg/logger"
)

// EnhancedCacheService 在 CacheService 之上增加受字节预算约束的内存层。
// 内存层条目、统计计数和策略簿记都由同一把锁保护，
// 并发请求的淘汰操作不会破坏容量核算。
type EnhancedCacheService struct {
	mu      sync.Mutex
	base    *CacheService
	policy  EvictionPolicy
	entries map[string]*Entry

	maxMemoryBytes int64
	memoryBytes    int64

	memoryHits int64
	diskHits   int64
	misses     int64
	evictions  int64
	sets       int64

	log *logrus.Entry
}

// EnhancedConfig 内存层配置
type EnhancedConfig struct {
	MaxMemoryBytes int64        `json:"max_memory_bytes" mapstructure:"max_memory_bytes"`
	Policy         PolicyConfig `json:"policy" mapstructure:"policy"`
}

// NewEnhancedCacheService 创建带内存层的缓存服务
func NewEnhancedCacheService(base *CacheService, config EnhancedConfig) *EnhancedCacheService {
	return &EnhancedCacheService{
		base:           base,
		policy:         NewEvictionPolicy(config.Policy),
		entries:        make(map[string]*Entry),
		maxMemoryBytes: config.MaxMemoryBytes,
		log:            logger.WithComponent("EnhancedCache"),
	}
}

// Base 返回底层的磁盘缓存服务
func (ec *EnhancedCacheService) Base() *CacheService {
	return ec.base
}

// Get 读取 (区间, 环境) 对应的信封。
// 先查内存层，未命中再回落到持久层并将结果提升进内存层。
func (ec *EnhancedCacheService) Get(ctx context.Context, rangeID, environment string) (*Envelope, error) {
	key := Key(rangeID, environment)

	ec.mu.Lock()
	if entry, exists := ec.entries[key]; exists {
		entry.AccessTime = time.Now()
		ec.policy.OnAccess(key, entry)
		data := entry.Value
		ec.mu.Unlock()

		var envelope Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			// 内存副本损坏不应出现，出现时按未命中回落到持久层，
			// 该次请求只计入持久层侧的统计
			logger.WithCacheKey("EnhancedCache", key).Warnf("内存条目反序列化失败: %v", err)
		} else {
			ec.mu.Lock()
			ec.memoryHits++
			ec.mu.Unlock()
			return &envelope, nil
		}
	} else {
		ec.mu.Unlock()
	}

	envelope, err := ec.base.Load(ctx, rangeID, environment)
	if err != nil {
		return nil, err
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if envelope == nil {
		ec.misses++
		return nil, nil
	}

	if data, err := json.Marshal(envelope); err == nil {
		ec.insertLocked(key, data)
	}
	ec.diskHits++
	return envelope, nil
}

// Set 写入 (区间, 环境) 对应的信封。
// 先写持久层保证持久性，再插入内存层并按需淘汰。
func (ec *EnhancedCacheService) Set(ctx context.Context, rangeID, environment string, envelope *Envelope) error {
	if err := ec.base.Save(ctx, rangeID, environment, envelope); err != nil {
		return err
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("序列化缓存信封失败: %w", err)
	}

	key := Key(rangeID, environment)

	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.insertLocked(key, data)
	ec.sets++
	return nil
}

// insertLocked 插入条目并执行淘汰循环，调用方必须持锁。
// 超出预算时逐个淘汰策略给出的目标；策略给不出目标时仍然插入，
// 宁可暂时超出预算也不丢弃新写入的数据。
func (ec *EnhancedCacheService) insertLocked(key string, data []byte) {
	if existing, exists := ec.entries[key]; exists {
		ec.removeLocked(key, existing)
	}

	size := int64(len(data))
	for ec.memoryBytes+size > ec.maxMemoryBytes {
		victim, ok := ec.policy.SelectVictim(ec.entries)
		if !ok {
			break
		}
		entry, exists := ec.entries[victim]
		if !exists {
			break
		}
		ec.removeLocked(victim, entry)
		ec.evictions++
		logger.WithCacheKey("EnhancedCache", victim).Debugf("内存层淘汰条目")
	}

	now := time.Now()
	entry := &Entry{
		Value:      data,
		Size:       size,
		CreateTime: now,
		AccessTime: now,
	}
	ec.entries[key] = entry
	ec.memoryBytes += size
	ec.policy.OnAdd(key, entry)
}

// removeLocked 从内存层移除条目，调用方必须持锁
func (ec *EnhancedCacheService) removeLocked(key string, entry *Entry) {
	ec.policy.OnRemove(key, entry)
	delete(ec.entries, key)
	ec.memoryBytes -= entry.Size
}

// KeyPair 一个 (区间, 环境) 键对
type KeyPair struct {
	RangeID     string `json:"range"`
	Environment string `json:"environment"`
}

// Warm 启动时预热：对每个键执行一次 Get，把持久层数据提前装入内存层。
// 返回实际装入的条目数，预热同样受容量与淘汰规则约束。
func (ec *EnhancedCacheService) Warm(ctx context.Context, pairs []KeyPair) int {
	warmed := 0
	for _, pair := range pairs {
		envelope, err := ec.Get(ctx, pair.RangeID, pair.Environment)
		if err != nil {
			ec.log.Warnf("预热 %s/%s 失败: %v", pair.RangeID, pair.Environment, err)
			continue
		}
		if envelope != nil {
			warmed++
		}
	}
	ec.log.Infof("缓存预热完成: %d/%d", warmed, len(pairs))
	return warmed
}

// Stats 返回统计信息的只读快照
func (ec *EnhancedCacheService) Stats() Stats {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := Stats{
		MemoryHits:      ec.memoryHits,
		DiskHits:        ec.diskHits,
		Misses:          ec.misses,
		Evictions:       ec.evictions,
		Sets:            ec.sets,
		MemorySizeBytes: ec.memoryBytes,
		MaxMemoryBytes:  ec.maxMemoryBytes,
		EntryCount:      int64(len(ec.entries)),
	}

	if total := stats.MemoryHits + stats.DiskHits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.MemoryHits+stats.DiskHits) / float64(total)
		stats.MemoryHitRate = float64(stats.MemoryHits) / float64(total)
	}
	if stats.MaxMemoryBytes > 0 {
		stats.MemoryUtilization = float64(stats.MemorySizeBytes) / float64(stats.MaxMemoryBytes)
	}

	return stats
}

// Clear 清空缓存。
// ClearMemory 只清内存层，统计和持久层不受影响；
// ClearAll 同时删除持久层中所有已知键的数据。
func (ec *EnhancedCacheService) Clear(ctx context.Context, scope ClearScope) error {
	switch scope {
	case ClearMemory, ClearAll:
	default:
		return NewCacheError(ErrCacheScope, "unsupported clear scope").WithContext("scope", string(scope))
	}

	ec.mu.Lock()
	for key, entry := range ec.entries {
		ec.policy.OnRemove(key, entry)
	}
	ec.entries = make(map[string]*Entry)
	ec.memoryBytes = 0
	ec.mu.Unlock()

	if scope == ClearAll {
		for _, key := range ec.base.Backend().ListKeys(ctx) {
			ec.base.Backend().Delete(ctx, key)
		}
	}

	ec.log.Infof("缓存已清空: scope=%s", scope)
	return nil
}

// Keys 返回当前已知的全部键：持久层键与内存层键的并集
func (ec *EnhancedCacheService) Keys(ctx context.Context) []string {
	seen := make(map[string]struct{})
	for _, key := range ec.base.Backend().ListKeys(ctx) {
		seen[key] = struct{}{}
	}

	ec.mu.Lock()
	for key := range ec.entries {
		seen[key] = struct{}{}
	}
	ec.mu.Unlock()

	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	return keys
}
