package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEnvelope 采集时间固定的信封，序列化后的大小只取决于载荷长度
func fixedEnvelope(payload string) *Envelope {
	return &Envelope{
		Version:     1,
		CollectedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:        json.RawMessage(payload),
	}
}

// envelopeSize 固定信封序列化后的字节大小
func envelopeSize(t *testing.T, payload string) int64 {
	t.Helper()
	data, err := json.Marshal(fixedEnvelope(payload))
	require.NoError(t, err)
	return int64(len(data))
}

func newEnhanced(maxBytes int64, policy PolicyConfig) *EnhancedCacheService {
	base := NewCacheService(NewMemoryBackend(), "prod")
	return NewEnhancedCacheService(base, EnhancedConfig{
		MaxMemoryBytes: maxBytes,
		Policy:         policy,
	})
}

func TestEnhancedCache_LRUEviction(t *testing.T) {
	size := envelopeSize(t, `{"id":"a"}`)
	// 预算容得下三个条目，第四个触发淘汰
	svc := newEnhanced(3*size+size/2, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	// 按 a, b, c 的顺序写入（写入即访问）
	for _, r := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Set(ctx, r, "prod", fixedEnvelope(`{"id":"`+r+`"}`)))
		time.Sleep(2 * time.Millisecond)
	}

	// 写入 d 时应淘汰最久未访问的 a
	require.NoError(t, svc.Set(ctx, "d", "prod", fixedEnvelope(`{"id":"d"}`)))

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(3), stats.EntryCount)
	assert.LessOrEqual(t, stats.MemorySizeBytes, stats.MaxMemoryBytes)

	svc.mu.Lock()
	_, aInMemory := svc.entries[Key("a", "prod")]
	_, bInMemory := svc.entries[Key("b", "prod")]
	_, dInMemory := svc.entries[Key("d", "prod")]
	svc.mu.Unlock()
	assert.False(t, aInMemory)
	assert.True(t, bInMemory)
	assert.True(t, dInMemory)

	// 被淘汰的条目仍可从持久层读回
	envelope, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	require.NotNil(t, envelope)
	assert.JSONEq(t, `{"id":"a"}`, string(envelope.Data))
}

func TestEnhancedCache_LRUAccessRefreshesRecency(t *testing.T) {
	size := envelopeSize(t, `{"id":"a"}`)
	svc := newEnhanced(3*size+size/2, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	for _, r := range []string{"a", "b", "c"} {
		require.NoError(t, svc.Set(ctx, r, "prod", fixedEnvelope(`{"id":"`+r+`"}`)))
		time.Sleep(2 * time.Millisecond)
	}

	// 访问 a 之后，最久未访问的变成 b
	_, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	require.NoError(t, svc.Set(ctx, "d", "prod", fixedEnvelope(`{"id":"d"}`)))

	svc.mu.Lock()
	_, aInMemory := svc.entries[Key("a", "prod")]
	_, bInMemory := svc.entries[Key("b", "prod")]
	svc.mu.Unlock()
	assert.True(t, aInMemory)
	assert.False(t, bInMemory)
}

func TestEnhancedCache_TTLEviction(t *testing.T) {
	size := envelopeSize(t, `{"id":"a"}`)
	svc := newEnhanced(size+size/2, PolicyConfig{Type: PolicyTTL, TTL: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))
	time.Sleep(80 * time.Millisecond)

	// a 已超过存活时间，写入 b 超出预算时被淘汰
	require.NoError(t, svc.Set(ctx, "b", "prod", fixedEnvelope(`{"id":"b"}`)))

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.EntryCount)

	// b 尚未过期，写入 c 时没有可淘汰的条目，仍然插入并允许暂时超出预算
	require.NoError(t, svc.Set(ctx, "c", "prod", fixedEnvelope(`{"id":"c"}`)))

	stats = svc.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.EntryCount)
	assert.Greater(t, stats.MemorySizeBytes, stats.MaxMemoryBytes)
}

func TestEnhancedCache_StatsArithmetic(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))
	require.NoError(t, svc.Set(ctx, "b", "prod", fixedEnvelope(`{"id":"b"}`)))

	// 清空内存层制造持久层命中
	require.NoError(t, svc.Clear(ctx, ClearMemory))

	// 2 次持久层命中
	for _, r := range []string{"a", "b"} {
		envelope, err := svc.Get(ctx, r, "prod")
		require.NoError(t, err)
		require.NotNil(t, envelope)
	}

	// 3 次内存层命中
	for i := 0; i < 3; i++ {
		envelope, err := svc.Get(ctx, "a", "prod")
		require.NoError(t, err)
		require.NotNil(t, envelope)
	}

	// 1 次未命中
	envelope, err := svc.Get(ctx, "missing", "prod")
	require.NoError(t, err)
	assert.Nil(t, envelope)

	stats := svc.Stats()
	assert.Equal(t, int64(3), stats.MemoryHits)
	assert.Equal(t, int64(2), stats.DiskHits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.InDelta(t, 5.0/6.0, stats.HitRate, 1e-9)
	assert.InDelta(t, 3.0/6.0, stats.MemoryHitRate, 1e-9)
}

func TestEnhancedCache_CorruptMemoryEntryCountsOnce(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))

	// 直接破坏内存副本，持久层数据保持完好
	svc.mu.Lock()
	svc.entries[Key("a", "prod")].Value = []byte("{corrupt")
	svc.mu.Unlock()

	envelope, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	require.NotNil(t, envelope)
	assert.JSONEq(t, `{"id":"a"}`, string(envelope.Data))

	// 回落到持久层的请求只计一次命中
	stats := svc.Stats()
	assert.Equal(t, int64(0), stats.MemoryHits)
	assert.Equal(t, int64(1), stats.DiskHits)

	// 回源同时修复了内存副本，之后恢复内存层命中
	_, err = svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.Stats().MemoryHits)
}

func TestEnhancedCache_SetOverwritesExistingEntry(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"v":1}`)))
	before := svc.Stats()
	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"v":2}`)))
	after := svc.Stats()

	// 覆盖写不增加条目数，字节核算保持一致
	assert.Equal(t, int64(1), after.EntryCount)
	assert.Equal(t, before.MemorySizeBytes, after.MemorySizeBytes)

	envelope, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(envelope.Data))
}

func TestEnhancedCache_GetPromotesDiskEntry(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	// 直接写入持久层，绕过内存层
	require.NoError(t, svc.Base().Save(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))

	// 第一次读取命中持久层并提升进内存层
	_, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.Stats().DiskHits)

	// 第二次读取命中内存层
	_, err = svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	assert.Equal(t, int64(1), svc.Stats().MemoryHits)
}

func TestEnhancedCache_Warm(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Base().Save(ctx, "90d", "prod", fixedEnvelope(`{"id":"x"}`)))
	require.NoError(t, svc.Base().Save(ctx, "30d", "prod", fixedEnvelope(`{"id":"y"}`)))

	warmed := svc.Warm(ctx, []KeyPair{
		{RangeID: "90d", Environment: "prod"},
		{RangeID: "30d", Environment: "prod"},
		{RangeID: "7d", Environment: "prod"}, // 持久层没有
	})

	assert.Equal(t, 2, warmed)
	assert.Equal(t, int64(2), svc.Stats().EntryCount)
}

func TestEnhancedCache_Clear(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))

	// 仅清内存层：持久层数据还在
	require.NoError(t, svc.Clear(ctx, ClearMemory))
	assert.Equal(t, int64(0), svc.Stats().EntryCount)
	assert.Equal(t, int64(0), svc.Stats().MemorySizeBytes)

	envelope, err := svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	require.NotNil(t, envelope)

	// 全量清空：持久层一并删除
	require.NoError(t, svc.Clear(ctx, ClearAll))
	envelope, err = svc.Get(ctx, "a", "prod")
	require.NoError(t, err)
	assert.Nil(t, envelope)

	// 非法作用域报错
	err = svc.Clear(ctx, ClearScope("bogus"))
	assert.Error(t, err)
}

func TestEnhancedCache_Keys(t *testing.T) {
	svc := newEnhanced(1<<20, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "a", "prod", fixedEnvelope(`{"id":"a"}`)))
	require.NoError(t, svc.Base().Backend().Save(ctx, "orphan", []byte(`{}`)))

	assert.ElementsMatch(t, []string{"a_prod", "orphan"}, svc.Keys(ctx))
}

func TestEnhancedCache_ConcurrentAccess(t *testing.T) {
	size := envelopeSize(t, `{"id":"0"}`)
	svc := newEnhanced(4*size, PolicyConfig{Type: PolicyLRU})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r := fmt.Sprintf("%d", (g+i)%10)
				if i%2 == 0 {
					_ = svc.Set(ctx, r, "prod", fixedEnvelope(`{"id":"`+r+`"}`))
				} else {
					_, _ = svc.Get(ctx, r, "prod")
				}
			}
		}(g)
	}
	wg.Wait()

	// 并发之后字节核算仍然自洽，且不超出预算（LRU 总能给出淘汰目标）
	stats := svc.Stats()
	assert.LessOrEqual(t, stats.MemorySizeBytes, stats.MaxMemoryBytes)

	svc.mu.Lock()
	var total int64
	for _, entry := range svc.entries {
		total += entry.Size
	}
	assert.Equal(t, total, svc.memoryBytes)
	svc.mu.Unlock()
}
