package cache

import (
	"context"
	"sync"
)

// MemoryBackend 基于内存映射的持久层实现，
// 用于测试或不需要落盘的临时部署。
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend 创建内存持久层
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
	}
}

// Load 读取键对应的数据副本
func (mb *MemoryBackend) Load(ctx context.Context, key string) ([]byte, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	data, exists := mb.blobs[key]
	if !exists {
		return nil, nil
	}

	// 返回副本，调用方的修改不会影响存储的数据
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Save 存储键对应数据的副本
func (mb *MemoryBackend) Save(ctx context.Context, key string, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.blobs[key] = stored
	return nil
}

// Exists 判断键是否存在
func (mb *MemoryBackend) Exists(ctx context.Context, key string) bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	_, exists := mb.blobs[key]
	return exists
}

// Delete 删除键
func (mb *MemoryBackend) Delete(ctx context.Context, key string) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, exists := mb.blobs[key]; !exists {
		return false
	}
	delete(mb.blobs, key)
	return true
}

// ListKeys 枚举所有键
func (mb *MemoryBackend) ListKeys(ctx context.Context) []string {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	keys := make([]string, 0, len(mb.blobs))
	for key := range mb.blobs {
		keys = append(keys, key)
	}
	return keys
}

var _ Backend = (*MemoryBackend)(nil)
