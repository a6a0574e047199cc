package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Backend 定义了持久层（磁盘/内存/Redis）的契约。
// 所有实现都以不透明的字节块为单位存取，键对后端是黑盒字符串。
type Backend interface {
	// Load 读取一个键对应的数据。未命中、文件损坏等可恢复情况返回 (nil, nil)。
	Load(ctx context.Context, key string) ([]byte, error)
	// Save 写入一个键对应的数据。
	Save(ctx context.Context, key string, data []byte) error
	// Exists 判断键是否存在。
	Exists(ctx context.Context, key string) bool
	// Delete 删除一个键，返回是否实际删除了数据。
	Delete(ctx context.Context, key string) bool
	// ListKeys 枚举当前持久层中的所有键。
	ListKeys(ctx context.Context) []string
}

// Envelope 缓存载荷的不透明信封。
// 缓存层只关心 CollectedAt（按龄判断过期）和序列化后的字节大小，
// Data 的内部结构由采集方和报表方约定，缓存从不解析。
type Envelope struct {
	Version     int             `json:"version"`
	CollectedAt time.Time       `json:"collected_at"`
	Data        json.RawMessage `json:"data"`
}

// NewEnvelope 创建一个以当前时间为采集时间的信封
func NewEnvelope(data json.RawMessage) *Envelope {
	return &Envelope{
		Version:     1,
		CollectedAt: time.Now(),
		Data:        data,
	}
}

// Entry 内存层中的一个缓存条目。
// 条目持有自己独立的字节副本，插入后与持久层的副本互不影响。
type Entry struct {
	Value      []byte    // 序列化后的信封字节
	Size       int64     // 字节大小估算
	CreateTime time.Time // 创建时间
	AccessTime time.Time // 最后访问时间
}

// Stats 缓存统计信息的只读快照。
type Stats struct {
	MemoryHits        int64   `json:"memory_hits"`        // 内存层命中次数
	DiskHits          int64   `json:"disk_hits"`          // 持久层命中次数
	Misses            int64   `json:"misses"`             // 两层皆未命中次数
	Evictions         int64   `json:"evictions"`          // 淘汰次数
	Sets              int64   `json:"sets"`               // 写入次数
	HitRate           float64 `json:"hit_rate"`           // 总命中率
	MemoryHitRate     float64 `json:"memory_hit_rate"`    // 内存层命中率
	MemorySizeBytes   int64   `json:"memory_size_bytes"`  // 内存层当前占用字节
	MaxMemoryBytes    int64   `json:"max_memory_bytes"`   // 内存层字节预算
	MemoryUtilization float64 `json:"memory_utilization"` // 内存层占用率
	EntryCount        int64   `json:"entry_count"`        // 内存层条目数
}

// ClearScope Clear 操作的作用范围
type ClearScope string

const (
	ClearMemory ClearScope = "memory" // 仅清空内存层
	ClearAll    ClearScope = "all"    // 同时删除持久层数据
)
