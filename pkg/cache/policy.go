package cache

import (
	"time"
)

// PolicyType 淘汰策略类型
type PolicyType string

const (
	PolicyLRU  PolicyType = "lru"  // Least Recently Used
	PolicyTTL  PolicyType = "ttl"  // 按条目存活时间淘汰
	PolicyFIFO PolicyType = "fifo" // First In First Out
)

// EvictionPolicy 内存层的淘汰策略。
// SelectVictim 仅在内存层超出字节预算时被调用，返回 false 表示
// 当前没有可淘汰的条目（比如 TTL 策略下没有条目过期）。
// 调用方持有内存层的锁，回调实现不得再进入缓存服务。
type EvictionPolicy interface {
	SelectVictim(entries map[string]*Entry) (string, bool)
	OnAccess(key string, entry *Entry)
	OnAdd(key string, entry *Entry)
	OnRemove(key string, entry *Entry)
}

// PolicyConfig 策略配置
type PolicyConfig struct {
	Type PolicyType    `json:"type" mapstructure:"type"`
	TTL  time.Duration `json:"ttl" mapstructure:"ttl"` // ttl 策略的条目存活时间
}

// NewEvictionPolicy 创建淘汰策略
func NewEvictionPolicy(config PolicyConfig) EvictionPolicy {
	switch config.Type {
	case PolicyTTL:
		return NewTTLPolicy(config.TTL)
	case PolicyFIFO:
		return NewFIFOPolicy()
	default:
		return NewLRUPolicy()
	}
}

// LRUPolicy 淘汰最久未访问的条目。
// 访问时间相同的条目按插入顺序淘汰，先插入的先被淘汰。
type LRUPolicy struct {
	seq   int64
	order map[string]int64 // 键的插入序号
}

// NewLRUPolicy 创建LRU策略
func NewLRUPolicy() *LRUPolicy {
	return &LRUPolicy{
		order: make(map[string]int64),
	}
}

// SelectVictim 返回 AccessTime 最小的键
func (lru *LRUPolicy) SelectVictim(entries map[string]*Entry) (string, bool) {
	var victim string
	var victimTime time.Time
	var victimSeq int64

	for key, entry := range entries {
		seq := lru.order[key]
		if victim == "" ||
			entry.AccessTime.Before(victimTime) ||
			(entry.AccessTime.Equal(victimTime) && seq < victimSeq) {
			victim = key
			victimTime = entry.AccessTime
			victimSeq = seq
		}
	}

	if victim == "" {
		return "", false
	}
	return victim, true
}

// OnAccess 访问时的回调，访问时间由缓存服务更新
func (lru *LRUPolicy) OnAccess(key string, entry *Entry) {}

// OnAdd 添加时的回调，记录插入序号
func (lru *LRUPolicy) OnAdd(key string, entry *Entry) {
	lru.seq++
	lru.order[key] = lru.seq
}

// OnRemove 移除时的回调
func (lru *LRUPolicy) OnRemove(key string, entry *Entry) {
	delete(lru.order, key)
}

// TTLPolicy 只淘汰超过存活时间的条目，最老的先被淘汰。
// 没有条目过期时不产生淘汰目标，即使内存层超出预算。
type TTLPolicy struct {
	ttl time.Duration
}

// NewTTLPolicy 创建TTL策略
func NewTTLPolicy(ttl time.Duration) *TTLPolicy {
	return &TTLPolicy{ttl: ttl}
}

// SelectVictim 返回已过期条目中创建时间最早的键
func (tp *TTLPolicy) SelectVictim(entries map[string]*Entry) (string, bool) {
	now := time.Now()
	var victim string
	var victimTime time.Time

	for key, entry := range entries {
		if now.Sub(entry.CreateTime) <= tp.ttl {
			continue
		}
		if victim == "" || entry.CreateTime.Before(victimTime) {
			victim = key
			victimTime = entry.CreateTime
		}
	}

	if victim == "" {
		return "", false
	}
	return victim, true
}

// OnAccess 访问时的回调（TTL策略不关心访问）
func (tp *TTLPolicy) OnAccess(key string, entry *Entry) {}

// OnAdd 添加时的回调
func (tp *TTLPolicy) OnAdd(key string, entry *Entry) {}

// OnRemove 移除时的回调
func (tp *TTLPolicy) OnRemove(key string, entry *Entry) {}

// FIFOPolicy 淘汰最早插入的条目，不受访问影响。
type FIFOPolicy struct {
	seq   int64
	order map[string]int64
}

// NewFIFOPolicy 创建FIFO策略
func NewFIFOPolicy() *FIFOPolicy {
	return &FIFOPolicy{
		order: make(map[string]int64),
	}
}

// SelectVictim 返回插入序号最小的键
func (fifo *FIFOPolicy) SelectVictim(entries map[string]*Entry) (string, bool) {
	var victim string
	var victimSeq int64 = -1

	for key := range entries {
		seq := fifo.order[key]
		if victimSeq == -1 || seq < victimSeq {
			victim = key
			victimSeq = seq
		}
	}

	if victim == "" {
		return "", false
	}
	return victim, true
}

// OnAccess 访问时的回调（FIFO策略不关心访问）
func (fifo *FIFOPolicy) OnAccess(key string, entry *Entry) {}

// OnAdd 添加时的回调，记录插入序号
func (fifo *FIFOPolicy) OnAdd(key string, entry *Entry) {
	fifo.seq++
	fifo.order[key] = fifo.seq
}

// OnRemove 移除时的回调
func (fifo *FIFOPolicy) OnRemove(key string, entry *Entry) {
	delete(fifo.order, key)
}
