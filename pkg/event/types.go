package event

import (
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	TypeDataCollected Type = "data.collected" // 采集任务完成一次写入
	TypeConfigChanged Type = "config.changed" // 配置被保存
	TypeManualRefresh Type = "refresh.manual" // 用户触发手动刷新
)

// Event 总线上流转的事件。
type Event interface {
	EventType() Type
	OccurredAt() time.Time
}

// ScopedEvent 携带缓存作用域的事件。
// ok 为 false 表示事件不指向某个具体的 (区间, 环境) 键。
type ScopedEvent interface {
	Event
	CacheScope() (rangeID, environment string, ok bool)
}

// DataCollectedEvent 采集任务在一次成功写入缓存后发布
type DataCollectedEvent struct {
	ID           string        `json:"id"`
	DateRange    string        `json:"date_range"`
	Environment  string        `json:"environment"`
	TeamsCount   int           `json:"teams_count"`
	PersonsCount int           `json:"persons_count"`
	Duration     time.Duration `json:"duration"`
	Timestamp    time.Time     `json:"timestamp"`
}

// NewDataCollected 创建采集完成事件
func NewDataCollected(dateRange, environment string, teamsCount, personsCount int, duration time.Duration) *DataCollectedEvent {
	return &DataCollectedEvent{
		ID:           uuid.NewString(),
		DateRange:    dateRange,
		Environment:  environment,
		TeamsCount:   teamsCount,
		PersonsCount: personsCount,
		Duration:     duration,
		Timestamp:    time.Now(),
	}
}

func (e *DataCollectedEvent) EventType() Type       { return TypeDataCollected }
func (e *DataCollectedEvent) OccurredAt() time.Time { return e.Timestamp }

// CacheScope 返回事件对应的缓存作用域
func (e *DataCollectedEvent) CacheScope() (string, string, bool) {
	if e.DateRange == "" {
		return "", "", false
	}
	return e.DateRange, e.Environment, true
}

// ConfigChangedEvent 配置保存处理器在配置变更后发布
type ConfigChangedEvent struct {
	ID                       string    `json:"id"`
	ChangedSections          []string  `json:"changed_sections"`
	RequiresFullInvalidation bool      `json:"requires_full_invalidation"`
	Timestamp                time.Time `json:"timestamp"`
}

// NewConfigChanged 创建配置变更事件
func NewConfigChanged(changedSections []string, requiresFullInvalidation bool) *ConfigChangedEvent {
	return &ConfigChangedEvent{
		ID:                       uuid.NewString(),
		ChangedSections:          changedSections,
		RequiresFullInvalidation: requiresFullInvalidation,
		Timestamp:                time.Now(),
	}
}

func (e *ConfigChangedEvent) EventType() Type       { return TypeConfigChanged }
func (e *ConfigChangedEvent) OccurredAt() time.Time { return e.Timestamp }

// ManualRefreshEvent 手动刷新请求处理器发布。
// Scope 为 "all" 时表示全量刷新，否则刷新 (DateRange, Environment) 对应的键。
type ManualRefreshEvent struct {
	ID          string    `json:"id"`
	Scope       string    `json:"scope"`
	DateRange   string    `json:"date_range"`
	Environment string    `json:"environment"`
	TriggeredBy string    `json:"triggered_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// ScopeAll 全量刷新的作用域
const ScopeAll = "all"

// NewManualRefresh 创建手动刷新事件
func NewManualRefresh(scope, dateRange, environment, triggeredBy string) *ManualRefreshEvent {
	return &ManualRefreshEvent{
		ID:          uuid.NewString(),
		Scope:       scope,
		DateRange:   dateRange,
		Environment: environment,
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now(),
	}
}

func (e *ManualRefreshEvent) EventType() Type       { return TypeManualRefresh }
func (e *ManualRefreshEvent) OccurredAt() time.Time { return e.Timestamp }

// CacheScope 返回事件对应的缓存作用域；全量刷新不指向具体键
func (e *ManualRefreshEvent) CacheScope() (string, string, bool) {
	if e.Scope == ScopeAll || e.DateRange == "" {
		return "", "", false
	}
	return e.DateRange, e.Environment, true
}
