package cache

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"metricsub/pkg/event"
	"metricsub/pkg/logger"
)

// EventDrivenCacheService 订阅采集/配置/刷新事件并立即把相应的键
// 标记为失效，不依赖 TTL 到期。被标记的键在下一次 Load 时强制表现为
// 未命中，提示调用方重新计算并写回。失效标记是一次性的：被一次 Load
// 消费后即清除，之后恢复正常缓存语义。
type EventDrivenCacheService struct {
	enhanced *EnhancedCacheService
	bus      *event.Bus

	mu          sync.Mutex
	invalidated map[string]struct{}

	subIDs map[event.Type]string
	log    *logrus.Entry
}

// NewEventDrivenCacheService 创建失效包装并注册三类事件的订阅
func NewEventDrivenCacheService(enhanced *EnhancedCacheService, bus *event.Bus) *EventDrivenCacheService {
	ed := &EventDrivenCacheService{
		enhanced:    enhanced,
		bus:         bus,
		invalidated: make(map[string]struct{}),
		subIDs:      make(map[event.Type]string),
		log:         logger.WithComponent("EventDrivenCache"),
	}

	ed.subIDs[event.TypeDataCollected] = bus.Subscribe(event.TypeDataCollected, event.HandlerFunc(ed.onDataCollected))
	ed.subIDs[event.TypeConfigChanged] = bus.Subscribe(event.TypeConfigChanged, event.HandlerFunc(ed.onConfigChanged))
	ed.subIDs[event.TypeManualRefresh] = bus.Subscribe(event.TypeManualRefresh, event.HandlerFunc(ed.onManualRefresh))

	return ed
}

// Close 退订全部事件
func (ed *EventDrivenCacheService) Close() error {
	for eventType, id := range ed.subIDs {
		ed.bus.Unsubscribe(eventType, id)
	}
	return nil
}

// Enhanced 返回被包装的缓存服务
func (ed *EventDrivenCacheService) Enhanced() *EnhancedCacheService {
	return ed.enhanced
}

// Load 读取 (区间, 环境) 对应的信封。
// forceReload 或键已被标记失效时，清除标记并无条件返回未命中，
// 即使持久层里还有按龄看起来新鲜的数据，以此提示调用方重新采集。
func (ed *EventDrivenCacheService) Load(ctx context.Context, rangeID, environment string, forceReload bool) (*Envelope, error) {
	key := Key(rangeID, environment)

	ed.mu.Lock()
	_, invalid := ed.invalidated[key]
	if invalid {
		delete(ed.invalidated, key)
	}
	ed.mu.Unlock()

	if forceReload || invalid {
		logger.WithCacheKey("EventDrivenCache", key).Debugf("键已失效，返回强制未命中")
		return nil, nil
	}

	return ed.enhanced.Get(ctx, rangeID, environment)
}

// Save 写入并透传到内层缓存
func (ed *EventDrivenCacheService) Save(ctx context.Context, rangeID, environment string, envelope *Envelope) error {
	return ed.enhanced.Set(ctx, rangeID, environment, envelope)
}

// Invalidate 把单个键标记为失效。
// 指向从未采集过的键是无害的空操作：标记会被下一次 Load 清除，
// 该次 Load 正常表现为未命中。
func (ed *EventDrivenCacheService) Invalidate(key string) {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	ed.invalidated[key] = struct{}{}
}

// InvalidateAll 把当前所有已知键（持久层 ∪ 内存层）标记为失效
func (ed *EventDrivenCacheService) InvalidateAll(ctx context.Context) int {
	keys := ed.enhanced.Keys(ctx)

	ed.mu.Lock()
	defer ed.mu.Unlock()
	for _, key := range keys {
		ed.invalidated[key] = struct{}{}
	}
	return len(keys)
}

// InvalidatedCount 当前被标记失效的键数量
func (ed *EventDrivenCacheService) InvalidatedCount() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return len(ed.invalidated)
}

// onDataCollected 采集完成后失效对应的键
func (ed *EventDrivenCacheService) onDataCollected(ctx context.Context, ev event.Event) error {
	e, ok := ev.(*event.DataCollectedEvent)
	if !ok {
		return nil
	}

	if rangeID, environment, ok := e.CacheScope(); ok {
		key := Key(rangeID, environment)
		ed.Invalidate(key)
		logger.WithCacheKey("EventDrivenCache", key).Infof("采集完成，键已标记失效")
	}
	return nil
}

// onConfigChanged 需要全量失效的配置变更会失效所有已知键
func (ed *EventDrivenCacheService) onConfigChanged(ctx context.Context, ev event.Event) error {
	e, ok := ev.(*event.ConfigChangedEvent)
	if !ok {
		return nil
	}

	if e.RequiresFullInvalidation {
		n := ed.InvalidateAll(ctx)
		ed.log.Infof("配置变更触发全量失效: %d 个键", n)
	}
	return nil
}

// onManualRefresh 手动刷新按作用域失效
func (ed *EventDrivenCacheService) onManualRefresh(ctx context.Context, ev event.Event) error {
	e, ok := ev.(*event.ManualRefreshEvent)
	if !ok {
		return nil
	}

	if e.Scope == event.ScopeAll {
		n := ed.InvalidateAll(ctx)
		ed.log.WithField("triggered_by", e.TriggeredBy).Infof("手动全量刷新: %d 个键", n)
		return nil
	}

	if rangeID, environment, ok := e.CacheScope(); ok {
		key := Key(rangeID, environment)
		ed.Invalidate(key)
		logger.WithCacheKey("EventDrivenCache", key).
			WithField("triggered_by", e.TriggeredBy).
			Infof("手动刷新，键已标记失效")
	}
	return nil
}
