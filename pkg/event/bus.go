package event

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"metricsub/pkg/logger"
)

// Handler 事件处理器。返回的错误只记录日志，不会传播给发布方。
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc 函数形式的事件处理器
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// subscription 一次订阅
type subscription struct {
	id      string
	handler Handler
}

// Bus 进程内同步发布/订阅总线。
// Publish 在发布方的调用栈上按注册顺序依次执行处理器，
// 单个处理器的错误或 panic 被捕获记录，不影响其余处理器。
// 实例在启动时构造一次并通过容器注入，不提供包级全局状态。
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]subscription
	log      *logrus.Entry
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscription),
		log:      logger.WithComponent("EventBus"),
	}
}

// Subscribe 注册一个处理器，返回用于退订的订阅ID
func (b *Bus) Subscribe(eventType Type, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.handlers[eventType] = append(b.handlers[eventType], subscription{
		id:      id,
		handler: handler,
	})
	return id
}

// Unsubscribe 按订阅ID退订，未知ID是无害的空操作
func (b *Bus) Unsubscribe(eventType Type, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish 同步分发事件。
// 处理器必须足够快（只做集合/映射修改），慢处理器会阻塞发布方。
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers[ev.EventType()]))
	copy(subs, b.handlers[ev.EventType()])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatch(ctx, ev, sub)
	}
}

// dispatch 执行单个处理器，隔离其错误和 panic
func (b *Bus) dispatch(ctx context.Context, ev Event, sub subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithFields(logrus.Fields{
				"event_type":   ev.EventType(),
				"subscription": sub.id,
			}).Errorf("事件处理器 panic: %v", r)
		}
	}()

	if err := sub.handler.Handle(ctx, ev); err != nil {
		b.log.WithFields(logrus.Fields{
			"event_type":   ev.EventType(),
			"subscription": sub.id,
		}).Warnf("事件处理器返回错误: %v", err)
	}
}

// SubscriberCount 当前某类型的处理器数量
func (b *Bus) SubscriberCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
