package container

import (
	"fmt"
	"strings"
	"sync"

	apperr "metricsub/pkg/error"
)

const (
	// ErrServiceNotFound 请求了未注册的服务名，属于装配错误，立即失败。
	ErrServiceNotFound apperr.ErrorCode = "SERVICE_NOT_FOUND"
	// ErrCircularDependency 检测到循环依赖，错误信息包含完整的解析路径。
	ErrCircularDependency apperr.ErrorCode = "CIRCULAR_DEPENDENCY"
	// ErrFactoryFailed 工厂函数执行失败。
	ErrFactoryFailed apperr.ErrorCode = "FACTORY_FAILED"
)

// Lifetime 服务生命周期
type Lifetime string

const (
	Singleton Lifetime = "singleton" // 首次解析时构造，进程内复用
	Transient Lifetime = "transient" // 每次解析都重新构造
)

// Resolver 工厂函数内解析依赖的视图。
// 嵌套的 Get 与外层解析共享同一个解析栈，循环依赖由此被发现。
type Resolver interface {
	Get(name string) (interface{}, error)
}

// Factory 服务工厂，可通过传入的 Resolver 解析自己的依赖
type Factory func(r Resolver) (interface{}, error)

// registration 一条服务注册
type registration struct {
	name     string
	lifetime Lifetime
	factory  Factory
}

// Container 按名字解析工厂的依赖注入容器。
// 注册在启动装配阶段完成；单例在首次 Get 时惰性构造并缓存。
// 顶层 Get 之间互相串行，解析栈只在单次顶层解析内存在，
// 解析开始前和结束后必然为空。
type Container struct {
	mu        sync.Mutex // 保护注册表和单例表
	resolveMu sync.Mutex // 串行化顶层解析

	registrations map[string]*registration
	singletons    map[string]interface{}
}

// New 创建容器
func New() *Container {
	return &Container{
		registrations: make(map[string]*registration),
		singletons:    make(map[string]interface{}),
	}
}

// Register 注册一个服务工厂，不会立即调用工厂
func (c *Container) Register(name string, lifetime Lifetime, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registrations[name] = &registration{
		name:     name,
		lifetime: lifetime,
		factory:  factory,
	}
}

// Override 用固定实例强制替换注册，之后的 Get 不再经过工厂。
// 主要用于测试。
func (c *Container) Override(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registrations[name] = &registration{
		name:     name,
		lifetime: Singleton,
	}
	c.singletons[name] = instance
}

// Get 解析一个服务实例
func (c *Container) Get(name string) (interface{}, error) {
	// 已缓存的单例不需要进入解析流程
	c.mu.Lock()
	if instance, exists := c.singletons[name]; exists {
		c.mu.Unlock()
		return instance, nil
	}
	c.mu.Unlock()

	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	res := &resolution{container: c}
	return res.Get(name)
}

// MustGet 解析失败时 panic，用于启动装配阶段
func (c *Container) MustGet(name string) interface{} {
	instance, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("容器解析 %q 失败: %v", name, err))
	}
	return instance
}

// Registered 判断服务名是否已注册
func (c *Container) Registered(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, exists := c.registrations[name]
	return exists
}

// resolution 单次顶层解析的状态，持有循环检测用的解析栈
type resolution struct {
	container *Container
	stack     []string
}

// Get 实现 Resolver，供工厂函数解析嵌套依赖
func (r *resolution) Get(name string) (interface{}, error) {
	c := r.container

	c.mu.Lock()
	if instance, exists := c.singletons[name]; exists {
		c.mu.Unlock()
		return instance, nil
	}
	reg, registered := c.registrations[name]
	c.mu.Unlock()

	if !registered {
		return nil, apperr.NewError(ErrServiceNotFound, fmt.Sprintf("service %q is not registered", name))
	}

	for _, active := range r.stack {
		if active == name {
			path := strings.Join(append(append([]string{}, r.stack...), name), " -> ")
			return nil, apperr.NewError(ErrCircularDependency, fmt.Sprintf("circular dependency detected: %s", path))
		}
	}

	r.stack = append(r.stack, name)
	instance, err := reg.factory(r)
	r.stack = r.stack[:len(r.stack)-1]

	if err != nil {
		// 装配类错误（循环依赖、未注册）原样上抛，保留最内层的完整路径
		if base, ok := err.(*apperr.BaseError); ok &&
			(base.Code == ErrCircularDependency || base.Code == ErrServiceNotFound) {
			return nil, err
		}
		return nil, apperr.WrapError(err, ErrFactoryFailed, fmt.Sprintf("factory for %q failed", name))
	}

	if reg.lifetime == Singleton {
		c.mu.Lock()
		// 并发解析同名单例时保留先到者
		if existing, exists := c.singletons[name]; exists {
			instance = existing
		} else {
			c.singletons[name] = instance
		}
		c.mu.Unlock()
	}

	return instance, nil
}
