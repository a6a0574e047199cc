package container

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "metricsub/pkg/error"
)

func TestContainer_SingletonConstructedOnce(t *testing.T) {
	c := New()
	var constructed int

	c.Register("service", Singleton, func(r Resolver) (interface{}, error) {
		constructed++
		return fmt.Sprintf("instance-%d", constructed), nil
	})

	for i := 0; i < 5; i++ {
		instance, err := c.Get("service")
		require.NoError(t, err)
		assert.Equal(t, "instance-1", instance)
	}
	assert.Equal(t, 1, constructed)
}

func TestContainer_TransientConstructedEveryTime(t *testing.T) {
	c := New()
	var constructed int

	c.Register("service", Transient, func(r Resolver) (interface{}, error) {
		constructed++
		return constructed, nil
	})

	first, err := c.Get("service")
	require.NoError(t, err)
	second, err := c.Get("service")
	require.NoError(t, err)

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 2, constructed)
}

func TestContainer_NestedDependencies(t *testing.T) {
	c := New()

	c.Register("config", Singleton, func(r Resolver) (interface{}, error) {
		return "cfg", nil
	})
	c.Register("service", Singleton, func(r Resolver) (interface{}, error) {
		cfg, err := r.Get("config")
		if err != nil {
			return nil, err
		}
		return "service-with-" + cfg.(string), nil
	})

	instance, err := c.Get("service")
	require.NoError(t, err)
	assert.Equal(t, "service-with-cfg", instance)
}

func TestContainer_ServiceNotFound(t *testing.T) {
	c := New()

	_, err := c.Get("missing")
	require.Error(t, err)

	base, ok := err.(*apperr.BaseError)
	require.True(t, ok)
	assert.Equal(t, ErrServiceNotFound, base.Code)
}

func TestContainer_CircularDependency(t *testing.T) {
	c := New()

	c.Register("a", Singleton, func(r Resolver) (interface{}, error) {
		return r.Get("b")
	})
	c.Register("b", Singleton, func(r Resolver) (interface{}, error) {
		return r.Get("a")
	})

	_, err := c.Get("a")
	require.Error(t, err)

	base, ok := err.(*apperr.BaseError)
	require.True(t, ok)
	assert.Equal(t, ErrCircularDependency, base.Code)
	// 错误信息含完整的解析路径
	assert.Contains(t, base.Message, "a -> b -> a")

	// 失败的解析不留下半构造的单例，下一次解析得到同样的错误
	_, err = c.Get("a")
	require.Error(t, err)
}

func TestContainer_SelfDependency(t *testing.T) {
	c := New()

	c.Register("a", Singleton, func(r Resolver) (interface{}, error) {
		return r.Get("a")
	})

	_, err := c.Get("a")
	require.Error(t, err)

	base, ok := err.(*apperr.BaseError)
	require.True(t, ok)
	assert.Equal(t, ErrCircularDependency, base.Code)
	assert.Contains(t, base.Message, "a -> a")
}

func TestContainer_FactoryErrorWrapped(t *testing.T) {
	c := New()

	c.Register("broken", Singleton, func(r Resolver) (interface{}, error) {
		return nil, fmt.Errorf("db unreachable")
	})

	_, err := c.Get("broken")
	require.Error(t, err)

	base, ok := err.(*apperr.BaseError)
	require.True(t, ok)
	assert.Equal(t, ErrFactoryFailed, base.Code)
	assert.Contains(t, err.Error(), "db unreachable")

	// 工厂失败不缓存结果，后续解析重新尝试
	_, err = c.Get("broken")
	assert.Error(t, err)
}

func TestContainer_Override(t *testing.T) {
	c := New()

	c.Register("service", Singleton, func(r Resolver) (interface{}, error) {
		return "real", nil
	})
	c.Override("service", "fake")

	instance, err := c.Get("service")
	require.NoError(t, err)
	assert.Equal(t, "fake", instance)
}

func TestContainer_MustGet(t *testing.T) {
	c := New()
	c.Register("service", Singleton, func(r Resolver) (interface{}, error) {
		return 42, nil
	})

	assert.Equal(t, 42, c.MustGet("service"))
	assert.Panics(t, func() { c.MustGet("missing") })
}

func TestContainer_Registered(t *testing.T) {
	c := New()
	assert.False(t, c.Registered("service"))
	c.Register("service", Transient, func(r Resolver) (interface{}, error) { return nil, nil })
	assert.True(t, c.Registered("service"))
}

func TestContainer_ConcurrentSingletonResolution(t *testing.T) {
	c := New()
	var constructed int

	c.Register("service", Singleton, func(r Resolver) (interface{}, error) {
		constructed++
		return "instance", nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			instance, err := c.Get("service")
			assert.NoError(t, err)
			assert.Equal(t, "instance", instance)
		}()
	}
	wg.Wait()

	// 顶层解析串行化，工厂只运行一次
	assert.Equal(t, 1, constructed)
}
