// internal/di/container.go
package di

import (
	"fmt"
	"sort"
	"sync"
)

// Container 按名称保存服务实例
type Container struct {
	services map[string]interface{}
	mutex    sync.RWMutex
}

// 全局容器实例（单例模式）
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建一个新的依赖注入容器
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 获取全局容器实例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 在容器中注册一个服务实例，同名服务会被替换
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// Get 从容器中获取一个服务实例，不存在时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.services[name]
}

// Has 检查容器中是否存在指定名称的服务
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// Clear 清空容器中的所有服务
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]interface{})
}

// GetNames 获取所有已注册服务的名称（已排序）
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 按名称取出服务并断言为 T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("服务未注册: %s", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("服务 %s 类型不匹配: %T", name, service)
	}
	return typed, nil
}
