package pipeline

import (
	"fmt"
	"net/http"
	"sync"
)

// Container supplies pre-built stage instances. When a container has an
// instance for a stage name, it is used instead of the registered factory.
type Container interface {
	Has(name string) bool
	Get(name string) (any, error)
}

// Stage is a stage instance that wraps the next handler.
type Stage interface {
	Wrap(next http.Handler) http.Handler
}

// MapContainer is a Container backed by a map.
type MapContainer struct {
	mu        sync.RWMutex
	instances map[string]any
}

// NewContainer creates an empty MapContainer.
func NewContainer() *MapContainer {
	return &MapContainer{instances: make(map[string]any)}
}

// Provide stores an instance for name. Accepted instances are Middleware,
// func(http.Handler) http.Handler and Stage.
func (c *MapContainer) Provide(name string, instance any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[name] = instance
}

// Has reports whether an instance exists for name.
func (c *MapContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.instances[name]
	return ok
}

// Get returns the instance stored for name.
func (c *MapContainer) Get(name string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	instance, ok := c.instances[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	return instance, nil
}

// asMiddleware converts a container instance into a Middleware.
func asMiddleware(name string, instance any) (Middleware, error) {
	switch v := instance.(type) {
	case Middleware:
		return v, nil
	case func(http.Handler) http.Handler:
		return v, nil
	case Stage:
		return v.Wrap, nil
	default:
		return nil, fmt.Errorf("%w: %s is %T", ErrInvalidStage, name, instance)
	}
}
