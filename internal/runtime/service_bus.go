package runtime

import (
	"context"
	"sort"
	"sync"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
)

// Invoker performs the service call bound to one widget slot.
type Invoker func(ctx context.Context, req any, opts CallOptions) (any, error)

// ServiceBus maps widget slots to the invoker a service binding installed.
type ServiceBus struct {
	mu    sync.RWMutex
	slots map[string]*invokerSlot
}

type invokerSlot struct {
	fn Invoker
}

func NewServiceBus() *ServiceBus {
	return &ServiceBus{slots: make(map[string]*invokerSlot)}
}

// Register installs fn under key, replacing any previous invoker. The returned
// function removes fn only while it is still the installed invoker.
func (b *ServiceBus) Register(key string, fn Invoker) func() {
	slot := &invokerSlot{fn: fn}
	b.mu.Lock()
	b.slots[key] = slot
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.slots[key] == slot {
				delete(b.slots, key)
			}
		})
	}
}

// Call runs the invoker bound to key. An unbound key fails with
// *errors.NoServiceBoundError.
func (b *ServiceBus) Call(ctx context.Context, key string, req any, opts CallOptions) (any, error) {
	b.mu.RLock()
	slot, ok := b.slots[key]
	b.mu.RUnlock()
	if !ok {
		return nil, &errspkg.NoServiceBoundError{Key: key}
	}
	return slot.fn(ctx, req, opts)
}

func (b *ServiceBus) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.slots[key]
	return ok
}

// Keys lists the bound slots in sorted order.
func (b *ServiceBus) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.slots)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
