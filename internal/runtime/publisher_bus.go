package runtime

import (
	"context"
	"sync"
)

// PublishFunc publishes a widget value through one binding.
type PublishFunc func(ctx context.Context, value any)

// PublisherBus maps widget slots to the publish function a publisher binding
// installed.
type PublisherBus struct {
	mu    sync.RWMutex
	slots map[string]*publishSlot
}

type publishSlot struct {
	fn PublishFunc
}

func NewPublisherBus() *PublisherBus {
	return &PublisherBus{slots: make(map[string]*publishSlot)}
}

// Register installs fn under key, replacing any previous function. The
// returned function removes fn only while it is still installed.
func (b *PublisherBus) Register(key string, fn PublishFunc) func() {
	slot := &publishSlot{fn: fn}
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

// Get returns the function bound to key.
func (b *PublisherBus) Get(key string) (PublishFunc, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	slot, ok := b.slots[key]
	if !ok {
		return nil, false
	}
	return slot.fn, true
}

// Keys lists the bound slots in sorted order.
func (b *PublisherBus) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return sortedKeys(b.slots)
}
