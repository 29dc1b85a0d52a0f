package runtime

import (
	"sync"
	"sync/atomic"

	"github.com/drblury/widgetbus/internal/runtime/scan"
)

// Scheduler runs fn later, off the caller's stack.
type Scheduler func(fn func())

func goScheduler(fn func()) { go fn() }

// InstanceStore holds the last value emitted for every (instance, attribute)
// slot and fans new values out to the consumers of that slot.
//
// A consumer that registers after a value was emitted receives the cached
// value once through the Scheduler. The replay is dropped when the consumer
// was removed or a newer emit already reached it. A consumer may emit to its
// own slot from inside its callback; the nested value is delivered before the
// outer call returns.
type InstanceStore[T any] struct {
	mu        sync.Mutex
	consumers map[string]map[int]*consumer[T]
	last      map[string]T
	seq       map[string]uint64
	nextID    int
	schedule  Scheduler

	onEmit func()
}

type consumer[T any] struct {
	fn func(T)

	// seen only grows; a delivery runs fn only if it advanced seen.
	seen atomic.Uint64
}

func (c *consumer[T]) deliver(seq uint64, v T) {
	for {
		seen := c.seen.Load()
		if seq <= seen {
			return
		}
		if c.seen.CompareAndSwap(seen, seq) {
			break
		}
	}
	c.fn(v)
}

// NewInstanceStore returns an empty store. A nil schedule runs replays on a
// new goroutine.
func NewInstanceStore[T any](schedule Scheduler) *InstanceStore[T] {
	if schedule == nil {
		schedule = goScheduler
	}
	return &InstanceStore[T]{
		consumers: make(map[string]map[int]*consumer[T]),
		last:      make(map[string]T),
		seq:       make(map[string]uint64),
		schedule:  schedule,
	}
}

// On registers fn for the slot and returns its unregister function.
func (s *InstanceStore[T]) On(instanceID, attrName string, fn func(T)) func() {
	key := scan.AttrKey(instanceID, attrName)
	c := &consumer[T]{fn: fn}

	s.mu.Lock()
	if s.consumers[key] == nil {
		s.consumers[key] = make(map[int]*consumer[T])
	}
	s.nextID++
	id := s.nextID
	s.consumers[key][id] = c
	cached, hasCached := s.last[key]
	seq := s.seq[key]
	s.mu.Unlock()

	if hasCached {
		s.schedule(func() {
			if s.registered(key, id, c) {
				c.deliver(seq, cached)
			}
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if set := s.consumers[key]; set[id] == c {
				delete(set, id)
				if len(set) == 0 {
					delete(s.consumers, key)
				}
			}
		})
	}
}

func (s *InstanceStore[T]) registered(key string, id int, c *consumer[T]) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumers[key][id] == c
}

// Emit caches v for the slot and hands it to every consumer registered at the
// time of the call, on the caller's goroutine.
func (s *InstanceStore[T]) Emit(instanceID, attrName string, v T) {
	key := scan.AttrKey(instanceID, attrName)

	s.mu.Lock()
	s.last[key] = v
	s.seq[key]++
	seq := s.seq[key]
	snapshot := make([]*consumer[T], 0, len(s.consumers[key]))
	for _, c := range s.consumers[key] {
		snapshot = append(snapshot, c)
	}
	onEmit := s.onEmit
	s.mu.Unlock()

	if onEmit != nil {
		onEmit()
	}
	for _, c := range snapshot {
		c.deliver(seq, v)
	}
}

// Last returns the cached value for the slot.
func (s *InstanceStore[T]) Last(instanceID, attrName string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.last[scan.AttrKey(instanceID, attrName)]
	return v, ok
}

// Consumers reports how many consumers the slot has.
func (s *InstanceStore[T]) Consumers(instanceID, attrName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consumers[scan.AttrKey(instanceID, attrName)])
}

// Reset drops every consumer and cached value.
func (s *InstanceStore[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = make(map[string]map[int]*consumer[T])
	s.last = make(map[string]T)
	s.seq = make(map[string]uint64)
}
