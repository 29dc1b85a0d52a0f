package runtime

import (
	"context"
	"sort"
	"sync"

	errspkg "github.com/drblury/widgetbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/widgetbus/internal/runtime/logging"
	"github.com/drblury/widgetbus/transport"
)

// SharedTopicRegistry keeps at most one transport subscription and one
// advertisement per topic key, however many bindings use the topic.
type SharedTopicRegistry struct {
	client  transport.Client
	logger  loggingpkg.ServiceLogger
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]*topicEntry
	nextID  int
}

type topicEntry struct {
	topic transport.Topic

	// Guarded by the registry lock.
	sub         transport.Subscription
	subscribing chan struct{}
	advertised  bool
	publishers  int

	// listenerMu guards listeners only, so transport deliveries never wait
	// on the registry lock.
	listenerMu sync.Mutex
	listeners  map[int]transport.Handler
	received   uint64
}

// TopicStats is a point-in-time view of one registry entry.
type TopicStats struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Listeners  int    `json:"listeners"`
	Publishers int    `json:"publishers"`
	Subscribed bool   `json:"subscribed"`
	Advertised bool   `json:"advertised"`
	Received   uint64 `json:"received"`
}

// NewSharedTopicRegistry returns a registry that multiplexes topics over client.
func NewSharedTopicRegistry(client transport.Client, logger loggingpkg.ServiceLogger, metrics *Metrics) *SharedTopicRegistry {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	return &SharedTopicRegistry{
		client:  client,
		logger:  logger,
		metrics: metrics,
		entries: make(map[string]*topicEntry),
	}
}

func (r *SharedTopicRegistry) entryLocked(topic transport.Topic) *topicEntry {
	key := topic.Key()
	e, ok := r.entries[key]
	if !ok {
		e = &topicEntry{topic: topic, listeners: make(map[int]transport.Handler)}
		r.entries[key] = e
		r.metrics.topicAdded()
		r.logger.Debug("Topic entry created", loggingpkg.LogFields{"topic": topic.Name, "type": topic.Type})
	}
	return e
}

func (e *topicEntry) dispatch(msg any) {
	e.listenerMu.Lock()
	e.received++
	snapshot := make([]transport.Handler, 0, len(e.listeners))
	for _, fn := range e.listeners {
		snapshot = append(snapshot, fn)
	}
	e.listenerMu.Unlock()

	for _, fn := range snapshot {
		fn(msg)
	}
}

func (e *topicEntry) listenerCount() int {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	return len(e.listeners)
}

// AddListener registers fn for every message on topic and returns its
// removal function. The first listener of a topic opens the transport
// subscription. A listener arriving while that subscribe is in flight waits
// for it and subscribes itself if it failed. A failed subscribe removes the
// listener again and returns the error.
func (r *SharedTopicRegistry) AddListener(ctx context.Context, topic transport.Topic, fn transport.Handler) (func(), error) {
	if topic.Name == "" {
		return nil, errspkg.ErrTopicRequired
	}

	r.mu.Lock()
	e := r.entryLocked(topic)
	r.nextID++
	id := r.nextID
	e.listenerMu.Lock()
	e.listeners[id] = fn
	e.listenerMu.Unlock()
	r.metrics.listenerAdded()
	r.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() { r.removeListener(e, id) })
	}

	if err := r.ensureSubscribed(ctx, e); err != nil {
		remove()
		return nil, err
	}
	return remove, nil
}

// ensureSubscribed returns once e holds a transport subscription or has been
// released. At most one subscribe per entry is in flight.
func (r *SharedTopicRegistry) ensureSubscribed(ctx context.Context, e *topicEntry) error {
	topic := e.topic
	for {
		r.mu.Lock()
		if e.sub != nil || r.entries[topic.Key()] != e {
			r.mu.Unlock()
			return nil
		}
		if inflight := e.subscribing; inflight != nil {
			r.mu.Unlock()
			select {
			case <-inflight:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		done := make(chan struct{})
		e.subscribing = done
		r.mu.Unlock()

		sub, err := r.client.Subscribe(ctx, topic, func(msg any) {
			r.metrics.messageReceived(topic.Name)
			e.dispatch(msg)
		})

		r.mu.Lock()
		e.subscribing = nil
		close(done)
		if err != nil {
			r.mu.Unlock()
			r.logger.Error("Failed to subscribe", err, loggingpkg.LogFields{"topic": topic.Name, "type": topic.Type})
			return err
		}
		if r.entries[topic.Key()] != e {
			// Every user left while the subscribe was in flight.
			r.mu.Unlock()
			r.unsubscribe(topic, sub)
			return nil
		}
		e.sub = sub
		r.mu.Unlock()

		r.logger.Debug("Subscribed to topic", loggingpkg.LogFields{"topic": topic.Name, "type": topic.Type})
		return nil
	}
}

func (r *SharedTopicRegistry) removeListener(e *topicEntry, id int) {
	e.listenerMu.Lock()
	_, ok := e.listeners[id]
	delete(e.listeners, id)
	e.listenerMu.Unlock()
	if !ok {
		return
	}
	r.metrics.listenerRemoved()
	r.releaseIfUnused(e)
}

// releaseIfUnused drops the entry once it has neither listeners nor
// publishers, then tears down its subscription and advertisement.
func (r *SharedTopicRegistry) releaseIfUnused(e *topicEntry) {
	r.mu.Lock()
	key := e.topic.Key()
	if r.entries[key] != e || e.publishers > 0 || e.listenerCount() > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, key)
	sub, advertised := e.sub, e.advertised
	e.sub, e.advertised = nil, false
	r.mu.Unlock()

	r.metrics.topicRemoved()
	if sub != nil {
		r.unsubscribe(e.topic, sub)
	}
	if advertised {
		if err := r.client.Unadvertise(context.Background(), e.topic); err != nil {
			r.logger.Error("Failed to unadvertise", err, loggingpkg.LogFields{"topic": e.topic.Name, "type": e.topic.Type})
		}
	}
	r.logger.Debug("Topic entry released", loggingpkg.LogFields{"topic": e.topic.Name, "type": e.topic.Type})
}

func (r *SharedTopicRegistry) unsubscribe(topic transport.Topic, sub transport.Subscription) {
	if err := sub.Unsubscribe(); err != nil {
		r.logger.Error("Failed to unsubscribe", err, loggingpkg.LogFields{"topic": topic.Name, "type": topic.Type})
	}
}

// TopicPublisher publishes to one shared topic. Dispose releases it.
type TopicPublisher struct {
	registry *SharedTopicRegistry
	entry    *topicEntry
	once     sync.Once
}

// Publisher returns a handle for publishing on topic. The first handle of a
// topic advertises it; advertise failures are logged and publishing is still
// attempted.
func (r *SharedTopicRegistry) Publisher(ctx context.Context, topic transport.Topic) *TopicPublisher {
	r.mu.Lock()
	e := r.entryLocked(topic)
	e.publishers++
	needAd := !e.advertised
	if needAd {
		e.advertised = true
	}
	r.mu.Unlock()

	if needAd {
		if err := r.client.Advertise(ctx, topic); err != nil {
			r.logger.Error("Failed to advertise", err, loggingpkg.LogFields{"topic": topic.Name, "type": topic.Type})
			r.mu.Lock()
			if r.entries[topic.Key()] == e {
				e.advertised = false
			}
			r.mu.Unlock()
		}
	}
	return &TopicPublisher{registry: r, entry: e}
}

// Topic returns the topic this handle publishes on.
func (p *TopicPublisher) Topic() transport.Topic {
	return p.entry.topic
}

// Publish sends msg. Transport failures are logged, never returned.
func (p *TopicPublisher) Publish(ctx context.Context, msg any) {
	r := p.registry
	err := r.client.Publish(ctx, p.entry.topic, msg)
	r.metrics.published(p.entry.topic.Name, err)
	if err != nil {
		r.logger.Error("Failed to publish", err, loggingpkg.LogFields{"topic": p.entry.topic.Name, "type": p.entry.topic.Type})
	}
}

// Dispose releases the handle. The last user of a topic unadvertises it.
func (p *TopicPublisher) Dispose() {
	p.once.Do(func() {
		r := p.registry
		r.mu.Lock()
		p.entry.publishers--
		r.mu.Unlock()
		r.releaseIfUnused(p.entry)
	})
}

// Has reports whether topic currently has an entry.
func (r *SharedTopicRegistry) Has(topic transport.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[topic.Key()]
	return ok
}

// Stats lists every entry sorted by topic key.
func (r *SharedTopicRegistry) Stats() []TopicStats {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]TopicStats, 0, len(keys))
	for _, k := range keys {
		e := r.entries[k]
		e.listenerMu.Lock()
		out = append(out, TopicStats{
			Name:       e.topic.Name,
			Type:       e.topic.Type,
			Listeners:  len(e.listeners),
			Publishers: e.publishers,
			Subscribed: e.sub != nil,
			Advertised: e.advertised,
			Received:   e.received,
		})
		e.listenerMu.Unlock()
	}
	r.mu.Unlock()
	return out
}
